package fiscal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/classifier"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// forbiddenTopic materia que la CC-e no puede corregir (art. 7º §1º-A Conv. S/N).
type forbiddenTopic struct {
	keywords []string // en minúsculas y sin acentos
	warning  string
}

var forbiddenTopics = []forbiddenTopic{
	{
		keywords: []string{"base de calculo", "aliquota", "valor", "quantidade", "preco", "imposto", "icms", "ipi", "pis", "cofins"},
		warning:  "La CC-e no corrige variables que determinan el impuesto (base de cálculo, alícuota, cantidad o valor); use cancelación o nota complementaria",
	},
	{
		keywords: []string{"cnpj", "cpf", "razao social", "inscricao estadual", "remetente", "troca de destinatario"},
		warning:  "La CC-e no puede cambiar el emisor ni el destinatario; solo datos de registro que no alteren la parte",
	},
	{
		keywords: []string{"data de emissao", "data de saida", "data da emissao", "data da saida"},
		warning:  "La CC-e no corrige la fecha de emisión ni la de salida",
	},
}

// CorrectionGuidance avisos sobre materias que la CC-e no puede corregir.
// Son orientación: la SEFAZ no valida el contenido del texto.
func CorrectionGuidance(text string) []string {
	folded := classifier.Fold(text)
	var warnings []string
	for _, t := range forbiddenTopics {
		for _, kw := range t.keywords {
			if strings.Contains(folded, kw) {
				warnings = append(warnings, t.warning)
				break
			}
		}
	}
	return warnings
}

// AddCorrection registra una carta de corrección (evento 110110).
//
// La secuencia se calcula como max+1 dentro de la sección exclusiva del
// documento y se reserva en estado pending antes del envío. Un rechazo
// libera la reserva; un resultado desconocido la conserva y bloquea nuevas
// cartas hasta ReconcileCorrections.
func (m *Manager) AddCorrection(ctx context.Context, tenantID, documentID, text string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusAuthorized {
		return businessFailure(fmt.Errorf("%w: la CC-e requiere authorized, estado actual %s", domain.ErrInvalidState, doc.Status), nil), nil
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < entity.MinCorrectionTextChars || n > entity.MaxCorrectionTextChars {
		return businessFailure(domain.ErrCorrectionLength, nil), nil
	}
	warnings := CorrectionGuidance(text)

	letters, err := m.letters.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: listar cartas: %w", err)
	}
	// Fuera de la sección exclusiva una carta pending puede ser la de otra
	// llamada en curso; aquí solo se corta por el límite.
	if countAuthorized(letters) >= entity.MaxCorrectionLetters {
		return withWarnings(businessFailure(domain.ErrCorrectionLimit, nil), warnings), nil
	}

	unlock, err := m.lock(ctx, documentID, true)
	if err != nil {
		return guardFailure(err, nil)
	}
	defer unlock()

	// ═══ 1. Revalidar bajo la sección exclusiva ═══
	doc, err = m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusAuthorized {
		return businessFailure(fmt.Errorf("%w: el documento cambió a %s", domain.ErrInvalidState, doc.Status), nil), nil
	}
	letters, err = m.letters.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: listar cartas: %w", err)
	}
	if err := correctionAllowed(letters); err != nil {
		return withWarnings(businessFailure(err, nil), warnings), nil
	}

	// ═══ 2. Reservar la secuencia ═══
	now := m.now()
	letter := &entity.CorrectionLetter{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Sequence:   maxSequence(letters) + 1,
		Text:       text,
		Status:     entity.CorrectionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.letters.Create(ctx, letter); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return businessFailure(fmt.Errorf("%w: secuencia %d ya reservada", domain.ErrConflict, letter.Sequence), nil), nil
		}
		return nil, fmt.Errorf("fiscal: reservar carta: %w", err)
	}

	logger := m.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).
		Str("operation", "correction").Int("sequence", letter.Sequence).Logger()

	// ═══ 3. Enviar el evento ═══
	outcome, err := m.events.SubmitEvent(ctx, doc, sefaz.Event{
		Type:        nfe.EventTypeCorrection,
		AccessKey:   doc.AccessKey,
		Sequence:    letter.Sequence,
		Environment: m.cfg.Environment,
		OccurredAt:  now,
		Correction:  text,
	})
	if err != nil {
		m.dropReservation(ctx, letter, logger)
		res, err := m.eventSetupFailure(err, logger)
		return withWarnings(res, warnings), err
	}
	if outcome.Result == nil {
		logger.Warn().Str("error", outcome.TransportError).Msg("CC-e con resultado desconocido, queda pendiente de conciliación")
		res := transportFailure(fmt.Sprintf("resultado de la CC-e %d desconocido; concilie antes de enviar otra: %s",
			letter.Sequence, outcome.TransportError), letter)
		return withWarnings(res, warnings), nil
	}

	// ═══ 4. Aplicar el resultado ═══
	ev := outcome.Result
	if !nfe.EventAccepted(ev.Status) {
		m.dropReservation(ctx, letter, logger)
		logger.Warn().Str("status", ev.Status).Str("reason", ev.Reason).Msg("CC-e rechazada")
		return withWarnings(authorityRejection(ev.Status, ev.Reason, nil), warnings), nil
	}

	letter.Status = entity.CorrectionAuthorized
	letter.Protocol = ev.Protocol
	at := ev.RegisteredAt
	if at.IsZero() {
		at = m.now()
	}
	letter.RegisteredAt = &at
	letter.UpdatedAt = m.now()
	if err := m.letters.Update(ctx, letter); err != nil {
		return nil, fmt.Errorf("fiscal: persistir CC-e autorizada: %w", err)
	}
	logger.Info().Str("protocol", ev.Protocol).Msg("CC-e registrada")
	return ok(letter, warnings...), nil
}

// ReconcileCorrections resuelve las CC-e pending consultando la NF-e en la
// SEFAZ: las registradas allí pasan a authorized y el resto se descarta. Si la
// consulta muestra la NF-e cancelada, la cancelación también se aplica.
func (m *Manager) ReconcileCorrections(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if !doc.HasAccessKey() {
		return businessFailure(fmt.Errorf("%w: el documento no está autorizado", domain.ErrInvalidState), nil), nil
	}

	unlock, err := m.lock(ctx, documentID, false)
	if err != nil {
		return guardFailure(err, nil)
	}
	defer unlock()

	doc, err = m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	letters, err := m.letters.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: listar cartas: %w", err)
	}
	var pending []*entity.CorrectionLetter
	for _, l := range letters {
		if l.Status == entity.CorrectionPending {
			pending = append(pending, l)
		}
	}
	if len(pending) == 0 {
		return ok(sortedLetters(letters)), nil
	}

	cred, res, err := m.credential(ctx, tenantID)
	if res != nil || err != nil {
		return res, err
	}
	msg, err := sefaz.BuildQueryDocument(m.cfg.Environment, doc.AccessKey)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil), nil
	}

	logger := m.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).
		Str("operation", "reconcile_corrections").Logger()

	resp := m.call(ctx, sefaz.OpQueryDocument, msg, cred)
	if !resp.Success {
		logger.Warn().Str("error", resp.Error).Msg("conciliación sin respuesta de la SEFAZ")
		return transportFailure(resp.Error, nil), nil
	}
	parsed := sefaz.ParseAuthorizationResponse(resp.Body)
	if parsed == nil {
		return transportFailure("respuesta de la SEFAZ con formato inesperado", nil), nil
	}
	if doc.Status == entity.StatusAuthorized {
		if _, err := m.applyRegisteredCancellation(ctx, doc, parsed, logger); err != nil {
			return nil, err
		}
	}

	kept :=make([]*entity.CorrectionLetter, 0, len(letters))
	for _, l := range letters {
		if l.Status != entity.CorrectionPending {
			kept = append(kept, l)
			continue
		}
		ev := registeredCorrection(parsed.Events, l.Sequence)
		if ev == nil {
			if err := m.letters.Delete(ctx, l.ID); err != nil {
				return nil, fmt.Errorf("fiscal: descartar CC-e %d: %w", l.Sequence, err)
			}
			logger.Info().Int("sequence", l.Sequence).Msg("CC-e no registrada en la SEFAZ: reserva descartada")
			continue
		}
		at := ev.RegisteredAt
		if at.IsZero() {
			at = m.now()
		}
		l.Status = entity.CorrectionAuthorized
		l.Protocol = ev.Protocol
		l.RegisteredAt = &at
		l.UpdatedAt = m.now()
		if err := m.letters.Update(ctx, l); err != nil {
			return nil, fmt.Errorf("fiscal: confirmar CC-e %d: %w", l.Sequence, err)
		}
		logger.Info().Int("sequence", l.Sequence).Str("protocol", ev.Protocol).Msg("CC-e confirmada por la SEFAZ")
		kept = append(kept, l)
	}
	return ok(sortedLetters(kept)), nil
}

// ListCorrections cartas del documento ordenadas por secuencia.
func (m *Manager) ListCorrections(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	letters, err := m.letters.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: listar cartas: %w", err)
	}
	return ok(sortedLetters(letters)), nil
}

func (m *Manager) dropReservation(ctx context.Context, letter *entity.CorrectionLetter, logger zerolog.Logger) {
	if err := m.letters.Delete(ctx, letter.ID); err != nil {
		logger.Error().Err(err).Msg("no se pudo liberar la reserva de la CC-e")
	}
}

// correctionAllowed bajo la sección exclusiva: una carta pending es un
// resultado desconocido que hay que conciliar antes.
func correctionAllowed(letters []*entity.CorrectionLetter) error {
	for _, l := range letters {
		if l.Status == entity.CorrectionPending {
			return fmt.Errorf("%w: secuencia %d", domain.ErrCorrectionPending, l.Sequence)
		}
	}
	if len(letters) >= entity.MaxCorrectionLetters {
		return domain.ErrCorrectionLimit
	}
	return nil
}

func countAuthorized(letters []*entity.CorrectionLetter) int {
	n := 0
	for _, l := range letters {
		if l.Status == entity.CorrectionAuthorized {
			n++
		}
	}
	return n
}

func maxSequence(letters []*entity.CorrectionLetter) int {
	highest := 0
	for _, l := range letters {
		if l.Sequence > highest {
			highest = l.Sequence
		}
	}
	return highest
}

func registeredCorrection(events []sefaz.RegisteredEvent, seq int) *sefaz.RegisteredEvent {
	for i := range events {
		ev := &events[i]
		if ev.EventType == nfe.EventTypeCorrection && ev.Sequence == seq && nfe.EventAccepted(ev.Status) {
			return ev
		}
	}
	return nil
}

func sortedLetters(letters []*entity.CorrectionLetter) []*entity.CorrectionLetter {
	out := append([]*entity.CorrectionLetter(nil), letters...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func withWarnings(res *Result, warnings []string) *Result {
	if res != nil && len(warnings) > 0 {
		res.Warnings = append(res.Warnings, warnings...)
	}
	return res
}
