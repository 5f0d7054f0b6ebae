package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Config parámetros del motor de emisión.
type Config struct {
	Environment string // tpAmb: "1" producción, "2" homologación
	UFCode      string // cUF usado en la consulta de status del servicio
	Endpoints   sefaz.Endpoints
	Timeout     time.Duration // timeout por llamada SOAP

	GuardTTL     time.Duration // vida máxima de la marca "en curso"
	GuardWait    time.Duration // espera máxima de una CC-e por la marca
	CancelWindow time.Duration // plazo legal de cancelación desde la autorización

	// AlreadyProcessedCodes cStat que indican "ya procesado" en la SEFAZ de
	// destino. No se tratan como rechazo: el documento sigue pending y se
	// consulta. Vacío por defecto.
	AlreadyProcessedCodes []string

	PublicBaseURL string // base de DocumentURL y XMLURL
}

func (c Config) withDefaults() Config {
	if c.Environment == "" {
		c.Environment = "2"
	}
	if c.Timeout <= 0 {
		c.Timeout = sefaz.DefaultTimeout
	}
	if c.GuardTTL <= 0 {
		c.GuardTTL = 2 * c.Timeout
	}
	if c.GuardWait <= 0 {
		c.GuardWait = 30 * time.Second
	}
	if c.CancelWindow <= 0 {
		c.CancelWindow = 24 * time.Hour
	}
	return c
}

// Deps puertos que usa el Manager.
type Deps struct {
	Documents   repository.FiscalDocumentRepository
	Corrections repository.CorrectionLetterRepository
	Guard       ports.SubmissionGuard
	Credentials ports.CredentialSource
	Transport   ports.Transport
	Events      ports.EventSubmitter
	DANFE       ports.DANFERenderer
}

// Manager ciclo de vida de la NF-e y de sus cartas de corrección.
//
//	draft --submit--> pending --cStat 100--> authorized --cancel--> canceled
//	                  pending --rechazo--> rejected --duplicateAsNew--> (nuevo draft)
//	                  pending --falla de transporte--> pending (consulta programada)
//	                  pending --217 en consulta--> draft
//
// Un documento pending nunca se reenvía: un reenvío sin consultar antes puede
// emitir dos veces la misma operación, y eso no tiene vuelta atrás.
type Manager struct {
	docs      repository.FiscalDocumentRepository
	letters   repository.CorrectionLetterRepository
	guard     ports.SubmissionGuard
	creds     ports.CredentialSource
	transport ports.Transport
	events    ports.EventSubmitter
	danfe     ports.DANFERenderer
	poller    ports.PollScheduler

	cfg              Config
	alreadyProcessed map[string]bool
	log              zerolog.Logger
	now              func() time.Time
}

// NewManager construye el Manager.
func NewManager(deps Deps, cfg Config, log zerolog.Logger) *Manager {
	cfg = cfg.withDefaults()
	ap := make(map[string]bool, len(cfg.AlreadyProcessedCodes))
	for _, c := range cfg.AlreadyProcessedCodes {
		if c = strings.TrimSpace(c); c != "" {
			ap[c] = true
		}
	}
	return &Manager{
		docs:             deps.Documents,
		letters:          deps.Corrections,
		guard:            deps.Guard,
		creds:            deps.Credentials,
		transport:        deps.Transport,
		events:           deps.Events,
		danfe:            deps.DANFE,
		cfg:              cfg,
		alreadyProcessed: ap,
		log:              log.With().Str("component", "fiscal_manager").Logger(),
		now:              time.Now,
	}
}

// SetPollScheduler conecta el programador de consultas (se crea después del Manager).
func (m *Manager) SetPollScheduler(p ports.PollScheduler) {
	m.poller = p
}

// SetClock reemplaza el reloj (tests).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// ── Envío ─────────────────────────────────────────────────────────────────────

// Submit envía un documento draft en lote síncrono.
func (m *Manager) Submit(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusDraft {
		return businessFailure(fmt.Errorf("%w: submit requiere draft, estado actual %s", domain.ErrInvalidState, doc.Status), doc), nil
	}

	unlock, err := m.lock(ctx, documentID, false)
	if err != nil {
		return guardFailure(err, doc)
	}
	defer unlock()

	// Releer bajo la marca: otro proceso pudo enviarlo entre la lectura y el lock.
	doc, err = m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusDraft {
		return businessFailure(fmt.Errorf("%w: el documento ya fue enviado (%s)", domain.ErrInvalidState, doc.Status), doc), nil
	}
	if _, err := payloadIdentity(doc.PayloadXML, doc.Series, doc.Number); err != nil {
		return businessFailure(err, doc), nil
	}

	cred, res, err := m.credential(ctx, tenantID)
	if res != nil || err != nil {
		return res, err
	}

	batchID := sefaz.NewBatchID()
	msg, err := sefaz.BuildSubmitBatch(batchID, doc.PayloadXML)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), doc), nil
	}

	now := m.now()
	if err := m.transition(doc, entity.StatusPending); err != nil {
		return nil, err
	}
	doc.BatchID = batchID
	doc.ReceiptNumber = ""
	doc.SubmittedAt = &now
	doc.AttemptCount++
	doc.LastTransportError = ""
	doc.UpdatedAt = now
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("fiscal: persistir pending: %w", err)
	}

	logger := m.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).
		Str("operation", sefaz.OpSubmitBatch.String()).Logger()
	logger.Info().Str("batch_id", batchID).Msg("enviando lote a la SEFAZ")

	resp := m.call(ctx, sefaz.OpSubmitBatch, msg, cred)
	if !resp.Success {
		return m.unknownOutcome(ctx, doc, resp.Error, logger)
	}
	parsed := sefaz.ParseAuthorizationResponse(resp.Body)
	if parsed == nil {
		return m.unknownOutcome(ctx, doc, "respuesta de la SEFAZ con formato inesperado", logger)
	}
	return m.applyAuthorization(ctx, doc, parsed, false, logger)
}

// ── Consulta ──────────────────────────────────────────────────────────────────

// PollStatus consulta el resultado de un documento pending. Idempotente:
// usa el recibo si existe y, si no, la chave declarada en el payload.
func (m *Manager) PollStatus(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusPending {
		return businessFailure(fmt.Errorf("%w: poll requiere pending, estado actual %s", domain.ErrInvalidState, doc.Status), doc), nil
	}

	unlock, err := m.lock(ctx, documentID, false)
	if err != nil {
		return guardFailure(err, doc)
	}
	defer unlock()

	doc, err = m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusPending {
		return businessFailure(fmt.Errorf("%w: el documento ya salió de pending (%s)", domain.ErrInvalidState, doc.Status), doc), nil
	}

	cred, res, err := m.credential(ctx, tenantID)
	if res != nil || err != nil {
		return res, err
	}

	logger := m.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).Logger()
	if doc.ReceiptNumber == "" {
		return m.pollByKey(ctx, doc, cred, logger)
	}

	msg, err := sefaz.BuildQueryBatch(m.cfg.Environment, doc.ReceiptNumber)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), doc), nil
	}
	batchLogger := logger.With().Str("operation", sefaz.OpQueryBatch.String()).Logger()
	resp := m.call(ctx, sefaz.OpQueryBatch, msg, cred)
	if !resp.Success {
		return m.recordTransportError(ctx, doc, resp.Error, batchLogger)
	}
	parsed := sefaz.ParseAuthorizationResponse(resp.Body)
	if parsed == nil {
		return m.recordTransportError(ctx, doc, "respuesta de la SEFAZ con formato inesperado", batchLogger)
	}
	if parsed.BatchStatus == nfe.StatusBatchNotFound {
		// Un lote que la SEFAZ ya no encuentra no dice nada del documento.
		batchLogger.Warn().Str("receipt", doc.ReceiptNumber).Msg("lote no localizado: se consulta por chave")
		doc.ReceiptNumber = ""
		return m.pollByKey(ctx, doc, cred, logger)
	}
	return m.applyAuthorization(ctx, doc, parsed, false, batchLogger)
}

// pollByKey consulta el documento (consSitNFe) por la chave declarada en el payload.
func (m *Manager) pollByKey(ctx context.Context, doc *entity.FiscalDocument, cred *certificate.Credential, logger zerolog.Logger) (*Result, error) {
	logger = logger.With().Str("operation", sefaz.OpQueryDocument.String()).Logger()
	key, err := sefaz.IntendedAccessKey(doc.PayloadXML)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrNoReconciliationPath, err), doc), nil
	}
	msg, err := sefaz.BuildQueryDocument(m.cfg.Environment, key)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), doc), nil
	}
	resp := m.call(ctx, sefaz.OpQueryDocument, msg, cred)
	if !resp.Success {
		return m.recordTransportError(ctx, doc, resp.Error, logger)
	}
	parsed := sefaz.ParseAuthorizationResponse(resp.Body)
	if parsed == nil {
		return m.recordTransportError(ctx, doc, "respuesta de la SEFAZ con formato inesperado", logger)
	}
	return m.applyAuthorization(ctx, doc, parsed, true, logger)
}

// applyAuthorization aplica un resultado definitivo o deja el documento pending.
func (m *Manager) applyAuthorization(ctx context.Context, doc *entity.FiscalDocument, parsed *sefaz.AutorizacaoResult, byKey bool, logger zerolog.Logger) (*Result, error) {
	logger = logger.With().Str("status", parsed.Status).Logger()
	switch {
	case parsed.Status == nfe.StatusAuthorized:
		return m.authorize(ctx, doc, parsed, logger)

	case m.alreadyProcessed[parsed.Status]:
		logger.Warn().Str("reason", parsed.Reason).Msg("cStat de documento ya procesado: se consulta en vez de rechazar")
		return m.keepPending(ctx, doc, parsed.ReceiptNumber,
			fmt.Sprintf("La SEFAZ informó [%s] %s; se consultará el protocolo", parsed.Status, parsed.Reason))

	case isStillProcessing(parsed):
		logger.Info().Str("receipt", parsed.ReceiptNumber).Msg("lote en procesamiento")
		return m.keepPending(ctx, doc, parsed.ReceiptNumber,
			"La SEFAZ aún procesa el lote; el estado se consultará automáticamente")

	case byKey && parsed.Status == nfe.StatusDocumentNotFound:
		if err := m.transition(doc, entity.StatusDraft); err != nil {
			return nil, err
		}
		doc.BatchID = ""
		doc.ReceiptNumber = ""
		doc.SubmittedAt = nil
		doc.LastTransportError = ""
		doc.UpdatedAt = m.now()
		if err := m.docs.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("fiscal: volver a draft: %w", err)
		}
		logger.Warn().Msg("la SEFAZ no registra el documento: vuelve a draft")
		return ok(doc, "La SEFAZ no registra el documento; volvió a borrador para revisión"), nil

	default:
		if err := m.transition(doc, entity.StatusRejected); err != nil {
			return nil, err
		}
		doc.RejectionCode = parsed.Status
		doc.RejectionReason = parsed.Reason
		doc.LastTransportError = ""
		doc.UpdatedAt = m.now()
		if err := m.docs.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("fiscal: persistir rechazo: %w", err)
		}
		logger.Warn().Str("reason", parsed.Reason).Msg("documento rechazado")
		return authorityRejection(parsed.Status, parsed.Reason, doc), nil
	}
}

// isStillProcessing 103/105, o 104 sin protNFe (lote procesado sin resultado del documento).
func isStillProcessing(r *sefaz.AutorizacaoResult) bool {
	if nfe.BatchStillProcessing(r.Status) {
		return true
	}
	return r.Status == nfe.StatusBatchProcessed && !r.HasProtocol()
}

func (m *Manager) authorize(ctx context.Context, doc *entity.FiscalDocument, parsed *sefaz.AutorizacaoResult, logger zerolog.Logger) (*Result, error) {
	key, err := authorizedKey(doc, parsed)
	if err != nil {
		return m.keepPendingWithError(ctx, doc, "autorización sin chave de acceso válida: "+err.Error(), logger)
	}

	at := parsed.AuthorizedAt
	if at.IsZero() {
		at = m.now()
	}
	if err := m.transition(doc, entity.StatusAuthorized); err != nil {
		return nil, err
	}
	doc.AccessKey = key
	doc.ProtocolNumber = parsed.ProtocolNumber
	doc.AuthorizedAt = &at
	if parsed.HasProtocol() {
		doc.AuthorizedXML = sefaz.BuildNFeProc(doc.PayloadXML, parsed.ProtocolXML)
	}
	doc.DocumentURL, doc.XMLURL = m.documentURLs(doc.ID)
	doc.RejectionCode = ""
	doc.RejectionReason = ""
	doc.LastTransportError = ""
	doc.UpdatedAt = m.now()
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("fiscal: persistir autorización: %w", err)
	}
	logger.Info().Str("protocol", doc.ProtocolNumber).Str("access_key", key).Msg("documento autorizado")
	return ok(doc), nil
}

// authorizedKey chave del protocolo; debe coincidir con la del payload.
func authorizedKey(doc *entity.FiscalDocument, parsed *sefaz.AutorizacaoResult) (string, error) {
	intended, err := sefaz.IntendedAccessKey(doc.PayloadXML)
	if nfe.ValidateAccessKey(parsed.AccessKey) != nil {
		return intended, err
	}
	key := nfe.NormalizeAccessKey(parsed.AccessKey)
	if err == nil && key != intended {
		return "", fmt.Errorf("la SEFAZ devolvió la chave %s y el payload declara %s", key, intended)
	}
	return key, nil
}

func (m *Manager) keepPending(ctx context.Context, doc *entity.FiscalDocument, receipt, warning string) (*Result, error) {
	if receipt != "" {
		doc.ReceiptNumber = receipt
	}
	doc.UpdatedAt = m.now()
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("fiscal: persistir pending: %w", err)
	}
	m.schedulePoll(doc)
	return ok(doc, warning), nil
}

// unknownOutcome falla de transporte durante el envío: el lote pudo haber
// llegado, así que el documento queda pending y se consulta.
func (m *Manager) unknownOutcome(ctx context.Context, doc *entity.FiscalDocument, msg string, logger zerolog.Logger) (*Result, error) {
	return m.keepPendingWithError(ctx, doc, msg, logger)
}

func (m *Manager) keepPendingWithError(ctx context.Context, doc *entity.FiscalDocument, msg string, logger zerolog.Logger) (*Result, error) {
	res, err := m.recordTransportError(ctx, doc, msg, logger)
	if err != nil {
		return nil, err
	}
	m.schedulePoll(doc)
	return res, nil
}

func (m *Manager) recordTransportError(ctx context.Context, doc *entity.FiscalDocument, msg string, logger zerolog.Logger) (*Result, error) {
	doc.LastTransportError = msg
	doc.UpdatedAt = m.now()
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("fiscal: registrar error de transporte: %w", err)
	}
	logger.Warn().Str("error", msg).Msg("resultado desconocido, el documento sigue pending")
	return transportFailure("resultado desconocido, se consultará el estado antes de cualquier reintento: "+msg, doc), nil
}

func (m *Manager) schedulePoll(doc *entity.FiscalDocument) {
	if m.poller != nil {
		m.poller.Schedule(doc.TenantID, doc.ID)
	}
}

// ── Cancelación ───────────────────────────────────────────────────────────────

// Cancel registra el evento 110111 de un documento autorizado.
func (m *Manager) Cancel(ctx context.Context, tenantID, documentID, reason string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusAuthorized {
		return businessFailure(fmt.Errorf("%w: cancel requiere authorized, estado actual %s", domain.ErrInvalidState, doc.Status), doc), nil
	}
	if doc.CancelPending() {
		return businessFailure(domain.ErrCancelPending, doc), nil
	}
	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n < nfe.MinCancelReasonChars || n > nfe.MaxCancelReasonChars {
		return businessFailure(domain.ErrCancelReasonLength, doc), nil
	}
	now := m.now()
	if doc.AuthorizedAt != nil && now.Sub(*doc.AuthorizedAt) > m.cfg.CancelWindow {
		return businessFailure(domain.ErrCancelWindowExpired, doc), nil
	}

	unlock, err := m.lock(ctx, documentID, false)
	if err != nil {
		return guardFailure(err, doc)
	}
	defer unlock()

	doc, err = m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusAuthorized {
		return businessFailure(fmt.Errorf("%w: el documento cambió a %s", domain.ErrInvalidState, doc.Status), doc), nil
	}
	if doc.CancelPending() {
		return businessFailure(domain.ErrCancelPending, doc), nil
	}

	logger := m.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).
		Str("operation", "cancel").Logger()

	outcome, err := m.events.SubmitEvent(ctx, doc, sefaz.Event{
		Type:          nfe.EventTypeCancellation,
		AccessKey:     doc.AccessKey,
		Sequence:      1,
		Environment:   m.cfg.Environment,
		OccurredAt:    now,
		Protocol:      doc.ProtocolNumber,
		Justification: reason,
	})
	if err != nil {
		return m.eventSetupFailure(err, logger)
	}
	if outcome.Result == nil {
		// El evento pudo quedar registrado: se marca y solo la conciliación lo resuelve.
		doc.CancelRequestedAt = &now
		doc.CancelReason = reason
		doc.LastTransportError = outcome.TransportError
		doc.UpdatedAt = m.now()
		if err := m.docs.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("fiscal: marcar cancelación pendiente: %w", err)
		}
		logger.Warn().Str("error", outcome.TransportError).Msg("cancelación con resultado desconocido")
		return transportFailure("resultado de la cancelación desconocido; concilie el documento antes de reintentar: "+outcome.TransportError, doc), nil
	}

	ev := outcome.Result
	if !nfe.EventAccepted(ev.Status) {
		logger.Warn().Str("status", ev.Status).Str("reason", ev.Reason).Msg("cancelación rechazada")
		return authorityRejection(ev.Status, ev.Reason, doc), nil
	}

	if err := m.markCanceled(ctx, doc, ev.Protocol, ev.RegisteredAt, reason); err != nil {
		return nil, err
	}
	logger.Info().Str("protocol", ev.Protocol).Msg("documento cancelado")
	return ok(doc), nil
}

// ReconcileCancellation resuelve una cancelación con resultado desconocido
// consultando la NF-e (consSitNFe): cStat 101/151 o un 110111 registrado la
// confirman; una NF-e que sigue autorizada libera la marca para reintentar.
func (m *Manager) ReconcileCancellation(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status == entity.StatusCanceled {
		return ok(doc), nil
	}
	if doc.Status != entity.StatusAuthorized {
		return businessFailure(fmt.Errorf("%w: conciliar cancelación requiere authorized, estado actual %s", domain.ErrInvalidState, doc.Status), doc), nil
	}

	unlock, err := m.lock(ctx, documentID, false)
	if err != nil {
		return guardFailure(err, doc)
	}
	defer unlock()

	doc, err = m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status == entity.StatusCanceled {
		return ok(doc), nil
	}
	if doc.Status != entity.StatusAuthorized {
		return businessFailure(fmt.Errorf("%w: el documento cambió a %s", domain.ErrInvalidState, doc.Status), doc), nil
	}

	cred, res, err := m.credential(ctx, tenantID)
	if res != nil || err != nil {
		return res, err
	}
	msg, err := sefaz.BuildQueryDocument(m.cfg.Environment, doc.AccessKey)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), doc), nil
	}

	logger := m.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).
		Str("operation", "reconcile_cancellation").Logger()

	resp := m.call(ctx, sefaz.OpQueryDocument, msg, cred)
	if !resp.Success {
		logger.Warn().Str("error", resp.Error).Msg("conciliación sin respuesta de la SEFAZ")
		return transportFailure(resp.Error, doc), nil
	}
	parsed := sefaz.ParseAuthorizationResponse(resp.Body)
	if parsed == nil {
		return transportFailure("respuesta de la SEFAZ con formato inesperado", doc), nil
	}

	if applied, err := m.applyRegisteredCancellation(ctx, doc, parsed, logger); applied || err != nil {
		if err != nil {
			return nil, err
		}
		return ok(doc), nil
	}

	if parsed.BatchStatus != nfe.StatusAuthorized {
		logger.Warn().Str("status", parsed.BatchStatus).Msg("situación de la NF-e no concluyente")
		return authorityRejection(parsed.BatchStatus, parsed.BatchReason, doc), nil
	}
	if !doc.CancelPending() {
		return ok(doc), nil
	}
	doc.CancelRequestedAt = nil
	doc.CancelReason = ""
	doc.LastTransportError = ""
	doc.UpdatedAt = m.now()
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("fiscal: liberar cancelación pendiente: %w", err)
	}
	logger.Info().Msg("la SEFAZ no registra la cancelación: se puede reintentar")
	return ok(doc, "La SEFAZ no registra la cancelación; puede enviarla de nuevo"), nil
}

// applyRegisteredCancellation pasa a canceled si consSitNFe muestra la NF-e
// cancelada. Devuelve true cuando aplicó el cambio.
func (m *Manager) applyRegisteredCancellation(ctx context.Context, doc *entity.FiscalDocument, parsed *sefaz.AutorizacaoResult, logger zerolog.Logger) (bool, error) {
	ev := registeredCancellation(parsed.Events)
	if ev == nil && !nfe.DocumentCanceled(parsed.BatchStatus) {
		return false, nil
	}
	var protocol string
	var at time.Time
	if ev != nil {
		protocol, at = ev.Protocol, ev.RegisteredAt
	}
	if err := m.markCanceled(ctx, doc, protocol, at, doc.CancelReason); err != nil {
		return false, err
	}
	logger.Info().Str("protocol", protocol).Msg("cancelación confirmada por la SEFAZ")
	return true, nil
}

func (m *Manager) markCanceled(ctx context.Context, doc *entity.FiscalDocument, protocol string, at time.Time, reason string) error {
	if err := m.transition(doc, entity.StatusCanceled); err != nil {
		return err
	}
	if at.IsZero() {
		at = m.now()
	}
	doc.CancelProtocol = protocol
	doc.CanceledAt = &at
	doc.CancelReason = reason
	doc.CancelRequestedAt = nil
	doc.LastTransportError = ""
	doc.UpdatedAt = m.now()
	if err := m.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("fiscal: persistir cancelación: %w", err)
	}
	return nil
}

func registeredCancellation(events []sefaz.RegisteredEvent) *sefaz.RegisteredEvent {
	for i := range events {
		ev := &events[i]
		if ev.EventType == nfe.EventTypeCancellation && nfe.EventAccepted(ev.Status) {
			return ev
		}
	}
	return nil
}

// eventSetupFailure error antes de enviar el evento (credencial o armado).
func (m *Manager) eventSetupFailure(err error, logger zerolog.Logger) (*Result, error) {
	if certificate.IsCredentialError(err) {
		logger.Warn().Err(err).Msg("credencial inválida")
		return credentialFailure(err), nil
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return businessFailure(err, nil), nil
	}
	return nil, err
}

// ── Duplicado ─────────────────────────────────────────────────────────────────

// DuplicateAsNew crea un draft nuevo con el payload de un documento rechazado.
// El número nunca se reutiliza: el nuevo toma max+1 de la serie.
func (m *Manager) DuplicateAsNew(ctx context.Context, tenantID, documentID string) (*Result, error) {
	src, err := m.load(ctx, tenantID, documentID)
	if err != nil || src == nil {
		return notFoundOr(err)
	}
	if src.Status != entity.StatusRejected {
		return businessFailure(fmt.Errorf("%w: duplicar requiere rejected, estado actual %s", domain.ErrInvalidState, src.Status), src), nil
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		number, err := m.docs.NextNumber(ctx, tenantID, src.Series)
		if err != nil {
			return nil, fmt.Errorf("fiscal: siguiente número: %w", err)
		}
		now := m.now()
		dup := &entity.FiscalDocument{
			ID:                uuid.NewString(),
			TenantID:          tenantID,
			Number:            number,
			Series:            src.Series,
			Status:            entity.StatusDraft,
			PayloadXML:        src.PayloadXML,
			TotalAmount:       src.TotalAmount,
			RecipientName:     src.RecipientName,
			RecipientDocument: src.RecipientDocument,
			DuplicatedFrom:    src.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err = m.docs.Create(ctx, dup)
		if errors.Is(err, domain.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fiscal: crear duplicado: %w", err)
		}
		m.log.Info().Str("tenant_id", tenantID).Str("document_id", dup.ID).
			Str("duplicated_from", src.ID).Int64("number", number).Msg("documento duplicado")
		return ok(dup, fmt.Sprintf("Nuevo borrador número %d: regenere el payload con la nueva numeración antes de enviar", number)), nil
	}
	return businessFailure(fmt.Errorf("%w: no se pudo reservar un número libre", domain.ErrConflict), src), nil
}

// ── Consultas locales ─────────────────────────────────────────────────────────

// Get devuelve el documento del tenant.
func (m *Manager) Get(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	return ok(doc), nil
}

// AuthorizedXML devuelve el nfeProc (Data string).
func (m *Manager) AuthorizedXML(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if !doc.HasAccessKey() || doc.AuthorizedXML == "" {
		return businessFailure(fmt.Errorf("%w: el documento no tiene XML autorizado", domain.ErrInvalidState), nil), nil
	}
	return ok(doc.AuthorizedXML), nil
}

// RenderDANFE genera el PDF (Data []byte) de un documento autorizado o cancelado.
func (m *Manager) RenderDANFE(ctx context.Context, tenantID, documentID string) (*Result, error) {
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if !doc.HasAccessKey() {
		return businessFailure(fmt.Errorf("%w: DANFE requiere documento autorizado", domain.ErrInvalidState), nil), nil
	}
	if m.danfe == nil {
		return nil, errors.New("fiscal: generador de DANFE no configurado")
	}
	pdf, err := m.danfe.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("fiscal: generar DANFE: %w", err)
	}
	return ok(pdf), nil
}

// QueryServiceStatus consulta NFeStatusServico4 con el certificado del tenant.
func (m *Manager) QueryServiceStatus(ctx context.Context, tenantID string) (*Result, error) {
	cred, res, err := m.credential(ctx, tenantID)
	if res != nil || err != nil {
		return res, err
	}
	msg, err := sefaz.BuildServiceStatus(m.cfg.Environment, m.cfg.UFCode)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil), nil
	}
	resp := m.call(ctx, sefaz.OpQueryServiceStatus, msg, cred)
	if !resp.Success {
		return transportFailure(resp.Error, nil), nil
	}
	st := sefaz.ParseServiceStatusResponse(resp.Body)
	if st == nil {
		return transportFailure("respuesta de la SEFAZ con formato inesperado", nil), nil
	}
	if st.Status != nfe.StatusServiceRunning {
		return &Result{
			Data: st,
			Failure: &Failure{
				Category:  CategoryAuthority,
				Code:      st.Status,
				Message:   fmt.Sprintf("[%s] %s", st.Status, st.Reason),
				Retryable: true,
			},
		}, nil
	}
	return ok(st), nil
}

// ── Auxiliares ────────────────────────────────────────────────────────────────

func (m *Manager) load(ctx context.Context, tenantID, documentID string) (*entity.FiscalDocument, error) {
	doc, err := m.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: leer documento %s: %w", documentID, err)
	}
	if doc == nil || doc.TenantID != tenantID {
		return nil, nil
	}
	return doc, nil
}

func notFoundOr(err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	return businessFailure(domain.ErrNotFound, nil), nil
}

func guardFailure(err error, doc *entity.FiscalDocument) (*Result, error) {
	if errors.Is(err, domain.ErrSubmissionInFlight) {
		return businessFailure(err, doc), nil
	}
	return nil, err
}

func (m *Manager) transition(doc *entity.FiscalDocument, to entity.DocumentStatus) error {
	if !entity.CanTransition(doc.Status, to) {
		return fmt.Errorf("fiscal: transición ilegal %s -> %s en %s", doc.Status, to, doc.ID)
	}
	doc.Status = to
	return nil
}

// credential devuelve la credencial vigente o un Result de falla de credencial.
func (m *Manager) credential(ctx context.Context, tenantID string) (*certificate.Credential, *Result, error) {
	cred, err := m.creds.ForTenant(ctx, tenantID)
	if err != nil {
		if certificate.IsCredentialError(err) {
			m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("credencial inválida")
			return nil, credentialFailure(err), nil
		}
		return nil, nil, fmt.Errorf("fiscal: credencial: %w", err)
	}
	if cred.ExpiredAt(m.now()) {
		err := fmt.Errorf("%w: venció el %s", certificate.ErrCertificateExpired, cred.NotAfter.Format("02/01/2006"))
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("certificado vencido")
		return nil, credentialFailure(err), nil
	}
	return cred, nil, nil
}

// call arma el envelope de op y lo envía al endpoint configurado.
func (m *Manager) call(ctx context.Context, op sefaz.Operation, msg string, cred *certificate.Credential) *sefaz.Response {
	env, err := sefaz.BuildEnvelope(op, msg)
	if err != nil {
		return &sefaz.Response{Error: err.Error()}
	}
	url, err := m.cfg.Endpoints.URL(op)
	if err != nil {
		return &sefaz.Response{Error: err.Error()}
	}
	return m.transport.Send(ctx, sefaz.Request{
		Endpoint:   url,
		SOAPAction: op.SOAPAction(),
		Envelope:   env,
		Timeout:    m.cfg.Timeout,
		Credential: cred,
	})
}

// lock toma la marca "en curso" del documento. Con wait reintenta con backoff
// hasta GuardWait; sin wait falla enseguida con ErrSubmissionInFlight.
func (m *Manager) lock(ctx context.Context, documentID string, wait bool) (func(), error) {
	key := guardKey(documentID)
	var release ports.ReleaseFunc
	if wait {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 25 * time.Millisecond
		b.MaxInterval = time.Second
		b.MaxElapsedTime = m.cfg.GuardWait
		b.Reset()
		err := backoff.Retry(func() error {
			r, acquired, err := m.guard.TryAcquire(ctx, key, m.cfg.GuardTTL)
			if err != nil {
				return backoff.Permanent(err)
			}
			if !acquired {
				return domain.ErrSubmissionInFlight
			}
			release = r
			return nil
		}, backoff.WithContext(b, ctx))
		if err != nil {
			return nil, err
		}
	} else {
		r, acquired, err := m.guard.TryAcquire(ctx, key, m.cfg.GuardTTL)
		if err != nil {
			return nil, fmt.Errorf("fiscal: marca en curso: %w", err)
		}
		if !acquired {
			return nil, domain.ErrSubmissionInFlight
		}
		release = r
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(ctx); err != nil {
			m.log.Error().Err(err).Str("document_id", documentID).Msg("no se pudo liberar la marca en curso")
		}
	}, nil
}

func (m *Manager) documentURLs(id string) (danfeURL, xmlURL string) {
	base := strings.TrimRight(m.cfg.PublicBaseURL, "/") + "/api/documents/" + id
	return base + "/danfe", base + "/xml"
}

func guardKey(documentID string) string {
	return "nfe:document:" + documentID
}
