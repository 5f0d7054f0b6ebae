package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// DraftInput NF-e ya firmada por el generador de payload.
type DraftInput struct {
	Series            int
	Number            int64 // 0 = siguiente de la serie
	PayloadXML        string
	TotalAmount       decimal.Decimal
	RecipientName     string
	RecipientDocument string
}

// RegisterDraft registra la NF-e firmada como draft. El payload no se
// revalida contra el esquema; se exige una chave legible en infNFe/@Id con la
// misma serie y, si se informa, el mismo número del documento.
func (m *Manager) RegisterDraft(ctx context.Context, tenantID string, in DraftInput) (*Result, error) {
	payload := strings.TrimSpace(in.PayloadXML)
	if payload == "" {
		return businessFailure(fmt.Errorf("%w: payload_xml requerido", domain.ErrInvalidInput), nil), nil
	}
	key, err := sefaz.IntendedAccessKey(payload)
	if err != nil {
		return businessFailure(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil), nil
	}
	if in.Series < 0 || in.Number < 0 || in.TotalAmount.IsNegative() {
		return businessFailure(fmt.Errorf("%w: serie, número y total no pueden ser negativos", domain.ErrInvalidInput), nil), nil
	}
	if s := nfe.AccessKeySeries(key); s != in.Series {
		return businessFailure(fmt.Errorf("%w: la chave declara serie %d, el documento %d", domain.ErrKeyMismatch, s, in.Series), nil), nil
	}

	var warnings []string
	number := in.Number
	if number == 0 {
		next, err := m.docs.NextNumber(ctx, tenantID, in.Series)
		if err != nil {
			return nil, fmt.Errorf("fiscal: siguiente número: %w", err)
		}
		number = next
		if n := nfe.AccessKeyNumber(key); n != number {
			warnings = append(warnings, fmt.Sprintf(
				"El payload declara el número %d; regenérelo con el número %d antes de enviar", n, number))
		}
	} else if n := nfe.AccessKeyNumber(key); n != number {
		return businessFailure(fmt.Errorf("%w: la chave declara número %d, el documento %d", domain.ErrKeyMismatch, n, number), nil), nil
	}

	now := m.now()
	doc := &entity.FiscalDocument{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Number:            number,
		Series:            in.Series,
		Status:            entity.StatusDraft,
		PayloadXML:        payload,
		TotalAmount:       in.TotalAmount,
		RecipientName:     in.RecipientName,
		RecipientDocument: in.RecipientDocument,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return businessFailure(fmt.Errorf("%w: número %d ya usado en la serie %d", domain.ErrDuplicate, number, in.Series), nil), nil
		}
		return nil, fmt.Errorf("fiscal: crear draft: %w", err)
	}
	m.log.Info().Str("tenant_id", tenantID).Str("document_id", doc.ID).
		Int("series", doc.Series).Int64("number", doc.Number).Msg("draft registrado")
	return ok(doc, warnings...), nil
}

// UpdateDraftPayload reemplaza el payload de un draft, típicamente el de un
// duplicado regenerado con su nueva numeración.
func (m *Manager) UpdateDraftPayload(ctx context.Context, tenantID, documentID, payloadXML string) (*Result, error) {
	payload := strings.TrimSpace(payloadXML)
	if payload == "" {
		return businessFailure(fmt.Errorf("%w: payload_xml requerido", domain.ErrInvalidInput), nil), nil
	}
	doc, err := m.load(ctx, tenantID, documentID)
	if err != nil || doc == nil {
		return notFoundOr(err)
	}
	if doc.Status != entity.StatusDraft {
		return businessFailure(fmt.Errorf("%w: solo un draft admite nuevo payload, estado actual %s", domain.ErrInvalidState, doc.Status), doc), nil
	}
	if _, err := payloadIdentity(payload, doc.Series, doc.Number); err != nil {
		return businessFailure(err, doc), nil
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
	if doc.Status != entity.StatusDraft {
		return businessFailure(fmt.Errorf("%w: el documento cambió a %s", domain.ErrInvalidState, doc.Status), doc), nil
	}
	doc.PayloadXML = payload
	doc.UpdatedAt = m.now()
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("fiscal: actualizar payload: %w", err)
	}
	m.log.Info().Str("tenant_id", tenantID).Str("document_id", documentID).Msg("payload del draft reemplazado")
	return ok(doc), nil
}

// payloadIdentity chave de infNFe/@Id, exigiendo que codifique la serie y el
// número del documento. Un payload ajeno autorizaría otra numeración.
func payloadIdentity(payload string, series int, number int64) (string, error) {
	key, err := sefaz.IntendedAccessKey(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if s, n := nfe.AccessKeySeries(key), nfe.AccessKeyNumber(key); s != series || n != number {
		return "", fmt.Errorf("%w: la chave declara serie %d número %d, el documento serie %d número %d",
			domain.ErrKeyMismatch, s, n, series, number)
	}
	return key, nil
}
