package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

var _ repository.FiscalDocumentRepository = (*FiscalDocumentRepo)(nil)

// FiscalDocumentRepo implementación de FiscalDocumentRepository (usable con pool o tx).
type FiscalDocumentRepo struct {
	q Querier
}

// NewFiscalDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFiscalDocumentRepository(q Querier) *FiscalDocumentRepo {
	return &FiscalDocumentRepo{q: q}
}

const fiscalDocumentColumns = `
	id, tenant_id, number, series, COALESCE(access_key, ''), status,
	payload_xml, total_amount, recipient_name, recipient_document,
	COALESCE(batch_id, ''), COALESCE(receipt_number, ''), submitted_at, attempt_count, COALESCE(last_transport_error, ''),
	COALESCE(protocol_number, ''), authorized_at, COALESCE(authorized_xml, ''), COALESCE(document_url, ''), COALESCE(xml_url, ''),
	COALESCE(rejection_code, ''), COALESCE(rejection_reason, ''),
	COALESCE(cancel_protocol, ''), canceled_at, COALESCE(cancel_reason, ''), cancel_requested_at,
	COALESCE(duplicated_from::text, ''), created_at, updated_at`

func scanFiscalDocument(row pgx.Row) (*entity.FiscalDocument, error) {
	var d entity.FiscalDocument
	var status string
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Number, &d.Series, &d.AccessKey, &status,
		&d.PayloadXML, &d.TotalAmount, &d.RecipientName, &d.RecipientDocument,
		&d.BatchID, &d.ReceiptNumber, &d.SubmittedAt, &d.AttemptCount, &d.LastTransportError,
		&d.ProtocolNumber, &d.AuthorizedAt, &d.AuthorizedXML, &d.DocumentURL, &d.XMLURL,
		&d.RejectionCode, &d.RejectionReason,
		&d.CancelProtocol, &d.CanceledAt, &d.CancelReason, &d.CancelRequestedAt,
		&d.DuplicatedFrom, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = entity.DocumentStatus(status)
	return &d, nil
}

// Create persiste un documento nuevo. Número repetido en la serie → domain.ErrDuplicate.
func (r *FiscalDocumentRepo) Create(ctx context.Context, doc *entity.FiscalDocument) error {
	query := `
		INSERT INTO fiscal_documents (
			id, tenant_id, number, series, access_key, status, payload_xml, total_amount,
			recipient_name, recipient_document, duplicated_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		doc.ID, doc.TenantID, doc.Number, doc.Series, nullIfEmpty(doc.AccessKey), string(doc.Status),
		doc.PayloadXML, doc.TotalAmount, doc.RecipientName, doc.RecipientDocument,
		nullIfEmpty(doc.DuplicatedFrom), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: número %d serie %d", domain.ErrDuplicate, doc.Number, doc.Series)
		}
		return fmt.Errorf("insert fiscal document: %w", err)
	}
	return nil
}

// GetByID devuelve (nil, nil) si no existe.
func (r *FiscalDocumentRepo) GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	doc, err := scanFiscalDocument(r.q.QueryRow(ctx,
		`SELECT `+fiscalDocumentColumns+` FROM fiscal_documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	return doc, nil
}

// Update persiste estado y artefactos; número, serie y tenant no cambian.
func (r *FiscalDocumentRepo) Update(ctx context.Context, doc *entity.FiscalDocument) error {
	query := `
		UPDATE fiscal_documents
		SET access_key           = $2,
		    status               = $3,
		    payload_xml          = $4,
		    batch_id             = $5,
		    receipt_number       = $6,
		    submitted_at         = $7,
		    attempt_count        = $8,
		    last_transport_error = $9,
		    protocol_number      = $10,
		    authorized_at        = $11,
		    authorized_xml       = $12,
		    document_url         = $13,
		    xml_url              = $14,
		    rejection_code       = $15,
		    rejection_reason     = $16,
		    cancel_protocol      = $17,
		    canceled_at          = $18,
		    cancel_reason        = $19,
		    cancel_requested_at  = $20,
		    updated_at           = $21
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		doc.ID,
		nullIfEmpty(doc.AccessKey),
		string(doc.Status),
		doc.PayloadXML,
		nullIfEmpty(doc.BatchID),
		nullIfEmpty(doc.ReceiptNumber),
		doc.SubmittedAt,
		doc.AttemptCount,
		nullIfEmpty(doc.LastTransportError),
		nullIfEmpty(doc.ProtocolNumber),
		doc.AuthorizedAt,
		nullIfEmpty(doc.AuthorizedXML),
		nullIfEmpty(doc.DocumentURL),
		nullIfEmpty(doc.XMLURL),
		nullIfEmpty(doc.RejectionCode),
		nullIfEmpty(doc.RejectionReason),
		nullIfEmpty(doc.CancelProtocol),
		doc.CanceledAt,
		nullIfEmpty(doc.CancelReason),
		doc.CancelRequestedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update fiscal document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NextNumber max(number)+1 de la serie del tenant.
func (r *FiscalDocumentRepo) NextNumber(ctx context.Context, tenantID string, series int) (int64, error) {
	var next int64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM fiscal_documents WHERE tenant_id = $1 AND series = $2`,
		tenantID, series,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next fiscal document number: %w", err)
	}
	return next, nil
}

// ListByStatus documentos en el estado dado, los más antiguos primero.
func (r *FiscalDocumentRepo) ListByStatus(ctx context.Context, status entity.DocumentStatus, limit int) ([]*entity.FiscalDocument, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+fiscalDocumentColumns+` FROM fiscal_documents WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list fiscal documents: %w", err)
	}
	defer rows.Close()

	var out []*entity.FiscalDocument
	for rows.Next() {
		doc, err := scanFiscalDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
