package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
)

// RegisterDraftRequest NF-e firmada entregada por el generador de payload.
type RegisterDraftRequest struct {
	Series            int             `json:"series"`
	Number            int64           `json:"number"`
	PayloadXML        string          `json:"payload_xml"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	RecipientName     string          `json:"recipient_name"`
	RecipientDocument string          `json:"recipient_document"`
}

// UpdatePayloadRequest PUT /api/documents/:id/payload
type UpdatePayloadRequest struct {
	PayloadXML string `json:"payload_xml"`
}

// CancelRequest POST /api/documents/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CorrectionRequest POST /api/documents/:id/corrections
type CorrectionRequest struct {
	Text string `json:"text"`
}

// ClassifyRequest POST /api/fiscal/classify
type ClassifyRequest struct {
	Message string `json:"message"`
}

// CertificateRequest PUT /api/tenant/certificate
type CertificateRequest struct {
	PFXBase64 string `json:"pfx_base64"`
	Password  string `json:"password"`
}

// DocumentResponse vista pública de la NF-e. El payload y el nfeProc se
// descargan por /xml.
type DocumentResponse struct {
	ID                string          `json:"id"`
	Number            int64           `json:"number"`
	Series            int             `json:"series"`
	Status            string          `json:"status"`
	AccessKey         string          `json:"access_key,omitempty"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	RecipientName     string          `json:"recipient_name,omitempty"`
	RecipientDocument string          `json:"recipient_document,omitempty"`

	BatchID            string     `json:"batch_id,omitempty"`
	ReceiptNumber      string     `json:"receipt_number,omitempty"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	AttemptCount       int        `json:"attempt_count"`
	LastTransportError string     `json:"last_transport_error,omitempty"`

	ProtocolNumber string     `json:"protocol_number,omitempty"`
	AuthorizedAt   *time.Time `json:"authorized_at,omitempty"`
	DocumentURL    string     `json:"document_url,omitempty"`
	XMLURL         string     `json:"xml_url,omitempty"`

	RejectionCode   string `json:"rejection_code,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	CancelProtocol string     `json:"cancel_protocol,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`

	CancelRequestedAt *time.Time `json:"cancel_requested_at,omitempty"` // cancelación con resultado desconocido

	DuplicatedFrom string    `json:"duplicated_from,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CorrectionResponse vista pública de la CC-e.
type CorrectionResponse struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"document_id"`
	Sequence     int        `json:"sequence"`
	Text         string     `json:"text"`
	Status       string     `json:"status"`
	Protocol     string     `json:"protocol,omitempty"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ToDocumentResponse mapea la entidad a la respuesta.
func ToDocumentResponse(d *entity.FiscalDocument) DocumentResponse {
	return DocumentResponse{
		ID:                 d.ID,
		Number:             d.Number,
		Series:             d.Series,
		Status:             string(d.Status),
		AccessKey:          d.AccessKey,
		TotalAmount:        d.TotalAmount,
		RecipientName:      d.RecipientName,
		RecipientDocument:  d.RecipientDocument,
		BatchID:            d.BatchID,
		ReceiptNumber:      d.ReceiptNumber,
		SubmittedAt:        d.SubmittedAt,
		AttemptCount:       d.AttemptCount,
		LastTransportError: d.LastTransportError,
		ProtocolNumber:     d.ProtocolNumber,
		AuthorizedAt:       d.AuthorizedAt,
		DocumentURL:        d.DocumentURL,
		XMLURL:             d.XMLURL,
		RejectionCode:      d.RejectionCode,
		RejectionReason:    d.RejectionReason,
		CancelProtocol:     d.CancelProtocol,
		CanceledAt:         d.CanceledAt,
		CancelReason:       d.CancelReason,
		CancelRequestedAt:  d.CancelRequestedAt,
		DuplicatedFrom:     d.DuplicatedFrom,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// ToCorrectionResponse mapea la CC-e a la respuesta.
func ToCorrectionResponse(l *entity.CorrectionLetter) CorrectionResponse {
	return CorrectionResponse{
		ID:           l.ID,
		DocumentID:   l.DocumentID,
		Sequence:     l.Sequence,
		Text:         l.Text,
		Status:       l.Status,
		Protocol:     l.Protocol,
		RegisteredAt: l.RegisteredAt,
		CreatedAt:    l.CreatedAt,
	}
}
