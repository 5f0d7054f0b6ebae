package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus estado de la NF-e dentro del motor de emisión.
type DocumentStatus string

// Estados del ciclo de vida de la NF-e.
const (
	StatusDraft      DocumentStatus = "draft"      // Editable, aún no enviada a la SEFAZ
	StatusPending    DocumentStatus = "pending"    // Enviada (o con resultado desconocido), pendiente de respuesta definitiva
	StatusAuthorized DocumentStatus = "authorized" // Autorizada (cStat 100)
	StatusRejected   DocumentStatus = "rejected"   // Rechazada por la SEFAZ
	StatusCanceled   DocumentStatus = "canceled"   // Cancelada por evento 110111
)

// transitions estados destino permitidos desde cada estado.
// rejected no tiene salida: duplicateAsNew crea otro documento.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusDraft:      {StatusPending},
	StatusPending:    {StatusAuthorized, StatusRejected, StatusDraft},
	StatusAuthorized: {StatusCanceled},
}

// CanTransition indica si el paso from → to es legal.
func CanTransition(from, to DocumentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FiscalDocument representa la NF-e y sus artefactos de autorización.
// AccessKey (chave de acceso, 44 dígitos) solo está presente en authorized/canceled.
type FiscalDocument struct {
	ID        string
	TenantID  string
	Number    int64
	Series    int
	AccessKey string
	Status    DocumentStatus

	PayloadXML        string          // <NFe> firmada, se embebe tal cual en el lote
	TotalAmount       decimal.Decimal // vNF, usado en la representación gráfica
	RecipientName     string
	RecipientDocument string // CNPJ o CPF

	// Seguimiento del envío
	BatchID            string // idLote
	ReceiptNumber      string // nRec cuando la SEFAZ responde de forma asíncrona
	SubmittedAt        *time.Time
	AttemptCount       int
	LastTransportError string

	// Autorización
	ProtocolNumber string
	AuthorizedAt   *time.Time
	AuthorizedXML  string // nfeProc (NFe + protNFe)
	DocumentURL    string // DANFE
	XMLURL         string

	// Rechazo
	RejectionCode   string
	RejectionReason string

	// Cancelación. CancelRequestedAt marca un evento 110111 con resultado
	// desconocido: no se reenvía hasta conciliar con consSitNFe.
	CancelProtocol    string
	CanceledAt        *time.Time
	CancelReason      string
	CancelRequestedAt *time.Time

	DuplicatedFrom string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasAccessKey verifica el invariante chave ⇔ authorized|canceled.
func (d *FiscalDocument) HasAccessKey() bool {
	return d.Status == StatusAuthorized || d.Status == StatusCanceled
}

// CancelPending indica una cancelación enviada sin resultado conocido.
func (d *FiscalDocument) CancelPending() bool {
	return d.Status == StatusAuthorized && d.CancelRequestedAt != nil
}
