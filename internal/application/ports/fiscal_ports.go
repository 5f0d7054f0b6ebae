package ports

import (
	"context"
	"time"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
)

// Transport envía un envelope SOAP a la SEFAZ. Nunca devuelve error: las
// fallas de red y los HTTP no 2xx vienen como datos en la respuesta.
type Transport interface {
	Send(ctx context.Context, req sefaz.Request) *sefaz.Response
}

// ReleaseFunc libera la sección exclusiva. Se llama con defer.
type ReleaseFunc func(ctx context.Context) error

// SubmissionGuard marca "en curso" por documento. Es el único lock que puede
// cruzar una llamada de red; el TTL lo libera si el proceso muere.
type SubmissionGuard interface {
	// TryAcquire no bloquea: acquired=false si otro proceso tiene la marca.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)
}

// CredentialSource entrega la credencial decodificada del tenant.
// Los errores de certificado son los centinelas del paquete certificate.
type CredentialSource interface {
	ForTenant(ctx context.Context, tenantID string) (*certificate.Credential, error)
}

// EventOutcome resultado de enviar un evento (cancelamento o CC-e).
// Result nil significa resultado desconocido (timeout, red, respuesta ilegible).
type EventOutcome struct {
	Result         *sefaz.EventResult
	TransportError string
}

// EventSubmitter registra eventos de la NF-e, directo en la SEFAZ o vía gateway.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, doc *entity.FiscalDocument, ev sefaz.Event) (*EventOutcome, error)
}

// PollScheduler programa consultas de estado para documentos pending.
type PollScheduler interface {
	Schedule(tenantID, documentID string)
}

// DANFERenderer genera la representación gráfica (PDF) de la NF-e autorizada.
type DANFERenderer interface {
	Render(doc *entity.FiscalDocument) ([]byte, error)
}
