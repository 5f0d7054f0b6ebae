package fiscal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// DirectEventSubmitter firma el envEvento con el certificado del tenant y lo
// envía a NFeRecepcaoEvento4.
type DirectEventSubmitter struct {
	creds     ports.CredentialSource
	signer    nfe.Signer
	transport ports.Transport
	endpoints sefaz.Endpoints
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewDirectEventSubmitter construye el emisor de eventos directo.
func NewDirectEventSubmitter(
	creds ports.CredentialSource,
	signer nfe.Signer,
	transport ports.Transport,
	endpoints sefaz.Endpoints,
	timeout time.Duration,
	log zerolog.Logger,
) *DirectEventSubmitter {
	if timeout <= 0 {
		timeout = sefaz.DefaultTimeout
	}
	return &DirectEventSubmitter{
		creds:     creds,
		signer:    signer,
		transport: transport,
		endpoints: endpoints,
		timeout:   timeout,
		log:       log.With().Str("component", "event_submitter").Logger(),
		now:       time.Now,
	}
}

// SubmitEvent devuelve error solo cuando el evento no llegó a enviarse
// (credencial, armado o firma). Lo que pasa en la red viene en EventOutcome.
func (s *DirectEventSubmitter) SubmitEvent(ctx context.Context, doc *entity.FiscalDocument, ev sefaz.Event) (*ports.EventOutcome, error) {
	cred, err := s.creds.ForTenant(ctx, doc.TenantID)
	if err != nil {
		return nil, err
	}
	if cred.ExpiredAt(s.now()) {
		return nil, fmt.Errorf("%w: venció el %s", certificate.ErrCertificateExpired, cred.NotAfter.Format("02/01/2006"))
	}

	msg, err := sefaz.BuildEvent(sefaz.NewBatchID(), ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	pair, err := cred.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", certificate.ErrInvalidCertificateBundle, err)
	}
	signed, err := s.signer.Sign([]byte(msg), pair)
	if err != nil {
		return nil, fmt.Errorf("%w: firmar evento: %v", certificate.ErrInvalidCertificateBundle, err)
	}
	env, err := sefaz.BuildEnvelope(sefaz.OpSubmitEvent, string(signed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	url, err := s.endpoints.URL(sefaz.OpSubmitEvent)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("tenant_id", doc.TenantID).Str("document_id", doc.ID).
		Str("event_type", ev.Type).Int("sequence", ev.Sequence).Msg("enviando evento a la SEFAZ")

	resp := s.transport.Send(ctx, sefaz.Request{
		Endpoint:   url,
		SOAPAction: sefaz.OpSubmitEvent.SOAPAction(),
		Envelope:   env,
		Timeout:    s.timeout,
		Credential: cred,
	})
	if !resp.Success {
		return &ports.EventOutcome{TransportError: resp.Error}, nil
	}
	res := sefaz.ParseEventResponse(resp.Body)
	if res == nil {
		return &ports.EventOutcome{TransportError: "respuesta de evento con formato inesperado"}, nil
	}
	return &ports.EventOutcome{Result: res}, nil
}

var _ ports.EventSubmitter = (*DirectEventSubmitter)(nil)
