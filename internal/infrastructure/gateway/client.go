// Package gateway registra eventos de la NF-e a través de un gateway REST de
// terceros en lugar de firmar y enviar el envEvento a la SEFAZ.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

const maxResponseBytes = 1 << 20

// Estados que el gateway devuelve cuando el evento quedó registrado.
var acceptedStatus = map[string]bool{
	"autorizado": true,
	"cancelado":  true,
}

// Client EventSubmitter contra el gateway. El ref del documento en el gateway
// es el ID interno de la NF-e.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient baseURL sin barra final; token se envía como usuario de basic auth.
func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = sefaz.DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		timeout: timeout,
		log:     log.With().Str("component", "gateway_client").Logger(),
	}
}

// eventResponse cuerpo de respuesta del gateway, éxito o error.
type eventResponse struct {
	Status        string `json:"status"`
	StatusSefaz   string `json:"status_sefaz"`
	MensagemSefaz string `json:"mensagem_sefaz"`
	Protocolo     string `json:"protocolo"`
	Codigo        string `json:"codigo"`
	Mensagem      string `json:"mensagem"`
}

// SubmitEvent traduce el evento a la llamada REST correspondiente.
func (c *Client) SubmitEvent(ctx context.Context, doc *entity.FiscalDocument, ev sefaz.Event) (*ports.EventOutcome, error) {
	var (
		method string
		path   string
		body   any
	)
	ref := url.PathEscape(doc.ID)
	switch ev.Type {
	case nfe.EventTypeCorrection:
		method, path = http.MethodPost, "/v2/nfe/"+ref+"/carta_correcao"
		body = map[string]string{"correcao": ev.Correction}
	case nfe.EventTypeCancellation:
		method, path = http.MethodDelete, "/v2/nfe/"+ref
		body = map[string]string{"justificativa": ev.Justification}
	default:
		return nil, fmt.Errorf("%w: tipo de evento %q no soportado por el gateway", domain.ErrInvalidInput, ev.Type)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: armar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.token, "")

	logger := c.log.With().Str("tenant_id", doc.TenantID).Str("document_id", doc.ID).
		Str("event_type", ev.Type).Logger()
	logger.Info().Str("method", method).Msg("enviando evento al gateway")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ports.EventOutcome{TransportError: describe(err)}, nil
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &ports.EventOutcome{TransportError: "gateway: leer respuesta: " + err.Error()}, nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout {
		return &ports.EventOutcome{TransportError: fmt.Sprintf("gateway: HTTP %d", resp.StatusCode)}, nil
	}

	var parsed eventResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 400 {
			// Texto crudo al clasificador.
			return &ports.EventOutcome{Result: &sefaz.EventResult{EventType: ev.Type, Reason: strings.TrimSpace(string(raw))}}, nil
		}
		return &ports.EventOutcome{TransportError: "gateway: respuesta con formato inesperado"}, nil
	}

	res := &sefaz.EventResult{
		EventType: ev.Type,
		Sequence:  ev.Sequence,
		AccessKey: ev.AccessKey,
		Protocol:  parsed.Protocolo,
	}
	switch {
	case resp.StatusCode >= 400:
		res.Reason = firstNonEmpty(parsed.Mensagem, parsed.MensagemSefaz, strings.TrimSpace(string(raw)))
		res.Status = parsed.StatusSefaz
	case parsed.StatusSefaz != "":
		res.Status = parsed.StatusSefaz
		res.Reason = parsed.MensagemSefaz
	case acceptedStatus[parsed.Status]:
		res.Status = nfe.StatusEventLinked
		res.Reason = parsed.Status
	default:
		res.Reason = firstNonEmpty(parsed.Mensagem, parsed.Status, strings.TrimSpace(string(raw)))
	}
	if nfe.EventAccepted(res.Status) {
		res.RegisteredAt = time.Now()
	}
	logger.Info().Int("http_status", resp.StatusCode).Str("status", res.Status).Msg("respuesta del gateway")
	return &ports.EventOutcome{Result: res}, nil
}

func describe(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "gateway: timeout esperando respuesta"
	}
	return "gateway: " + err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ ports.EventSubmitter = (*Client)(nil)
