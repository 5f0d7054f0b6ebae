package sefaz

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
)

const (
	// DefaultTimeout los WS de la SEFAZ pueden tardar varios segundos en lote síncrono.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
	maxCachedClients = 256
	plainClientKey   = ""
)

// Request envío de un envelope ya armado.
type Request struct {
	Endpoint   string
	SOAPAction string
	Envelope   string
	Timeout    time.Duration           // 0 = DefaultTimeout
	Credential *certificate.Credential // nil = sin mTLS
}

// Response resultado del envío. Fallas de red, timeouts y HTTP no 2xx también
// vienen aquí como datos; Send nunca devuelve error.
type Response struct {
	Success    bool
	StatusCode int // 408 en timeout, 0 si no hubo respuesta HTTP
	Body       []byte
	Error      string
}

// ClientOption personaliza el SOAPClient.
type ClientOption func(*SOAPClient)

// WithMutualTLS activa o desactiva la autenticación con el certificado del tenant.
func WithMutualTLS(enabled bool) ClientOption {
	return func(c *SOAPClient) { c.mutualTLS = enabled }
}

// WithRootCAs reemplaza las CA de confianza (cadena ICP-Brasil o tests).
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(c *SOAPClient) { c.rootCAs = pool }
}

// WithDefaultTimeout timeout para requests sin Timeout propio.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *SOAPClient) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// SOAPClient transporte HTTPS para los WS de la SEFAZ. Reutiliza un
// http.Client por huella de certificado para no renegociar TLS en cada envío.
type SOAPClient struct {
	log            zerolog.Logger
	mutualTLS      bool
	rootCAs        *x509.CertPool
	defaultTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewSOAPClient construye el transporte. Por defecto usa mTLS.
func NewSOAPClient(log zerolog.Logger, opts ...ClientOption) *SOAPClient {
	c := &SOAPClient{
		log:            log.With().Str("component", "sefaz_transport").Logger(),
		mutualTLS:      true,
		defaultTimeout: DefaultTimeout,
		clients:        make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send hace el POST SOAP 1.2 y devuelve el resultado como datos.
func (c *SOAPClient) Send(ctx context.Context, req Request) *Response {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpClient, err := c.clientFor(req.Credential)
	if err != nil {
		return &Response{Error: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, strings.NewReader(req.Envelope))
	if err != nil {
		return &Response{Error: fmt.Sprintf("soap: crear request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", soapContentType)
	httpReq.Header.Set("SOAPAction", req.SOAPAction)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return failure(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return failure(ctx, err)
	}
	if len(body) > maxResponseBytes {
		return &Response{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("soap: respuesta excede %d bytes", maxResponseBytes),
		}
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		return out
	}
	if fault := ParseFault(body); fault != "" {
		out.Error = fmt.Sprintf("HTTP %d: SOAP Fault: %s", resp.StatusCode, fault)
	} else {
		out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return out
}

func failure(ctx context.Context, err error) *Response {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Response{StatusCode: http.StatusRequestTimeout, Error: "timeout"}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Response{Error: "cancelado"}
	}
	return &Response{Error: fmt.Sprintf("soap: llamada HTTP fallida: %v", err)}
}

// clientFor devuelve el http.Client para la credencial. Sin credencial, o con
// mTLS deshabilitado, usa TLS simple; la SEFAZ lo rechazará en producción.
func (c *SOAPClient) clientFor(cred *certificate.Credential) (*http.Client, error) {
	key := plainClientKey
	var certs []tls.Certificate
	if c.mutualTLS && cred != nil {
		key = cred.Fingerprint()
		pair, err := cred.TLSCertificate()
		if err != nil {
			return nil, err
		}
		certs = []tls.Certificate{pair}
	} else if c.mutualTLS {
		c.log.Warn().Msg("envío sin certificado de cliente: TLS simple")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc, nil
	}
	if len(c.clients) >= maxCachedClients {
		for k, hc := range c.clients {
			hc.CloseIdleConnections()
			delete(c.clients, k)
		}
	}
	hc := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion:    tls.VersionTLS12,
				Certificates:  certs,
				RootCAs:       c.rootCAs,
				Renegotiation: tls.RenegotiateOnceAsClient,
			},
			TLSHandshakeTimeout: 15 * time.Second,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 4,
		},
	}
	c.clients[key] = hc
	return hc, nil
}

// ParseFault texto de un soap:Fault (SOAP 1.1 o 1.2), vacío si no hay.
func ParseFault(raw []byte) string {
	body := soapBody(raw)
	if body == nil {
		return ""
	}
	fault := findChild(body, "Fault")
	if fault == nil {
		return ""
	}
	if s := childText(fault, "faultstring"); s != "" {
		return s
	}
	if reason := findChild(fault, "Reason"); reason != nil {
		if s := childText(reason, "Text"); s != "" {
			return s
		}
	}
	return strings.TrimSpace(fault.Text())
}
