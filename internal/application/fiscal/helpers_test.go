package fiscal_test

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/application/fiscal"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/memory"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

const (
	tenantID    = "tenant-1"
	accessKey   = "35250112345678000195550010000001231000000129"
	protocolNum = "135250000123456"

	signedNFe = `<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe versao="4.00" Id="NFe` + accessKey + `">` +
		`<emit><CNPJ>12345678000195</CNPJ><xNome>EMPRESA TESTE LTDA</xNome></emit>` +
		`<dest><CNPJ>98765432000198</CNPJ><xNome>Cliente Teste</xNome></dest>` +
		`<total><ICMSTot><vNF>150.00</vNF></ICMSTot></total></infNFe>` +
		`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignatureValue>abc=</SignatureValue></Signature></NFe>`
)

// ── Respuestas de la SEFAZ ───────────────────────────────────────────────────

func soapOK(inner string) *sefaz.Response {
	return &sefaz.Response{
		Success:    true,
		StatusCode: 200,
		Body: []byte(`<?xml version="1.0" encoding="utf-8"?>` +
			`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body><nfeResultMsg>` +
			inner + `</nfeResultMsg></soap:Body></soap:Envelope>`),
	}
}

// accessKeyFor chave de la serie 1 con el número dado y su cDV.
func accessKeyFor(t *testing.T, number int64) string {
	t.Helper()
	partial := fmt.Sprintf("3525011234567800019555001%09d100000012", number)
	dv, err := nfe.ComputeAccessKeyCheckDigit(partial)
	require.NoError(t, err)
	return partial + string(dv)
}

// signedNFeWithKey el payload de referencia con otra chave en infNFe/@Id.
func signedNFeWithKey(key string) string {
	return strings.Replace(signedNFe, accessKey, key, 1)
}

func authorizedResponse() *sefaz.Response {
	return authorizedResponseFor(accessKey)
}

func authorizedResponseFor(key string) *sefaz.Response {
	return soapOK(`<retEnviNFe versao="4.00"><tpAmb>2</tpAmb><cStat>104</cStat><xMotivo>Lote processado</xMotivo>` +
		`<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><chNFe>` + key + `</chNFe>` +
		`<dhRecbto>2025-01-15T10:30:01-03:00</dhRecbto><nProt>` + protocolNum + `</nProt>` +
		`<cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe></retEnviNFe>`)
}

func rejectedResponse(code, reason string) *sefaz.Response {
	return soapOK(`<retEnviNFe versao="4.00"><cStat>104</cStat><xMotivo>Lote processado</xMotivo>` +
		`<protNFe versao="4.00"><infProt><chNFe>` + accessKey + `</chNFe><cStat>` + code + `</cStat>` +
		`<xMotivo>` + reason + `</xMotivo></infProt></protNFe></retEnviNFe>`)
}

func receiptResponse(nRec string) *sefaz.Response {
	return soapOK(`<retEnviNFe versao="4.00"><cStat>103</cStat><xMotivo>Lote recebido com sucesso</xMotivo>` +
		`<infRec><nRec>` + nRec + `</nRec><tMed>1</tMed></infRec></retEnviNFe>`)
}

func batchQueryAuthorized() *sefaz.Response {
	return soapOK(`<retConsReciNFe versao="4.00"><cStat>104</cStat><xMotivo>Lote processado</xMotivo>` +
		`<protNFe versao="4.00"><infProt><chNFe>` + accessKey + `</chNFe><nProt>` + protocolNum + `</nProt>` +
		`<dhRecbto>2025-01-15T10:31:00-03:00</dhRecbto><cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe>` +
		`</retConsReciNFe>`)
}

func documentQuery(status, reason, events string) *sefaz.Response {
	return soapOK(`<retConsSitNFe versao="4.00"><cStat>` + status + `</cStat><xMotivo>` + reason + `</xMotivo>` +
		`<chNFe>` + accessKey + `</chNFe>` + events + `</retConsSitNFe>`)
}

func registeredEvent(eventType string, seq, status, protocol string) string {
	return `<procEventoNFe versao="1.00"><evento><infEvento><nSeqEvento>` + seq + `</nSeqEvento></infEvento></evento>` +
		`<retEvento versao="1.00"><infEvento><cStat>` + status + `</cStat><tpEvento>` + eventType + `</tpEvento>` +
		`<nSeqEvento>` + seq + `</nSeqEvento><dhRegEvento>2025-01-16T09:00:00-03:00</dhRegEvento>` +
		`<nProt>` + protocol + `</nProt></infEvento></retEvento></procEventoNFe>`
}

func eventResponse(status, reason, protocol string) *sefaz.Response {
	return soapOK(`<retEnvEvento versao="1.00"><cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo>` +
		`<retEvento versao="1.00"><infEvento><cStat>` + status + `</cStat><xMotivo>` + reason + `</xMotivo>` +
		`<chNFe>` + accessKey + `</chNFe><dhRegEvento>2025-01-16T09:00:00-03:00</dhRegEvento>` +
		`<nProt>` + protocol + `</nProt></infEvento></retEvento></retEnvEvento>`)
}

func timeoutResponse() *sefaz.Response {
	return &sefaz.Response{StatusCode: 408, Error: "timeout"}
}

// ── Transporte falso ─────────────────────────────────────────────────────────

// fakeTransport responde por operación; la última respuesta de la cola se repite.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string][]*sefaz.Response
	calls     map[string]int
	requests  []sefaz.Request
	delay     time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string][]*sefaz.Response),
		calls:     make(map[string]int),
	}
}

func (f *fakeTransport) on(op sefaz.Operation, resp ...*sefaz.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op.SOAPAction()] = resp
}

func (f *fakeTransport) Send(_ context.Context, req sefaz.Request) *sefaz.Response {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	n := f.calls[req.SOAPAction]
	f.calls[req.SOAPAction] = n + 1
	queue := f.responses[req.SOAPAction]
	if len(queue) == 0 {
		return &sefaz.Response{StatusCode: 500, Error: "sin respuesta configurada"}
	}
	if n >= len(queue) {
		n = len(queue) - 1
	}
	return queue[n]
}

func (f *fakeTransport) count(op sefaz.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op.SOAPAction()]
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) lastEnvelope(op sefaz.Operation) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].SOAPAction == op.SOAPAction() {
			return f.requests[i].Envelope
		}
	}
	return ""
}

// passthroughSigner devuelve el XML sin firmar; la firma se prueba en su paquete.
type passthroughSigner struct{}

func (passthroughSigner) Sign(xmlBytes []byte, _ tls.Certificate) ([]byte, error) {
	return xmlBytes, nil
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingScheduler) Schedule(_, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, documentID)
}

func (r *recordingScheduler) scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type fakeRenderer struct{}

func (fakeRenderer) Render(doc *entity.FiscalDocument) ([]byte, error) {
	return []byte("%PDF-" + doc.AccessKey), nil
}

// ── Entorno ──────────────────────────────────────────────────────────────────

type testEnv struct {
	mgr       *fiscal.Manager
	docs      *memory.DocumentStore
	letters   *memory.CorrectionStore
	certs     *memory.CertificateStore
	transport *fakeTransport
	scheduler *recordingScheduler
}

func newTestEnv(t *testing.T, opts ...func(*fiscal.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	pfx, err := os.ReadFile("../../infrastructure/certificate/testdata/full.pfx.b64")
	require.NoError(t, err)
	certs := memory.NewCertificateStore()
	require.NoError(t, certs.Save(ctx, &entity.TenantCertificate{
		TenantID:  tenantID,
		PFXBase64: strings.TrimSpace(string(pfx)),
		Password:  "s3nh@",
	}))

	endpoints, err := sefaz.DefaultEndpoints("2", nil)
	require.NoError(t, err)

	log := zerolog.Nop()
	creds := fiscal.NewCredentialProvider(certs, certificate.NewCache(certificate.DefaultCacheCeiling), log)
	transport := newFakeTransport()
	docs := memory.NewDocumentStore()
	letters := memory.NewCorrectionStore()

	cfg := fiscal.Config{
		Environment:   "2",
		UFCode:        "35",
		Endpoints:     endpoints,
		Timeout:       time.Second,
		GuardWait:     10 * time.Second,
		PublicBaseURL: "https://nfe.example.com/",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	mgr := fiscal.NewManager(fiscal.Deps{
		Documents:   docs,
		Corrections: letters,
		Guard:       memory.NewGuard(),
		Credentials: creds,
		Transport:   transport,
		Events:      fiscal.NewDirectEventSubmitter(creds, passthroughSigner{}, transport, endpoints, time.Second, log),
		DANFE:       fakeRenderer{},
	}, cfg, log)

	scheduler := &recordingScheduler{}
	mgr.SetPollScheduler(scheduler)

	return &testEnv{
		mgr:       mgr,
		docs:      docs,
		letters:   letters,
		certs:     certs,
		transport: transport,
		scheduler: scheduler,
	}
}

func (e *testEnv) seed(t *testing.T, mutate func(d *entity.FiscalDocument)) *entity.FiscalDocument {
	t.Helper()
	now := time.Now()
	doc := &entity.FiscalDocument{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Number:            123,
		Series:            1,
		Status:            entity.StatusDraft,
		PayloadXML:        signedNFe,
		TotalAmount:       decimal.RequireFromString("150.00"),
		RecipientName:     "Cliente Teste",
		RecipientDocument: "98765432000198",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if mutate != nil {
		mutate(doc)
	}
	require.NoError(t, e.docs.Create(context.Background(), doc))
	return doc
}

func (e *testEnv) seedAuthorized(t *testing.T, authorizedAt time.Time) *entity.FiscalDocument {
	t.Helper()
	return e.seed(t, func(d *entity.FiscalDocument) {
		d.Status = entity.StatusAuthorized
		d.AccessKey = accessKey
		d.ProtocolNumber = protocolNum
		d.AuthorizedAt = &authorizedAt
		d.AuthorizedXML = "<nfeProc/>"
	})
}

func (e *testEnv) reload(t *testing.T, id string) *entity.FiscalDocument {
	t.Helper()
	doc, err := e.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func (e *testEnv) letterList(t *testing.T, documentID string) []*entity.CorrectionLetter {
	t.Helper()
	got, err := e.letters.ListByDocument(context.Background(), documentID)
	require.NoError(t, err)
	return got
}
