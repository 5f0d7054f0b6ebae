package fiscal_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/application/fiscal"
	"github.com/jhoicas/nfe-emissor/internal/domain/classifier"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

func TestSubmit_AutorizaYGuardaArtefactos(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitBatch, authorizedResponse())
	doc := env.seed(t, nil)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status)
	assert.Equal(t, accessKey, got.AccessKey)
	assert.Len(t, got.AccessKey, 44)
	assert.Equal(t, protocolNum, got.ProtocolNumber)
	require.NotNil(t, got.AuthorizedAt)
	assert.Equal(t, 2025, got.AuthorizedAt.Year())
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotEmpty(t, got.BatchID)
	assert.Contains(t, got.AuthorizedXML, `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	assert.Contains(t, got.AuthorizedXML, signedNFe)
	assert.Contains(t, got.AuthorizedXML, "<nProt>"+protocolNum+"</nProt>")
	assert.Equal(t, "https://nfe.example.com/api/documents/"+doc.ID+"/danfe", got.DocumentURL)
	assert.Equal(t, "https://nfe.example.com/api/documents/"+doc.ID+"/xml", got.XMLURL)

	env.transport.mu.Lock()
	req := env.transport.requests[0]
	env.transport.mu.Unlock()
	assert.Equal(t, "http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4/nfeAutorizacaoLote", req.SOAPAction)
	assert.NotNil(t, req.Credential, "el envío usa la credencial del tenant")
	assert.Contains(t, req.Envelope, "<indSinc>1</indSinc>"+signedNFe)
	assert.Empty(t, env.scheduler.scheduled())
}

func TestSubmit_IdempotenteNoReenvia(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitBatch, authorizedResponse())
	doc := env.seed(t, nil)

	_, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.CategoryBusinessRule, res.Failure.Category)
	assert.Equal(t, "invalid_state", res.Failure.Code)
	assert.Equal(t, 1, env.transport.count(sefaz.OpSubmitBatch))
}

func TestSubmit_ConcurrenteUnSoloEnvio(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.delay = 50 * time.Millisecond
	env.transport.on(sefaz.OpSubmitBatch, authorizedResponse())
	doc := env.seed(t, nil)

	const callers = 10
	results := make([]*fiscal.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.Success {
			successes++
			continue
		}
		assert.Contains(t, []string{"submission_in_flight", "invalid_state"}, res.Failure.Code)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, env.transport.count(sefaz.OpSubmitBatch))
	assert.Equal(t, entity.StatusAuthorized, env.reload(t, doc.ID).Status)
}

func TestSubmit_FallaDeTransporteQuedaPendingSinReenvio(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitBatch, timeoutResponse())
	doc := env.seed(t, nil)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, fiscal.CategoryTransport, res.Failure.Category)
	assert.True(t, res.Failure.Retryable)
	assert.Contains(t, res.Failure.Message, "timeout")

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, "timeout", got.LastTransportError)
	assert.Empty(t, got.AccessKey)
	assert.Equal(t, []string{doc.ID}, env.scheduler.scheduled())

	res, err = env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code, "un pending nunca se reenvía")
	assert.Equal(t, 1, env.transport.count(sefaz.OpSubmitBatch))
}

func TestSubmit_RespuestaIlegibleEsResultadoDesconocido(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitBatch, &sefaz.Response{Success: true, StatusCode: 200, Body: []byte("<html>proxy</html>")})
	doc := env.seed(t, nil)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.CategoryTransport, res.Failure.Category)
	assert.Equal(t, entity.StatusPending, env.reload(t, doc.ID).Status)
}

func TestSubmit_RechazoClasificado(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitBatch, rejectedResponse("778", "Rejeicao: Informado NCM inexistente"))
	doc := env.seed(t, nil)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, fiscal.CategoryAuthority, res.Failure.Category)
	assert.Equal(t, "778", res.Failure.Code)
	assert.Equal(t, "[778] Rejeicao: Informado NCM inexistente", res.Failure.Message)
	require.NotEmpty(t, res.ClassifiedErrors)
	assert.Equal(t, classifier.KindMissingTaxClassification, res.ClassifiedErrors[0].Kind)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusRejected, got.Status)
	assert.Equal(t, "778", got.RejectionCode)
	assert.Empty(t, got.AccessKey)
}

func TestSubmit_LoteAsincronoYConsultaPorRecibo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitBatch, receiptResponse("351000000012345"))
	env.transport.on(sefaz.OpQueryBatch, batchQueryAuthorized())
	doc := env.seed(t, nil)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, "351000000012345", got.ReceiptNumber)
	assert.Equal(t, []string{doc.ID}, env.scheduler.scheduled())

	res, err = env.mgr.PollStatus(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, env.transport.lastEnvelope(sefaz.OpQueryBatch), "<nRec>351000000012345</nRec>")
	assert.Zero(t, env.transport.count(sefaz.OpQueryDocument))

	got = env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status)
	assert.Equal(t, protocolNum, got.ProtocolNumber)
}

func TestSubmit_CodigoYaProcesadoConfiguradoSeConsulta(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *fiscal.Config) {
		c.AlreadyProcessedCodes = []string{" 204 "}
	})
	env.transport.on(sefaz.OpSubmitBatch, rejectedResponse("204", "Rejeicao: Duplicidade de NF-e"))
	doc := env.seed(t, nil)

	res, err := env.mgr.Submit(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, entity.StatusPending, env.reload(t, doc.ID).Status)
	assert.Equal(t, []string{doc.ID}, env.scheduler.scheduled())
}

func TestPollStatus_PorChaveSinRegistroVuelveADraft(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpQueryDocument, documentQuery("217", "Rejeicao: NF-e nao consta na base de dados da SEFAZ", ""))
	doc := env.seed(t, func(d *entity.FiscalDocument) {
		d.Status = entity.StatusPending
		d.BatchID = "123"
		d.LastTransportError = "timeout"
	})

	res, err := env.mgr.PollStatus(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, env.transport.lastEnvelope(sefaz.OpQueryDocument), "<chNFe>"+accessKey+"</chNFe>")

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusDraft, got.Status)
	assert.Empty(t, got.BatchID)
	assert.Empty(t, got.LastTransportError)
}

func TestPollStatus_PorChaveAutoriza(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpQueryDocument, documentQuery("100", "Autorizado o uso da NF-e",
		`<protNFe versao="4.00"><infProt><chNFe>`+accessKey+`</chNFe><nProt>`+protocolNum+`</nProt>`+
			`<cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe>`))
	doc := env.seed(t, func(d *entity.FiscalDocument) { d.Status = entity.StatusPending })

	res, err := env.mgr.PollStatus(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status)
	assert.Equal(t, accessKey, got.AccessKey)
}

func TestPollStatus_FallaDeTransporteSiguePending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpQueryDocument, timeoutResponse())
	doc := env.seed(t, func(d *entity.FiscalDocument) { d.Status = entity.StatusPending })

	res, err := env.mgr.PollStatus(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.CategoryTransport, res.Failure.Category)
	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, "timeout", got.LastTransportError)
}

func TestEstados_OperacionesIlegalesSeRechazanLocalmente(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	draft := env.seed(t, nil)
	pending := env.seed(t, func(d *entity.FiscalDocument) {
		d.Number = 124
		d.Status = entity.StatusPending
	})

	res, err := env.mgr.Cancel(ctx, tenantID, draft.ID, "Cancelamento por erro de digitação")
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code, "cancel en draft")

	res, err = env.mgr.AddCorrection(ctx, tenantID, pending.ID, "Corrigir complemento do endereço do destinatário")
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code, "CC-e en pending")

	res, err = env.mgr.PollStatus(ctx, tenantID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code, "poll en draft")

	res, err = env.mgr.DuplicateAsNew(ctx, tenantID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code, "duplicar un draft")

	assert.Zero(t, env.transport.total(), "ninguna regla local llega a la red")
}

func TestCancel_AceptadoConservaChave(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitEvent, eventResponse("135", "Evento registrado e vinculado a NF-e", "135250000777777"))
	doc := env.seedAuthorized(t, time.Now().Add(-time.Hour))

	res, err := env.mgr.Cancel(ctx, tenantID, doc.ID, "  Cancelamento por erro de digitação  ")
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusCanceled, got.Status)
	assert.Equal(t, accessKey, got.AccessKey)
	assert.Equal(t, "135250000777777", got.CancelProtocol)
	assert.Equal(t, "Cancelamento por erro de digitação", got.CancelReason)
	require.NotNil(t, got.CanceledAt)

	envelope := env.transport.lastEnvelope(sefaz.OpSubmitEvent)
	assert.Contains(t, envelope, "<tpEvento>110111</tpEvento>")
	assert.Contains(t, envelope, "<nSeqEvento>1</nSeqEvento>")
	assert.Contains(t, envelope, "<nProt>"+protocolNum+"</nProt>")
}

func TestCancel_RechazoMantieneAutorizado(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitEvent, eventResponse("501", "Rejeicao: Prazo de cancelamento superior ao previsto na Legislacao", ""))
	doc := env.seedAuthorized(t, time.Now().Add(-time.Hour))

	res, err := env.mgr.Cancel(ctx, tenantID, doc.ID, "Cancelamento por erro de digitação")
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, fiscal.CategoryAuthority, res.Failure.Category)
	assert.Contains(t, res.Failure.Message, "Prazo de cancelamento")
	assert.Equal(t, entity.StatusAuthorized, env.reload(t, doc.ID).Status)
}

func TestCancel_ReglasLocales(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	recent := env.seedAuthorized(t, time.Now().Add(-time.Hour))
	old := env.seed(t, func(d *entity.FiscalDocument) {
		at := time.Now().Add(-25 * time.Hour)
		d.Number = 124
		d.Status = entity.StatusAuthorized
		d.AccessKey = accessKey
		d.AuthorizedAt = &at
	})

	res, err := env.mgr.Cancel(ctx, tenantID, recent.ID, "muito curto")
	require.NoError(t, err)
	assert.Equal(t, "cancel_reason_length", res.Failure.Code)

	res, err = env.mgr.Cancel(ctx, tenantID, recent.ID, strings.Repeat("x", 256))
	require.NoError(t, err)
	assert.Equal(t, "cancel_reason_length", res.Failure.Code)

	res, err = env.mgr.Cancel(ctx, tenantID, old.ID, "Cancelamento por erro de digitação")
	require.NoError(t, err)
	assert.Equal(t, "cancel_window_expired", res.Failure.Code)

	assert.Zero(t, env.transport.total())
}

func TestDuplicateAsNew_NumeroNuevoYEnlace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	rejected := env.seed(t, func(d *entity.FiscalDocument) {
		d.Status = entity.StatusRejected
		d.RejectionCode = "778"
	})
	env.seed(t, func(d *entity.FiscalDocument) { d.Number = 124 })

	res, err := env.mgr.DuplicateAsNew(ctx, tenantID, rejected.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)

	dup, ok := res.Data.(*entity.FiscalDocument)
	require.True(t, ok)
	assert.NotEqual(t, rejected.ID, dup.ID)
	assert.Equal(t, int64(125), dup.Number)
	assert.Equal(t, rejected.Series, dup.Series)
	assert.Equal(t, entity.StatusDraft, dup.Status)
	assert.Equal(t, rejected.ID, dup.DuplicatedFrom)
	assert.Equal(t, signedNFe, dup.PayloadXML)
	assert.Empty(t, dup.AccessKey)

	src := env.reload(t, rejected.ID)
	assert.Equal(t, entity.StatusRejected, src.Status, "el rechazado no cambia")
}

func TestCredencial_SinCertificadoNoLlegaALaRed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.seed(t, func(d *entity.FiscalDocument) { d.TenantID = "tenant-sin-cert" })

	res, err := env.mgr.Submit(ctx, "tenant-sin-cert", doc.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, fiscal.CategoryCredential, res.Failure.Category)
	assert.Equal(t, "certificate_not_configured", res.Failure.Code)
	assert.Zero(t, env.transport.total())
	assert.Equal(t, entity.StatusDraft, env.reload(t, doc.ID).Status)
}

func TestGet_OtroTenantNoVeElDocumento(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.seed(t, nil)

	res, err := env.mgr.Get(ctx, "otro-tenant", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "not_found", res.Failure.Code)

	res, err = env.mgr.Get(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestAuthorizedXMLYDANFE(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	authorized := env.seedAuthorized(t, time.Now())
	draft := env.seed(t, func(d *entity.FiscalDocument) { d.Number = 124 })

	res, err := env.mgr.AuthorizedXML(ctx, tenantID, authorized.ID)
	require.NoError(t, err)
	assert.Equal(t, "<nfeProc/>", res.Data)

	res, err = env.mgr.RenderDANFE(ctx, tenantID, authorized.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-"+accessKey), res.Data)

	res, err = env.mgr.RenderDANFE(ctx, tenantID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code)
}

func TestQueryServiceStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpQueryServiceStatus, soapOK(`<retConsStatServ versao="4.00"><tpAmb>2</tpAmb>`+
		`<cStat>107</cStat><xMotivo>Servico em Operacao</xMotivo><cUF>35</cUF><tMed>1</tMed></retConsStatServ>`))

	res, err := env.mgr.QueryServiceStatus(ctx, tenantID)
	require.NoError(t, err)
	require.True(t, res.Success)
	st, ok := res.Data.(*sefaz.StatusServicoResult)
	require.True(t, ok)
	assert.Equal(t, "107", st.Status)
	assert.Contains(t, env.transport.lastEnvelope(sefaz.OpQueryServiceStatus), "<cUF>35</cUF>")

	env.transport.on(sefaz.OpQueryServiceStatus, soapOK(`<retConsStatServ><cStat>108</cStat><xMotivo>Servico Paralisado</xMotivo></retConsStatServ>`))
	res, err = env.mgr.QueryServiceStatus(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Failure.Retryable)
}

func TestPollStatus_LoteNoLocalizadoConsultaPorChave(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpQueryBatch, soapOK(`<retConsReciNFe versao="4.00"><tpAmb>2</tpAmb>`+
		`<cStat>106</cStat><xMotivo>Lote nao localizado</xMotivo></retConsReciNFe>`))
	env.transport.on(sefaz.OpQueryDocument, documentQuery("100", "Autorizado o uso da NF-e",
		`<protNFe versao="4.00"><infProt><chNFe>`+accessKey+`</chNFe><nProt>`+protocolNum+`</nProt>`+
			`<cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe>`))
	doc := env.seed(t, func(d *entity.FiscalDocument) {
		d.Status = entity.StatusPending
		d.ReceiptNumber = "351000000012345"
	})

	res, err := env.mgr.PollStatus(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)
	assert.Equal(t, 1, env.transport.count(sefaz.OpQueryBatch))
	assert.Contains(t, env.transport.lastEnvelope(sefaz.OpQueryDocument), "<chNFe>"+accessKey+"</chNFe>")

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status, "un lote perdido no rechaza el documento")
	assert.Equal(t, protocolNum, got.ProtocolNumber)
	assert.Empty(t, got.ReceiptNumber)
}

func TestPollStatus_LoteNoLocalizadoSinRespuestaSiguePending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpQueryBatch, soapOK(`<retConsReciNFe><cStat>106</cStat><xMotivo>Lote nao localizado</xMotivo></retConsReciNFe>`))
	env.transport.on(sefaz.OpQueryDocument, timeoutResponse())
	doc := env.seed(t, func(d *entity.FiscalDocument) {
		d.Status = entity.StatusPending
		d.ReceiptNumber = "351000000012345"
	})

	res, err := env.mgr.PollStatus(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.CategoryTransport, res.Failure.Category)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Empty(t, got.ReceiptNumber, "la próxima consulta va por chave")
}

func TestCancel_ResultadoDesconocidoSeConciliaComoCancelada(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitEvent, timeoutResponse())
	doc := env.seedAuthorized(t, time.Now().Add(-time.Hour))
	reason := "Cancelamento por erro de digitação"

	res, err := env.mgr.Cancel(ctx, tenantID, doc.ID, reason)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, fiscal.CategoryTransport, res.Failure.Category)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status)
	require.NotNil(t, got.CancelRequestedAt)
	assert.Equal(t, reason, got.CancelReason)
	assert.True(t, got.CancelPending())

	// Sin conciliar no se reenvía el 110111.
	res, err = env.mgr.Cancel(ctx, tenantID, doc.ID, reason)
	require.NoError(t, err)
	assert.Equal(t, "cancel_pending", res.Failure.Code)
	assert.Equal(t, 1, env.transport.count(sefaz.OpSubmitEvent))

	env.transport.on(sefaz.OpQueryDocument, documentQuery("101", "Cancelamento de NF-e homologado",
		registeredEvent(nfe.EventTypeCancellation, "1", "135", "135250000888888")))
	res, err = env.mgr.ReconcileCancellation(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	got = env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusCanceled, got.Status)
	assert.Equal(t, accessKey, got.AccessKey)
	assert.Equal(t, "135250000888888", got.CancelProtocol)
	assert.Equal(t, reason, got.CancelReason)
	assert.Nil(t, got.CancelRequestedAt)
	require.NotNil(t, got.CanceledAt)

	res, err = env.mgr.ReconcileCancellation(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, env.transport.count(sefaz.OpQueryDocument), "ya cancelado no vuelve a consultar")
}

func TestCancel_ConciliacionSinRegistroPermiteReintentar(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitEvent, timeoutResponse())
	doc := env.seedAuthorized(t, time.Now().Add(-time.Hour))

	_, err := env.mgr.Cancel(ctx, tenantID, doc.ID, "Cancelamento por erro de digitação")
	require.NoError(t, err)

	// Consulta sin respuesta: la marca se conserva.
	env.transport.on(sefaz.OpQueryDocument, timeoutResponse())
	res, err := env.mgr.ReconcileCancellation(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.CategoryTransport, res.Failure.Category)
	assert.True(t, env.reload(t, doc.ID).CancelPending())

	env.transport.on(sefaz.OpQueryDocument, documentQuery("100", "Autorizado o uso da NF-e", ""))
	res, err = env.mgr.ReconcileCancellation(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)
	assert.NotEmpty(t, res.Warnings)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status)
	assert.False(t, got.CancelPending())

	env.transport.on(sefaz.OpSubmitEvent, eventResponse("135", "Evento registrado e vinculado a NF-e", "135250000777777"))
	res, err = env.mgr.Cancel(ctx, tenantID, doc.ID, "Cancelamento por erro de digitação")
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)
	assert.Equal(t, entity.StatusCanceled, env.reload(t, doc.ID).Status)
	assert.Equal(t, 2, env.transport.count(sefaz.OpSubmitEvent))
}

func TestReconcileCorrections_AplicaCancelacionRegistrada(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.transport.on(sefaz.OpSubmitEvent, timeoutResponse())
	doc := env.seedAuthorized(t, time.Now().Add(-time.Hour))

	res, err := env.mgr.AddCorrection(ctx, tenantID, doc.ID, "Corrigir complemento do endereço do destinatário")
	require.NoError(t, err)
	require.Equal(t, fiscal.CategoryTransport, res.Failure.Category)

	env.transport.on(sefaz.OpQueryDocument, documentQuery("101", "Cancelamento de NF-e homologado",
		registeredEvent(nfe.EventTypeCancellation, "1", "135", "135250000888888")))
	res, err = env.mgr.ReconcileCorrections(ctx, tenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	got := env.reload(t, doc.ID)
	assert.Equal(t, entity.StatusCanceled, got.Status)
	assert.Equal(t, "135250000888888", got.CancelProtocol)
	assert.Empty(t, env.letterList(t, doc.ID), "la CC-e no registrada se descarta")
}
