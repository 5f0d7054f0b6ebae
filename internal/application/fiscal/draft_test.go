package fiscal_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/application/fiscal"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
)

func TestRegisterDraft_AsignaSiguienteNumero(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, nil)

	res, err := e.mgr.RegisterDraft(context.Background(), tenantID, fiscal.DraftInput{
		Series:      1,
		PayloadXML:  signedNFe,
		TotalAmount: decimal.RequireFromString("150.00"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	doc := res.Data.(*entity.FiscalDocument)
	assert.Equal(t, entity.StatusDraft, doc.Status)
	assert.Equal(t, int64(124), doc.Number)
	assert.Empty(t, doc.AccessKey, "la chave solo se fija al autorizar")
	assert.NotEmpty(t, res.Warnings, "el payload declara 123: hay que regenerarlo")
	assert.Zero(t, e.transport.total())
}

func TestRegisterDraft_NumeroRepetido(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, nil)

	res, err := e.mgr.RegisterDraft(context.Background(), tenantID, fiscal.DraftInput{
		Series: 1, Number: 123, PayloadXML: signedNFe,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "duplicate", res.Failure.Code)
}

func TestRegisterDraft_PayloadSinChave(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.mgr.RegisterDraft(context.Background(), tenantID, fiscal.DraftInput{
		Series: 1, PayloadXML: `<NFe><infNFe Id="NFe123"/></NFe>`,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, fiscal.CategoryBusinessRule, res.Failure.Category)
	assert.Equal(t, "invalid_input", res.Failure.Code)

	res, err = e.mgr.RegisterDraft(context.Background(), tenantID, fiscal.DraftInput{Series: 1})
	require.NoError(t, err)
	assert.Equal(t, "invalid_input", res.Failure.Code)
}

func TestRegisterDraft_ChaveDeOtraNumeracion(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.mgr.RegisterDraft(context.Background(), tenantID, fiscal.DraftInput{
		Series: 1, Number: 124, PayloadXML: signedNFe,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "key_mismatch", res.Failure.Code)

	res, err = e.mgr.RegisterDraft(context.Background(), tenantID, fiscal.DraftInput{
		Series: 2, PayloadXML: signedNFe,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "key_mismatch", res.Failure.Code)
}

func TestSubmit_DuplicadoExigePayloadConSuNumeracion(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	newKey := accessKeyFor(t, 124)
	e.transport.on(sefaz.OpSubmitBatch,
		rejectedResponse("778", "Rejeicao: Informado NCM inexistente"),
		authorizedResponseFor(newKey))
	original := e.seed(t, nil)

	res, err := e.mgr.Submit(ctx, tenantID, original.ID)
	require.NoError(t, err)
	require.Equal(t, fiscal.CategoryAuthority, res.Failure.Category)

	res, err = e.mgr.DuplicateAsNew(ctx, tenantID, original.ID)
	require.NoError(t, err)
	dup := res.Data.(*entity.FiscalDocument)
	require.Equal(t, int64(124), dup.Number)

	// El duplicado conserva el payload con la chave del número 123.
	res, err = e.mgr.Submit(ctx, tenantID, dup.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "key_mismatch", res.Failure.Code)
	assert.Equal(t, 1, e.transport.count(sefaz.OpSubmitBatch), "no llega a la red")
	assert.Equal(t, entity.StatusDraft, e.reload(t, dup.ID).Status)

	res, err = e.mgr.UpdateDraftPayload(ctx, tenantID, dup.ID, signedNFe)
	require.NoError(t, err)
	assert.Equal(t, "key_mismatch", res.Failure.Code, "el payload viejo no se acepta")

	res, err = e.mgr.UpdateDraftPayload(ctx, tenantID, dup.ID, signedNFeWithKey(newKey))
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	res, err = e.mgr.Submit(ctx, tenantID, dup.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Failure)

	got := e.reload(t, dup.ID)
	assert.Equal(t, entity.StatusAuthorized, got.Status)
	assert.Equal(t, newKey, got.AccessKey)
	envelope := e.transport.lastEnvelope(sefaz.OpSubmitBatch)
	assert.Contains(t, envelope, newKey)
	assert.NotContains(t, envelope, accessKey)
	assert.Equal(t, entity.StatusRejected, e.reload(t, original.ID).Status)
}

func TestUpdateDraftPayload_SoloEnDraft(t *testing.T) {
	e := newTestEnv(t)
	doc := e.seedAuthorized(t, time.Now())

	res, err := e.mgr.UpdateDraftPayload(context.Background(), tenantID, doc.ID, signedNFe)
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", res.Failure.Code)

	res, err = e.mgr.UpdateDraftPayload(context.Background(), "otro-tenant", doc.ID, signedNFe)
	require.NoError(t, err)
	assert.Equal(t, "not_found", res.Failure.Code)
}
