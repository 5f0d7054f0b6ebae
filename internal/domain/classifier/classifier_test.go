package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/classifier"
)

func kinds(errs []classifier.ClassifiedError) []classifier.Kind {
	out := make([]classifier.Kind, len(errs))
	for i, e := range errs {
		out[i] = e.Kind
	}
	return out
}

func find(errs []classifier.ClassifiedError, k classifier.Kind) *classifier.ClassifiedError {
	for i := range errs {
		if errs[i].Kind == k {
			return &errs[i]
		}
	}
	return nil
}

func TestClassify_Aditivo(t *testing.T) {
	errs := classifier.Classify("Produtos sem NCM: Camiseta Azul, Calça Jeans. Endereço do destinatário incompleto.")

	require.GreaterOrEqual(t, len(errs), 2)
	ncm := find(errs, classifier.KindMissingTaxClassification)
	require.NotNil(t, ncm)
	require.NotNil(t, ncm.Related)
	assert.Equal(t, "product", ncm.Related.Type)
	assert.Equal(t, []string{"Camiseta Azul", "Calça Jeans"}, ncm.Related.Names)
	assert.Contains(t, ncm.Message, "Camiseta Azul")
	assert.Equal(t, "/products", ncm.Remediation.Page)

	addr := find(errs, classifier.KindIncompleteAddress)
	require.NotNil(t, addr)
	assert.Equal(t, "edit_address", addr.Remediation.Action)

	assert.Nil(t, find(errs, classifier.KindUnclassified))
}

func TestClassify_SinCoincidenciaDevuelveMensajeTalCual(t *testing.T) {
	raw := "Gateway indisponível, tente novamente mais tarde"
	errs := classifier.Classify(raw)

	require.Len(t, errs, 1)
	assert.Equal(t, classifier.KindUnclassified, errs[0].Kind)
	assert.Equal(t, raw, errs[0].Message)
	assert.Equal(t, classifier.RouteFor(classifier.KindUnclassified), errs[0].Remediation)
}

func TestClassify_CodigoEntreCorchetes(t *testing.T) {
	errs := classifier.Classify("[778] Rejeicao: Informado NCM inexistente [nItem:1]")

	require.Len(t, errs, 1)
	assert.Equal(t, classifier.KindMissingTaxClassification, errs[0].Kind)
	assert.Equal(t, "778", errs[0].Code)
	assert.Equal(t, "Rejeição: Informado NCM inexistente", errs[0].Message)
}

func TestClassify_DeduplicaPorKind(t *testing.T) {
	errs := classifier.Classify("[225] Rejeição: Falha no Schema XML da NFe. Campo obrigatório não informado")
	assert.Equal(t, []classifier.Kind{classifier.KindMissingRequiredField}, kinds(errs))
	assert.Equal(t, "225", errs[0].Code)
}

func TestClassify_CodigoSinKindConservaMotivoCanonico(t *testing.T) {
	errs := classifier.Classify("[539] Duplicidade")
	require.Len(t, errs, 1)
	assert.Equal(t, classifier.KindUnclassified, errs[0].Kind)
	assert.Equal(t, "539", errs[0].Code)
	assert.Contains(t, errs[0].Reason, "Duplicidade de NF-e")
}

func TestClassify_CodigoSinKindConservaDetalleDeLaSefaz(t *testing.T) {
	raw := "[573] Rejeicao: Duplicidade de evento [chNFe:35250112345678000195550010000001231000000129][nSeqEvento:1]"
	errs := classifier.Classify(raw)

	require.Len(t, errs, 1)
	assert.Equal(t, classifier.KindUnclassified, errs[0].Kind)
	assert.Equal(t, raw, errs[0].Message, "el texto de la SEFAZ no se pierde")
	assert.Equal(t, "Rejeição: Duplicidade de Evento", errs[0].Reason)
	assert.Equal(t, classifier.RouteFor(classifier.KindUnclassified), errs[0].Remediation)
}

func TestClassify_CodigoConKindTraeMotivoCanonico(t *testing.T) {
	errs := classifier.Classify("[778] Rejeicao: Informado NCM inexistente")
	require.Len(t, errs, 1)
	assert.Equal(t, "Rejeição: Informado NCM inexistente", errs[0].Reason)
}

func TestClassify_CodigoDesconocidoCaeEnPatrones(t *testing.T) {
	errs := classifier.Classify("[123] CNPJ do destinatário inválido")
	assert.Equal(t, []classifier.Kind{classifier.KindInvalidPartyDocument}, kinds(errs))
	assert.Empty(t, errs[0].Code)
}

func TestClassify_SinAcentosNiMayusculas(t *testing.T) {
	errs := classifier.Classify("CODIGO DO MUNICIPIO DO DESTINATARIO INVALIDO")
	assert.Equal(t, []classifier.Kind{classifier.KindMissingRegionCode}, kinds(errs))
}

func TestClassify_TextoDeGateway(t *testing.T) {
	errs := classifier.Classify("Validation failed: products without NCM: Mouse and Teclado; invalid shipping address")

	ncm := find(errs, classifier.KindMissingTaxClassification)
	require.NotNil(t, ncm)
	require.NotNil(t, ncm.Related)
	assert.Equal(t, []string{"Mouse", "Teclado"}, ncm.Related.Names)
	assert.NotNil(t, find(errs, classifier.KindIncompleteAddress))
}

func TestRouteFor_TodosLosKindsTienenRuta(t *testing.T) {
	for _, k := range classifier.Kinds() {
		r := classifier.RouteFor(k)
		assert.NotEmpty(t, r.Page, "%s sin página", k)
		assert.NotEmpty(t, r.Action, "%s sin acción", k)
		assert.NotEmpty(t, r.Label, "%s sin etiqueta", k)
	}
}

func TestCodes(t *testing.T) {
	assert.Equal(t, []string{"204", "999"}, classifier.Codes("[204] x [999] y [12]"))
	reason, ok := classifier.CanonicalReason("204")
	assert.True(t, ok)
	assert.Equal(t, "Rejeição: Duplicidade de NF-e", reason)
}
