// Package nfe contiene catálogos y reglas del Manual de Orientação do
// Contribuinte (MOC) de la NF-e 4.00 usados por el motor de emisión.
package nfe

// =============================================================================
// Versiones de layout
// =============================================================================

const (
	LayoutVersion      = "4.00" // enviNFe, consReciNFe, consSitNFe, consStatServ
	EventLayoutVersion = "1.00" // envEvento / evento / detEvento
	NamespaceNFe       = "http://www.portalfiscal.inf.br/nfe"
)

// =============================================================================
// tpAmb - Identificación del ambiente
// =============================================================================

const (
	EnvironmentProduction   = "1"
	EnvironmentHomologation = "2"
)

// =============================================================================
// cStat - Códigos de situación devueltos por la SEFAZ (uso frecuente)
// =============================================================================

const (
	StatusAuthorized        = "100" // Autorizado o uso da NF-e
	StatusCancelHomologated = "101" // Cancelamento de NF-e homologado
	StatusBatchReceived     = "103" // Lote recebido com sucesso
	StatusBatchProcessed    = "104" // Lote processado
	StatusBatchInProcess    = "105" // Lote em processamento
	StatusBatchNotFound     = "106" // Lote não localizado
	StatusServiceRunning    = "107" // Serviço em Operação
	StatusServiceStopped    = "108" // Serviço Paralisado Momentaneamente
	StatusServiceHalted     = "109" // Serviço Paralisado sem Previsão
	StatusUseDenied         = "110" // Uso Denegado
	StatusEventBatch        = "128" // Lote de Evento Processado
	StatusEventLinked       = "135" // Evento registrado e vinculado a NF-e
	StatusEventNotLinked    = "136" // Evento registrado, mas não vinculado a NF-e
	StatusCancelLate        = "151" // Cancelamento de NF-e homologado fora de prazo
	StatusEventLateCancel   = "155" // Cancelamento homologado fora de prazo
	StatusDocumentNotFound  = "217" // NF-e não consta na base de dados da SEFAZ
)

// EventAccepted indica si el cStat de un evento significa registro en la SEFAZ.
func EventAccepted(cStat string) bool {
	switch cStat {
	case StatusEventLinked, StatusEventNotLinked, StatusEventLateCancel:
		return true
	}
	return false
}

// DocumentCanceled indica que el cStat de consSitNFe corresponde a una NF-e cancelada.
func DocumentCanceled(cStat string) bool {
	return cStat == StatusCancelHomologated || cStat == StatusCancelLate
}

// BatchStillProcessing indica que el lote aún no tiene resultado definitivo.
func BatchStillProcessing(cStat string) bool {
	return cStat == StatusBatchReceived || cStat == StatusBatchInProcess
}

// =============================================================================
// tpEvento - Tipos de evento
// =============================================================================

const (
	EventTypeCorrection   = "110110" // Carta de Correção
	EventTypeCancellation = "110111" // Cancelamento
)

// EventDescriptions descEvento obligatorio por tipo de evento.
var EventDescriptions = map[string]string{
	EventTypeCorrection:   "Carta de Correcao",
	EventTypeCancellation: "Cancelamento",
}

// CorrectionUseConditions xCondUso fijo exigido en la CC-e (MOC, evento 110110).
const CorrectionUseConditions = "A Carta de Correcao e disciplinada pelo paragrafo 1o-A do art. 7o do Convenio S/N, " +
	"de 15 de dezembro de 1970 e pode ser utilizada para regularizacao de erro ocorrido na emissao de documento fiscal, " +
	"desde que o erro nao esteja relacionado com: I - as variaveis que determinam o valor do imposto tais como: " +
	"base de calculo, aliquota, diferenca de preco, quantidade, valor da operacao ou da prestacao; " +
	"II - a correcao de dados cadastrais que implique mudanca do remetente ou do destinatario; " +
	"III - a data de emissao ou de saida."

// Límites de la justificación de cancelación (xJust).
const (
	MinCancelReasonChars = 15
	MaxCancelReasonChars = 255
)

// =============================================================================
// cUF - Código IBGE de las unidades federativas
// =============================================================================

var UFCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27", "SE": "28", "BA": "29",
	"MG": "31", "ES": "32", "RJ": "33", "SP": "35",
	"PR": "41", "SC": "42", "RS": "43",
	"MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// OrgaoAmbienteNacional cOrgao del Ambiente Nacional (eventos recibidos por el AN).
const OrgaoAmbienteNacional = "91"
