package sefaz

import "time"

// AutorizacaoResult respuesta de NFeAutorizacao4, NFeRetAutorizacao4 o
// NFeConsultaProtocolo4. Status y Reason salen de protNFe/infProt cuando existe
// (resultado del documento) y del lote en caso contrario.
type AutorizacaoResult struct {
	Status         string // cStat
	Reason         string // xMotivo
	BatchStatus    string
	BatchReason    string
	ReceiptNumber  string // nRec (procesamiento asíncrono)
	ProtocolNumber string // nProt
	AuthorizedAt   time.Time
	AccessKey      string
	ProtocolXML    string // <protNFe> tal como vino, para armar nfeProc
	Events         []RegisteredEvent
}

// HasProtocol indica que la respuesta trae resultado del documento (protNFe).
func (r *AutorizacaoResult) HasProtocol() bool {
	return r.ProtocolXML != ""
}

// RegisteredEvent evento vinculado a la NF-e según consSitNFe (procEventoNFe).
type RegisteredEvent struct {
	EventType    string
	Sequence     int
	Status       string
	Protocol     string
	RegisteredAt time.Time
}

// StatusServicoResult respuesta de NFeStatusServico4.
type StatusServicoResult struct {
	UF                  string
	Status              string
	Reason              string
	MeanResponseSeconds int // tMed
	ReceivedAt          time.Time
}

// EventResult respuesta de NFeRecepcaoEvento4 para el primer evento del lote.
type EventResult struct {
	Status       string // cStat del evento (retEvento/infEvento)
	Reason       string
	BatchStatus  string
	BatchReason  string
	EventType    string
	Sequence     int
	AccessKey    string
	Protocol     string
	RegisteredAt time.Time
}
