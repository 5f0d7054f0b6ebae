package sefaz

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ── Lote ──────────────────────────────────────────────────────────────────────

// NewBatchID idLote numérico de hasta 15 dígitos derivado de un UUID v4.
func NewBatchID() string {
	id := uuid.New()
	n := binary.BigEndian.Uint64(id[:8]) % 1_000_000_000_000_000
	if n == 0 {
		n = 1
	}
	return fmt.Sprintf("%d", n)
}

// BuildSubmitBatch arma enviNFe con un solo documento en modo síncrono
// (indSinc=1). signedNFe se inserta sin tocar.
func BuildSubmitBatch(batchID, signedNFe string) (string, error) {
	doc := stripXMLDeclaration(signedNFe)
	if doc == "" {
		return "", fmt.Errorf("sefaz: enviNFe sin documento")
	}
	if batchID == "" {
		return "", fmt.Errorf("sefaz: enviNFe sin idLote")
	}
	var sb strings.Builder
	sb.Grow(len(doc) + 256)
	sb.WriteString(`<enviNFe xmlns="` + nfe.NamespaceNFe + `" versao="` + nfe.LayoutVersion + `">`)
	sb.WriteString(`<idLote>` + batchID + `</idLote>`)
	sb.WriteString(`<indSinc>1</indSinc>`)
	sb.WriteString(doc)
	sb.WriteString(`</enviNFe>`)
	return sb.String(), nil
}

// ── Consultas ─────────────────────────────────────────────────────────────────

// BuildQueryBatch consReciNFe: resultado de un lote recibido en modo asíncrono.
func BuildQueryBatch(environment, receiptNumber string) (string, error) {
	if receiptNumber == "" {
		return "", fmt.Errorf("sefaz: consReciNFe sin nRec")
	}
	root := newRoot("consReciNFe", nfe.LayoutVersion)
	root.CreateElement("tpAmb").SetText(environment)
	root.CreateElement("nRec").SetText(receiptNumber)
	return writeElement(root)
}

// BuildQueryDocument consSitNFe: situación actual de la NF-e por chave.
func BuildQueryDocument(environment, accessKey string) (string, error) {
	if err := nfe.ValidateAccessKey(accessKey); err != nil {
		return "", err
	}
	root := newRoot("consSitNFe", nfe.LayoutVersion)
	root.CreateElement("tpAmb").SetText(environment)
	root.CreateElement("xServ").SetText("CONSULTAR")
	root.CreateElement("chNFe").SetText(nfe.NormalizeAccessKey(accessKey))
	return writeElement(root)
}

// BuildServiceStatus consStatServ para la UF (código IBGE de dos dígitos).
func BuildServiceStatus(environment, ufCode string) (string, error) {
	if len(ufCode) != 2 {
		return "", fmt.Errorf("sefaz: cUF inválido %q", ufCode)
	}
	root := newRoot("consStatServ", nfe.LayoutVersion)
	root.CreateElement("tpAmb").SetText(environment)
	root.CreateElement("cUF").SetText(ufCode)
	root.CreateElement("xServ").SetText("STATUS")
	return writeElement(root)
}

// ── Eventos ───────────────────────────────────────────────────────────────────

// Event datos de un evento de la NF-e (cancelamento o carta de correção).
type Event struct {
	Type        string // tpEvento
	AccessKey   string
	Sequence    int
	Environment string
	OccurredAt  time.Time

	// Cancelamento
	Protocol      string
	Justification string

	// Carta de Correção
	Correction string
}

// brasilia horario oficial de la SEFAZ; sin horario de verano desde 2019.
var brasilia = time.FixedZone("BRT", -3*60*60)

// EventID Id de infEvento: "ID" + tpEvento + chave + nSeqEvento (2 dígitos).
func EventID(eventType, accessKey string, sequence int) string {
	return fmt.Sprintf("ID%s%s%02d", eventType, nfe.NormalizeAccessKey(accessKey), sequence)
}

// BuildEvent arma envEvento con un solo evento, sin firmar. El texto del
// usuario (xJust, xCorrecao) queda escapado por etree.
func BuildEvent(batchID string, ev Event) (string, error) {
	if err := nfe.ValidateAccessKey(ev.AccessKey); err != nil {
		return "", err
	}
	desc, ok := nfe.EventDescriptions[ev.Type]
	if !ok {
		return "", fmt.Errorf("sefaz: tipo de evento no soportado %q", ev.Type)
	}
	if ev.Sequence < 1 || ev.Sequence > 99 {
		return "", fmt.Errorf("sefaz: nSeqEvento fuera de rango: %d", ev.Sequence)
	}
	key := nfe.NormalizeAccessKey(ev.AccessKey)

	root := newRoot("envEvento", nfe.EventLayoutVersion)
	root.CreateElement("idLote").SetText(batchID)

	evento := root.CreateElement("evento")
	evento.CreateAttr("versao", nfe.EventLayoutVersion)

	inf := evento.CreateElement("infEvento")
	inf.CreateAttr("Id", EventID(ev.Type, key, ev.Sequence))
	inf.CreateElement("cOrgao").SetText(nfe.AccessKeyUF(key))
	inf.CreateElement("tpAmb").SetText(ev.Environment)
	inf.CreateElement("CNPJ").SetText(nfe.AccessKeyIssuerCNPJ(key))
	inf.CreateElement("chNFe").SetText(key)
	inf.CreateElement("dhEvento").SetText(ev.OccurredAt.In(brasilia).Format("2006-01-02T15:04:05-07:00"))
	inf.CreateElement("tpEvento").SetText(ev.Type)
	inf.CreateElement("nSeqEvento").SetText(fmt.Sprintf("%d", ev.Sequence))
	inf.CreateElement("verEvento").SetText(nfe.EventLayoutVersion)

	det := inf.CreateElement("detEvento")
	det.CreateAttr("versao", nfe.EventLayoutVersion)
	det.CreateElement("descEvento").SetText(desc)
	switch ev.Type {
	case nfe.EventTypeCancellation:
		if ev.Protocol == "" {
			return "", fmt.Errorf("sefaz: cancelamento sin nProt")
		}
		det.CreateElement("nProt").SetText(ev.Protocol)
		det.CreateElement("xJust").SetText(ev.Justification)
	case nfe.EventTypeCorrection:
		det.CreateElement("xCorrecao").SetText(ev.Correction)
		det.CreateElement("xCondUso").SetText(nfe.CorrectionUseConditions)
	}
	return writeElement(root)
}

// ── nfeProc y chave ───────────────────────────────────────────────────────────

// BuildNFeProc une el documento firmado y su protNFe en el XML de distribución.
func BuildNFeProc(signedNFe, protocolXML string) string {
	var sb strings.Builder
	sb.WriteString(xmlDeclaration)
	sb.WriteString(`<nfeProc xmlns="` + nfe.NamespaceNFe + `" versao="` + nfe.LayoutVersion + `">`)
	sb.WriteString(stripXMLDeclaration(signedNFe))
	sb.WriteString(stripXMLDeclaration(protocolXML))
	sb.WriteString(`</nfeProc>`)
	return sb.String()
}

// IntendedAccessKey chave que el documento declara en infNFe/@Id ("NFe" + 44 dígitos).
func IntendedAccessKey(signedNFe string) (string, error) {
	doc := newDocument()
	if err := doc.ReadFromString(signedNFe); err != nil {
		return "", fmt.Errorf("sefaz: documento ilegible: %w", err)
	}
	inf := findDescendant(&doc.Element, "infNFe")
	if inf == nil {
		return "", fmt.Errorf("sefaz: el documento no tiene infNFe")
	}
	id := attrValue(inf, "Id")
	if id == "" {
		return "", fmt.Errorf("sefaz: infNFe sin atributo Id")
	}
	if err := nfe.ValidateAccessKey(id); err != nil {
		return "", err
	}
	return nfe.NormalizeAccessKey(id), nil
}

func newRoot(tag, version string) *etree.Element {
	root := etree.NewElement(tag)
	root.CreateAttr("xmlns", nfe.NamespaceNFe)
	root.CreateAttr("versao", version)
	return root
}

func writeElement(root *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(root)
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("sefaz: serializar %s: %w", root.Tag, err)
	}
	return out, nil
}
