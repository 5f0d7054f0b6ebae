package sefaz

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// extractionStrategy busca el elemento tag dentro del soap:Body.
type extractionStrategy func(body *etree.Element, tag string) *etree.Element

// Las SEFAZ estaduales no responden todas igual: unas ponen el retorno
// directo en el Body y otras dentro de nfeResultMsg o de un <xxxResult>.
// Se prueban en orden y gana la primera que encuentra el elemento.
var extractionStrategies = []extractionStrategy{
	directInBody,
	nestedInResultWrapper,
}

func directInBody(body *etree.Element, tag string) *etree.Element {
	return findChild(body, tag)
}

func nestedInResultWrapper(body *etree.Element, tag string) *etree.Element {
	for _, wrapper := range body.ChildElements() {
		name := strings.ToLower(wrapper.Tag)
		if !strings.HasSuffix(name, "resultmsg") && !strings.HasSuffix(name, "result") {
			continue
		}
		if el := findChild(wrapper, tag); el != nil {
			return el
		}
	}
	return nil
}

// ── Parsers públicos ─────────────────────────────────────────────────────────

// ParseAuthorizationResponse interpreta retEnviNFe, retConsReciNFe o
// retConsSitNFe. Devuelve nil si la forma no es la esperada.
func ParseAuthorizationResponse(raw []byte) *AutorizacaoResult {
	ret := locate(raw, "retEnviNFe", "retConsReciNFe", "retConsSitNFe")
	if ret == nil {
		return nil
	}
	res := &AutorizacaoResult{
		BatchStatus: childText(ret, "cStat"),
		BatchReason: childText(ret, "xMotivo"),
		AccessKey:   childText(ret, "chNFe"),
	}
	if res.BatchStatus == "" {
		return nil
	}
	res.Status, res.Reason = res.BatchStatus, res.BatchReason
	if rec := findChild(ret, "infRec"); rec != nil {
		res.ReceiptNumber = childText(rec, "nRec")
	}
	if res.ReceiptNumber == "" {
		res.ReceiptNumber = childText(ret, "nRec")
	}

	if prot := findChild(ret, "protNFe"); prot != nil {
		if inf := findChild(prot, "infProt"); inf != nil {
			if st := childText(inf, "cStat"); st != "" {
				res.Status = st
				res.Reason = childText(inf, "xMotivo")
			}
			res.ProtocolNumber = childText(inf, "nProt")
			res.AuthorizedAt = parseTimestamp(childText(inf, "dhRecbto"))
			if key := childText(inf, "chNFe"); key != "" {
				res.AccessKey = key
			}
		}
		res.ProtocolXML = serialize(prot)
	}

	for _, proc := range findChildren(ret, "procEventoNFe") {
		if ev := parseRegisteredEvent(proc); ev != nil {
			res.Events = append(res.Events, *ev)
		}
	}
	return res
}

// ParseServiceStatusResponse interpreta retConsStatServ.
func ParseServiceStatusResponse(raw []byte) *StatusServicoResult {
	ret := locate(raw, "retConsStatServ")
	if ret == nil {
		return nil
	}
	res := &StatusServicoResult{
		UF:         childText(ret, "cUF"),
		Status:     childText(ret, "cStat"),
		Reason:     childText(ret, "xMotivo"),
		ReceivedAt: parseTimestamp(childText(ret, "dhRecbto")),
	}
	if res.Status == "" {
		return nil
	}
	res.MeanResponseSeconds, _ = strconv.Atoi(childText(ret, "tMed"))
	return res
}

// ParseEventResponse interpreta retEnvEvento. El estado del evento
// (retEvento/infEvento) prevalece sobre el del lote.
func ParseEventResponse(raw []byte) *EventResult {
	ret := locate(raw, "retEnvEvento")
	if ret == nil {
		return nil
	}
	res := &EventResult{
		BatchStatus: childText(ret, "cStat"),
		BatchReason: childText(ret, "xMotivo"),
	}
	if res.BatchStatus == "" {
		return nil
	}
	res.Status, res.Reason = res.BatchStatus, res.BatchReason
	if retEv := findChild(ret, "retEvento"); retEv != nil {
		if inf := findChild(retEv, "infEvento"); inf != nil {
			if st := childText(inf, "cStat"); st != "" {
				res.Status = st
				res.Reason = childText(inf, "xMotivo")
			}
			res.EventType = childText(inf, "tpEvento")
			res.Sequence, _ = strconv.Atoi(childText(inf, "nSeqEvento"))
			res.AccessKey = childText(inf, "chNFe")
			res.Protocol = childText(inf, "nProt")
			res.RegisteredAt = parseTimestamp(childText(inf, "dhRegEvento"))
		}
	}
	return res
}

func parseRegisteredEvent(proc *etree.Element) *RegisteredEvent {
	retEv := findChild(proc, "retEvento")
	if retEv == nil {
		return nil
	}
	inf := findChild(retEv, "infEvento")
	if inf == nil {
		return nil
	}
	ev := &RegisteredEvent{
		EventType:    childText(inf, "tpEvento"),
		Status:       childText(inf, "cStat"),
		Protocol:     childText(inf, "nProt"),
		RegisteredAt: parseTimestamp(childText(inf, "dhRegEvento")),
	}
	ev.Sequence, _ = strconv.Atoi(childText(inf, "nSeqEvento"))
	if ev.Sequence == 0 {
		// algunas UF omiten nSeqEvento en el retorno; queda en el evento enviado
		if evento := findChild(proc, "evento"); evento != nil {
			if sent := findChild(evento, "infEvento"); sent != nil {
				ev.Sequence, _ = strconv.Atoi(childText(sent, "nSeqEvento"))
			}
		}
	}
	return ev
}

// ── Navegación tolerante ─────────────────────────────────────────────────────

// locate lee el envelope y prueba cada estrategia con cada tag candidato.
func locate(raw []byte, tags ...string) *etree.Element {
	body := soapBody(raw)
	if body == nil {
		return nil
	}
	for _, strategy := range extractionStrategies {
		for _, tag := range tags {
			if el := strategy(body, tag); el != nil {
				return el
			}
		}
	}
	return nil
}

func soapBody(raw []byte) *etree.Element {
	if len(raw) == 0 {
		return nil
	}
	doc := newDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil
	}
	root := doc.Root()
	if root == nil || !strings.EqualFold(root.Tag, "Envelope") {
		return nil
	}
	return findChild(root, "Body")
}

// newDocument documento etree que acepta respuestas en ISO-8859-1.
func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	return doc
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	}
	return input, nil
}

// findChild primer hijo directo con ese nombre local, sin distinguir mayúsculas.
func findChild(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if strings.EqualFold(c.Tag, tag) {
			return c
		}
	}
	return nil
}

func findChildren(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if strings.EqualFold(c.Tag, tag) {
			out = append(out, c)
		}
	}
	return out
}

func findDescendant(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if strings.EqualFold(c.Tag, tag) {
			return c
		}
		if found := findDescendant(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func childText(el *etree.Element, tag string) string {
	if c := findChild(el, tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func attrValue(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func serialize(el *etree.Element) string {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	out, err := doc.WriteToString()
	if err != nil {
		return ""
	}
	return out
}

// parseTimestamp acepta dhRecbto con y sin zona horaria.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
