package sefaz

import (
	"fmt"
	"strings"
)

const (
	soap12NS         = "http://www.w3.org/2003/05/soap-envelope"
	soapContentType  = "application/soap+xml; charset=utf-8"
	xmlDeclaration   = `<?xml version="1.0" encoding="utf-8"?>`
	envelopeOpenTag  = `<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap12="` + soap12NS + `">`
	envelopeCloseTag = `</soap12:Envelope>`
)

// BuildEnvelope envuelve documentXML en soap12:Envelope/soap12:Body/nfeDadosMsg.
// El documento va tal cual: ya viene firmado y cualquier re-escape o
// normalización invalidaría la firma.
func BuildEnvelope(op Operation, documentXML string) (string, error) {
	spec, err := op.Spec()
	if err != nil {
		return "", err
	}
	doc := stripXMLDeclaration(documentXML)
	if doc == "" {
		return "", fmt.Errorf("sefaz: documento vacío para %s", op)
	}

	var sb strings.Builder
	sb.Grow(len(doc) + 512)
	sb.WriteString(xmlDeclaration)
	sb.WriteString(envelopeOpenTag)
	sb.WriteString(`<soap12:Body>`)
	sb.WriteString(`<nfeDadosMsg xmlns="` + spec.Namespace + `">`)
	sb.WriteString(doc)
	sb.WriteString(`</nfeDadosMsg>`)
	sb.WriteString(`</soap12:Body>`)
	sb.WriteString(envelopeCloseTag)
	return sb.String(), nil
}

// stripXMLDeclaration quita el prólogo <?xml ...?>: no puede aparecer dentro del Body.
func stripXMLDeclaration(doc string) string {
	doc = strings.TrimSpace(doc)
	if strings.HasPrefix(doc, "<?xml") {
		if end := strings.Index(doc, "?>"); end >= 0 {
			doc = strings.TrimSpace(doc[end+2:])
		}
	}
	return doc
}
