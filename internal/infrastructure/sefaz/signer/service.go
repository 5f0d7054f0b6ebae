// Firma XMLDSig (enveloped, RSA-SHA1, C14N) de los eventos de la NF-e.
// Inserta <Signature> como hermano de cada <infEvento> dentro de <evento>.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// EventSigner implementa nfe.Signer.
type EventSigner struct{}

// NewEventSigner crea el firmador.
func NewEventSigner() *EventSigner {
	return &EventSigner{}
}

// Sign firma cada infEvento del envEvento con el certificado del tenant.
func (s *EventSigner) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("firma: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("firma: el certificado debe incluir llave privada RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("firma: certificado sin cadena")
	}
	certB64 := base64.StdEncoding.EncodeToString(cert.Certificate[0])

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("firma: parsear XML: %w", err)
	}

	eventos := collect(&doc.Element, "evento")
	if len(eventos) == 0 {
		return nil, fmt.Errorf("firma: no se encontró <evento>")
	}
	for _, evento := range eventos {
		inf := child(evento, "infEvento")
		if inf == nil {
			return nil, fmt.Errorf("firma: <evento> sin <infEvento>")
		}
		id := inf.SelectAttrValue("Id", "")
		if id == "" {
			return nil, fmt.Errorf("firma: infEvento sin atributo Id")
		}

		canonicalInf, err := canonicalizeElement(inf)
		if err != nil {
			return nil, fmt.Errorf("firma: canonicalizar infEvento: %w", err)
		}
		digest := sha1.Sum(canonicalInf)

		signedInfoXML := buildSignedInfo(id, base64.StdEncoding.EncodeToString(digest[:]))
		canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
		if err != nil {
			return nil, fmt.Errorf("firma: canonicalizar SignedInfo: %w", err)
		}
		hash := sha1.Sum(canonicalSignedInfo)
		sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, hash[:])
		if err != nil {
			return nil, fmt.Errorf("firma: firmar SignedInfo: %w", err)
		}

		sigDoc := etree.NewDocument()
		if err := sigDoc.ReadFromString(buildSignature(signedInfoXML, base64.StdEncoding.EncodeToString(sig), certB64)); err != nil {
			return nil, fmt.Errorf("firma: parsear Signature: %w", err)
		}
		evento.AddChild(sigDoc.Root())
	}

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("firma: serializar: %w", err)
	}
	return out.Bytes(), nil
}

// canonicalizeElement C14N del subárbol incluyendo el namespace heredado del padre.
func canonicalizeElement(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil {
		if ns := el.NamespaceURI(); ns != "" {
			cp.CreateAttr("xmlns", ns)
		} else {
			cp.CreateAttr("xmlns", nfe.NamespaceNFe)
		}
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return canonicalizeXML(raw)
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// buildSignedInfo lleva su propio xmlns para que la forma canónica coincida con
// la del verificador, que la calcula heredando el namespace de <Signature>.
func buildSignedInfo(id, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"></CanonicalizationMethod>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA1 + `"></SignatureMethod>`)
	sb.WriteString(`<Reference URI="#` + id + `">`)
	sb.WriteString(`<Transforms>`)
	sb.WriteString(`<Transform Algorithm="` + TransformEnveloped + `"></Transform>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"></Transform>`)
	sb.WriteString(`</Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA1 + `"></DigestMethod>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(strings.Replace(signedInfoXML, ` xmlns="`+NamespaceDS+`"`, "", 1))
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

func child(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func collect(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
			continue
		}
		out = append(out, collect(c, tag)...)
	}
	return out
}

var _ nfe.Signer = (*EventSigner)(nil)
