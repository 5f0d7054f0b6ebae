// Package nfe: interfaz para firma digital de eventos XML (XMLDSig, NF-e).

package nfe

import "crypto/tls"

// Signer firma un XML de evento y devuelve el XML con el nodo Signature.
type Signer interface {
	// Sign toma el <envEvento> sin firma y el certificado con llave privada, y
	// retorna el XML con <Signature> como hermano de cada <infEvento>.
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}
