// Package certificate decodifica el certificado A1 (PKCS#12) del tenant en el
// material usado para mTLS y para firmar eventos. Nada de lo decodificado se
// persiste ni se registra en logs.
package certificate

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// Errores del extractor. El llamador los muestra como "corrija su certificado".
var (
	ErrInvalidCertificateBundle = errors.New("certificado: bundle PKCS#12 inválido")
	ErrWrongPassword            = errors.New("certificado: contraseña incorrecta")
	ErrNoCertificateFound       = errors.New("certificado: el bundle no contiene certificado")
	ErrNoPrivateKeyFound        = errors.New("certificado: el bundle no contiene llave privada")
	ErrCertificateExpired       = errors.New("certificado: vencido")
)

// Credential material decodificado de un bundle PKCS#12. Vive solo en memoria.
type Credential struct {
	CertificatePEM []byte // hoja primero, luego la cadena incluida en el bundle
	PrivateKeyPEM  []byte // PKCS#8
	NotAfter       time.Time
	Subject        string

	leaf *x509.Certificate
}

// ExpiredAt indica si el certificado ya no es válido en now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return !now.Before(c.NotAfter)
}

// Fingerprint SHA-256 (hex) del certificado hoja; identifica el cliente TLS reutilizable.
func (c *Credential) Fingerprint() string {
	if c.leaf == nil {
		return ""
	}
	sum := sha256.Sum256(c.leaf.Raw)
	return hex.EncodeToString(sum[:])
}

// TLSCertificate arma el par para tls.Config.Certificates y para el firmador.
func (c *Credential) TLSCertificate() (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(c.CertificatePEM, c.PrivateKeyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certificado: armar par TLS: %w", err)
	}
	cert.Leaf = c.leaf
	return cert, nil
}

// Extract decodifica el .pfx en base64 con la contraseña dada.
// Los bundles de las AC brasileñas suelen traer la cadena completa; la hoja es
// el certificado cuya llave pública corresponde a la llave privada.
func Extract(pfxBase64, password string) (*Credential, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(pfxBase64), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidCertificateBundle, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: contenido vacío", ErrInvalidCertificateBundle)
	}

	blocks, err := pkcs12.ToPEM(raw, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificateBundle, err)
	}

	var certs []*x509.Certificate
	var key crypto.Signer
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: certificado ilegible: %v", ErrInvalidCertificateBundle, err)
			}
			certs = append(certs, cert)
		case "PRIVATE KEY":
			k, err := parsePrivateKey(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCertificateBundle, err)
			}
			key = k
		}
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificateFound
	}
	if key == nil {
		return nil, ErrNoPrivateKeyFound
	}

	leafIdx := -1
	for i, c := range certs {
		if pub, ok := c.PublicKey.(interface{ Equal(crypto.PublicKey) bool }); ok && pub.Equal(key.Public()) {
			leafIdx = i
			break
		}
	}
	if leafIdx < 0 {
		return nil, fmt.Errorf("%w: ningún certificado corresponde a la llave privada", ErrNoCertificateFound)
	}
	leaf := certs[leafIdx]

	var certPEM bytes.Buffer
	_ = pem.Encode(&certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
	for i, c := range certs {
		if i == leafIdx {
			continue
		}
		_ = pem.Encode(&certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: serializar llave: %v", ErrInvalidCertificateBundle, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})

	return &Credential{
		CertificatePEM: certPEM.Bytes(),
		PrivateKeyPEM:  keyPEM,
		NotAfter:       leaf.NotAfter,
		Subject:        leaf.Subject.String(),
		leaf:           leaf,
	}, nil
}

// parsePrivateKey acepta lo que entrega pkcs12.ToPEM: PKCS#1 para RSA y SEC1
// para EC bajo el tipo "PRIVATE KEY"; PKCS#8 queda como último intento.
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("llave privada ilegible: %w", err)
	}
	switch key := k.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("tipo de llave no soportado %T", k)
	}
}

// ErrCertificateNotConfigured el tenant no cargó su certificado A1.
var ErrCertificateNotConfigured = errors.New("certificado: el tenant no tiene certificado A1 cargado")

// IsCredentialError indica si err es un problema del certificado del tenant
// (corregible por el usuario) y no una falla de infraestructura.
func IsCredentialError(err error) bool {
	for _, target := range []error{
		ErrInvalidCertificateBundle,
		ErrWrongPassword,
		ErrNoCertificateFound,
		ErrNoPrivateKeyFound,
		ErrCertificateExpired,
		ErrCertificateNotConfigured,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
