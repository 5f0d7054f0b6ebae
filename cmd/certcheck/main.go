// certcheck diagnostica el certificado A1 de un tenant sin levantar el servicio.
//
// Uso: go run ./cmd/certcheck <ruta/certificado.pfx> [contraseña]
// Si no se pasa la contraseña se lee de CERT_PASSWORD. El archivo puede ser
// el .pfx binario o su contenido en base64 (como se guarda en la base).
// Imprime solo el sujeto y el vencimiento; nunca la llave.
package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, time.Now()))
}

func run(args []string, stdout, stderr io.Writer, now time.Time) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "uso: certcheck <certificado.pfx> [contraseña]")
		return 2
	}
	password := os.Getenv("CERT_PASSWORD")
	if len(args) > 1 {
		password = args[1]
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "ERROR DE ARCHIVO: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Archivo: %s (%d bytes)\n", args[0], len(raw))

	cred, err := certificate.Extract(asBase64(raw), password)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR DE CERTIFICADO: %s\n", diagnose(err))
		return 1
	}

	fmt.Fprintf(stdout, "Sujeto:      %s\n", cred.Subject)
	fmt.Fprintf(stdout, "Vence:       %s\n", cred.NotAfter.Format("02/01/2006 15:04"))
	if cred.ExpiredAt(now) {
		fmt.Fprintln(stderr, "ERROR DE CERTIFICADO: vencido, la SEFAZ rechazará la conexión")
		return 1
	}
	fmt.Fprintf(stdout, "Días restantes: %d\n", int(cred.NotAfter.Sub(now).Hours()/24))
	return 0
}

// asBase64 acepta el .pfx binario o ya codificado.
func asBase64(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if _, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
		return string(trimmed)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func diagnose(err error) string {
	switch {
	case errors.Is(err, certificate.ErrWrongPassword):
		return "contraseña incorrecta"
	case errors.Is(err, certificate.ErrNoPrivateKeyFound):
		return "el archivo no contiene la llave privada (¿exportó solo el certificado?)"
	case errors.Is(err, certificate.ErrNoCertificateFound):
		return "el archivo no contiene un certificado utilizable"
	default:
		return err.Error()
	}
}
