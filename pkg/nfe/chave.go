package nfe

import (
	"fmt"
	"strconv"
)

// AccessKeyLength longitud de la chave de acceso de la NF-e.
const AccessKeyLength = 44

// ValidateAccessKey verifica que la chave tenga 44 dígitos y que el dígito
// verificador (posición 44) sea correcto según el módulo 11 con pesos 2..9.
// Acepta la chave con espacios o con el prefijo "NFe" del atributo Id.
func ValidateAccessKey(key string) error {
	digits := extractDigits(key)
	if len(digits) != AccessKeyLength {
		return fmt.Errorf("nfe: chave de acceso debe tener 44 dígitos, se encontraron %d", len(digits))
	}
	expected := checkDigit(digits[:AccessKeyLength-1])
	if digits[AccessKeyLength-1] != expected {
		return fmt.Errorf("nfe: dígito verificador inválido: esperado %c, recibido %c", expected, digits[AccessKeyLength-1])
	}
	return nil
}

// ComputeAccessKeyCheckDigit calcula el cDV para los 43 primeros dígitos de la chave.
func ComputeAccessKeyCheckDigit(partial string) (byte, error) {
	digits := extractDigits(partial)
	if len(digits) != AccessKeyLength-1 {
		return 0, fmt.Errorf("nfe: se requieren 43 dígitos para calcular el cDV, se encontraron %d", len(digits))
	}
	return checkDigit(digits), nil
}

// NormalizeAccessKey devuelve solo los dígitos de la chave (quita "NFe", espacios, etc.).
func NormalizeAccessKey(key string) string {
	return string(extractDigits(key))
}

// checkDigit aplica pesos 2,3,...,9 de derecha a izquierda; resto 0 o 1 ⇒ 0.
func checkDigit(digits []byte) byte {
	var sum int
	weight := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	remainder := sum % 11
	if remainder == 0 || remainder == 1 {
		return '0'
	}
	return byte('0' + (11 - remainder))
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, byte(r))
		}
	}
	return out
}

// AccessKeyUF cUF (dos primeros dígitos) de una chave válida.
func AccessKeyUF(key string) string {
	digits := extractDigits(key)
	if len(digits) != AccessKeyLength {
		return ""
	}
	return string(digits[0:2])
}

// AccessKeyIssuerCNPJ CNPJ del emisor (posiciones 7 a 20) de una chave válida.
func AccessKeyIssuerCNPJ(key string) string {
	digits := extractDigits(key)
	if len(digits) != AccessKeyLength {
		return ""
	}
	return string(digits[6:20])
}

// AccessKeySeries serie (posiciones 23 a 25) de una chave válida; -1 si no lo es.
func AccessKeySeries(key string) int {
	return keyField(key, 22, 25)
}

// AccessKeyNumber nNF (posiciones 26 a 34) de una chave válida; -1 si no lo es.
func AccessKeyNumber(key string) int64 {
	return int64(keyField(key, 25, 34))
}

func keyField(key string, from, to int) int {
	digits := extractDigits(key)
	if len(digits) != AccessKeyLength {
		return -1
	}
	n, err := strconv.Atoi(string(digits[from:to]))
	if err != nil {
		return -1
	}
	return n
}
