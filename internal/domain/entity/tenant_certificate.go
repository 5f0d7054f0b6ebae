package entity

import "time"

// TenantCertificate certificado A1 (.pfx) cargado por el tenant.
// El contenido decodificado nunca se persiste; solo el bundle original.
type TenantCertificate struct {
	TenantID  string
	PFXBase64 string
	Password  string
	UpdatedAt time.Time
}
