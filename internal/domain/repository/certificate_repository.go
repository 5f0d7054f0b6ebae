package repository

import (
	"context"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
)

// CertificateRepository entrega el bundle PKCS#12 del tenant.
type CertificateRepository interface {
	// GetByTenant devuelve (nil, nil) si el tenant no cargó certificado.
	GetByTenant(ctx context.Context, tenantID string) (*entity.TenantCertificate, error)
	// Save reemplaza el certificado del tenant.
	Save(ctx context.Context, cert *entity.TenantCertificate) error
}
