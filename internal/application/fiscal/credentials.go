package fiscal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
)

// CredentialProvider entrega la credencial del tenant desde el repositorio,
// pasando por la caché de credenciales decodificadas.
type CredentialProvider struct {
	repo  repository.CertificateRepository
	cache *certificate.Cache
	log   zerolog.Logger
	now   func() time.Time
}

// NewCredentialProvider construye el proveedor.
func NewCredentialProvider(repo repository.CertificateRepository, cache *certificate.Cache, log zerolog.Logger) *CredentialProvider {
	return &CredentialProvider{
		repo:  repo,
		cache: cache,
		log:   log.With().Str("component", "credential_provider").Logger(),
		now:   time.Now,
	}
}

// ForTenant devuelve certificate.ErrCertificateNotConfigured si el tenant no
// cargó certificado.
func (p *CredentialProvider) ForTenant(ctx context.Context, tenantID string) (*certificate.Credential, error) {
	stored, err := p.repo.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: leer certificado del tenant: %w", err)
	}
	if stored == nil || strings.TrimSpace(stored.PFXBase64) == "" {
		return nil, certificate.ErrCertificateNotConfigured
	}
	return p.cache.Get(tenantID, stored.PFXBase64, stored.Password)
}

// Upload valida el bundle, lo guarda y descarta la credencial cacheada.
// Un bundle que no se puede abrir no se persiste.
func (p *CredentialProvider) Upload(ctx context.Context, tenantID, pfxBase64, password string) (*Result, error) {
	cred, err := certificate.Extract(pfxBase64, password)
	if err != nil {
		p.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("certificado rechazado al cargar")
		return credentialFailure(err), nil
	}
	if cred.ExpiredAt(p.now()) {
		err := fmt.Errorf("%w: venció el %s", certificate.ErrCertificateExpired, cred.NotAfter.Format("02/01/2006"))
		return credentialFailure(err), nil
	}

	if err := p.repo.Save(ctx, &entity.TenantCertificate{
		TenantID:  tenantID,
		PFXBase64: pfxBase64,
		Password:  password,
		UpdatedAt: p.now(),
	}); err != nil {
		return nil, fmt.Errorf("fiscal: guardar certificado: %w", err)
	}
	p.cache.Invalidate(tenantID)

	p.log.Info().Str("tenant_id", tenantID).Time("not_after", cred.NotAfter).Msg("certificado actualizado")
	return ok(CertificateInfo{Subject: cred.Subject, NotAfter: cred.NotAfter}), nil
}

// CertificateInfo datos públicos del certificado cargado.
type CertificateInfo struct {
	Subject  string    `json:"subject"`
	NotAfter time.Time `json:"not_after"`
}
