package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

var _ repository.CertificateRepository = (*CertificateRepo)(nil)

// CertificateRepo bundle PKCS#12 por tenant (tenant_certificates).
type CertificateRepo struct {
	q Querier
}

func NewCertificateRepository(q Querier) *CertificateRepo {
	return &CertificateRepo{q: q}
}

func (r *CertificateRepo) GetByTenant(ctx context.Context, tenantID string) (*entity.TenantCertificate, error) {
	var c entity.TenantCertificate
	err := r.q.QueryRow(ctx,
		`SELECT tenant_id, pfx_base64, password, updated_at FROM tenant_certificates WHERE tenant_id = $1`,
		tenantID,
	).Scan(&c.TenantID, &c.PFXBase64, &c.Password, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant certificate: %w", err)
	}
	return &c, nil
}

func (r *CertificateRepo) Save(ctx context.Context, c *entity.TenantCertificate) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO tenant_certificates (tenant_id, pfx_base64, password, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE
		SET pfx_base64 = EXCLUDED.pfx_base64, password = EXCLUDED.password, updated_at = EXCLUDED.updated_at`,
		c.TenantID, c.PFXBase64, c.Password, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save tenant certificate: %w", err)
	}
	return nil
}
