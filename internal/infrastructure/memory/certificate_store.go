package memory

import (
	"context"
	"sync"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

// CertificateStore certificados de los tenants en memoria.
type CertificateStore struct {
	mu    sync.RWMutex
	certs map[string]entity.TenantCertificate
}

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{certs: make(map[string]entity.TenantCertificate)}
}

func (s *CertificateStore) GetByTenant(_ context.Context, tenantID string) (*entity.TenantCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[tenantID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *CertificateStore) Save(_ context.Context, cert *entity.TenantCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[cert.TenantID] = *cert
	return nil
}

var _ repository.CertificateRepository = (*CertificateStore)(nil)
