// Package memory implementa los puertos de persistencia en memoria. Se usa en
// desarrollo (STORAGE_BACKEND=memory) y en los tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

// DocumentStore repositorio de NF-e en memoria. Guarda copias: lo que el
// llamador modifica no se ve hasta Update.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]entity.FiscalDocument
}

// NewDocumentStore crea el repositorio vacío.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]entity.FiscalDocument)}
}

func (s *DocumentStore) Create(_ context.Context, doc *entity.FiscalDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("%w: documento %s", domain.ErrDuplicate, doc.ID)
	}
	for _, d := range s.docs {
		if d.TenantID == doc.TenantID && d.Series == doc.Series && d.Number == doc.Number {
			return fmt.Errorf("%w: número %d serie %d", domain.ErrDuplicate, doc.Number, doc.Series)
		}
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *DocumentStore) GetByID(_ context.Context, id string) (*entity.FiscalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *DocumentStore) Update(_ context.Context, doc *entity.FiscalDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[doc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	d := *doc
	d.Number, d.Series, d.TenantID = cur.Number, cur.Series, cur.TenantID
	s.docs[doc.ID] = d
	return nil
}

func (s *DocumentStore) NextNumber(_ context.Context, tenantID string, series int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var highest int64
	for _, d := range s.docs {
		if d.TenantID == tenantID && d.Series == series && d.Number > highest {
			highest = d.Number
		}
	}
	return highest + 1, nil
}

func (s *DocumentStore) ListByStatus(_ context.Context, status entity.DocumentStatus, limit int) ([]*entity.FiscalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.FiscalDocument, 0)
	for _, d := range s.docs {
		if d.Status == status {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ repository.FiscalDocumentRepository = (*DocumentStore)(nil)
