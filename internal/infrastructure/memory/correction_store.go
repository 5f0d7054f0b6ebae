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

// CorrectionStore cartas de corrección en memoria con unicidad (documento, secuencia).
type CorrectionStore struct {
	mu      sync.RWMutex
	letters map[string]entity.CorrectionLetter
}

func NewCorrectionStore() *CorrectionStore {
	return &CorrectionStore{letters: make(map[string]entity.CorrectionLetter)}
}

func (s *CorrectionStore) ListByDocument(_ context.Context, documentID string) ([]*entity.CorrectionLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.CorrectionLetter, 0)
	for _, l := range s.letters {
		if l.DocumentID == documentID {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *CorrectionStore) Create(_ context.Context, letter *entity.CorrectionLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.letters {
		if l.DocumentID == letter.DocumentID && l.Sequence == letter.Sequence {
			return fmt.Errorf("%w: secuencia %d", domain.ErrDuplicate, letter.Sequence)
		}
	}
	s.letters[letter.ID] = *letter
	return nil
}

func (s *CorrectionStore) Update(_ context.Context, letter *entity.CorrectionLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.letters[letter.ID]; !ok {
		return domain.ErrNotFound
	}
	s.letters[letter.ID] = *letter
	return nil
}

func (s *CorrectionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.letters, id)
	return nil
}

var _ repository.CorrectionLetterRepository = (*CorrectionStore)(nil)
