package repository

import (
	"context"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
)

// CorrectionLetterRepository persistencia de cartas de corrección.
// La pareja (document_id, sequence) es única: Create devuelve domain.ErrDuplicate
// si la secuencia ya existe.
type CorrectionLetterRepository interface {
	ListByDocument(ctx context.Context, documentID string) ([]*entity.CorrectionLetter, error)
	Create(ctx context.Context, letter *entity.CorrectionLetter) error
	Update(ctx context.Context, letter *entity.CorrectionLetter) error
	Delete(ctx context.Context, id string) error
}
