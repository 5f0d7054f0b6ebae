package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
)

var _ repository.CorrectionLetterRepository = (*CorrectionLetterRepo)(nil)

// CorrectionLetterRepo cartas de corrección sobre correction_letters.
type CorrectionLetterRepo struct {
	q Querier
}

func NewCorrectionLetterRepository(q Querier) *CorrectionLetterRepo {
	return &CorrectionLetterRepo{q: q}
}

func (r *CorrectionLetterRepo) ListByDocument(ctx context.Context, documentID string) ([]*entity.CorrectionLetter, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, document_id, sequence, text, status, COALESCE(protocol, ''), registered_at, created_at, updated_at
		FROM correction_letters
		WHERE document_id = $1
		ORDER BY sequence`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list correction letters: %w", err)
	}
	defer rows.Close()

	var out []*entity.CorrectionLetter
	for rows.Next() {
		var l entity.CorrectionLetter
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.Sequence, &l.Text, &l.Status, &l.Protocol,
			&l.RegisteredAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan correction letter: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// Create reserva la secuencia; uq_correction_letters_sequence → domain.ErrDuplicate.
func (r *CorrectionLetterRepo) Create(ctx context.Context, l *entity.CorrectionLetter) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO correction_letters (id, document_id, sequence, text, status, protocol, registered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.DocumentID, l.Sequence, l.Text, l.Status, nullIfEmpty(l.Protocol), l.RegisteredAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: secuencia %d", domain.ErrDuplicate, l.Sequence)
		}
		return fmt.Errorf("insert correction letter: %w", err)
	}
	return nil
}

func (r *CorrectionLetterRepo) Update(ctx context.Context, l *entity.CorrectionLetter) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE correction_letters
		SET status = $2, protocol = $3, registered_at = $4, updated_at = $5
		WHERE id = $1`,
		l.ID, l.Status, nullIfEmpty(l.Protocol), l.RegisteredAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update correction letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CorrectionLetterRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM correction_letters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete correction letter: %w", err)
	}
	return nil
}
