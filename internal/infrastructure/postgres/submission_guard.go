package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
)

var _ ports.SubmissionGuard = (*SubmissionGuard)(nil)

// SubmissionGuard marca "en curso" en submission_locks. Una fila vencida se
// reemplaza en el mismo INSERT; la liberación borra solo la fila propia.
type SubmissionGuard struct {
	q Querier
}

func NewSubmissionGuard(q Querier) *SubmissionGuard {
	return &SubmissionGuard{q: q}
}

func (g *SubmissionGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ports.ReleaseFunc, bool, error) {
	token := uuid.NewString()
	tag, err := g.q.Exec(ctx, `
		INSERT INTO submission_locks (lock_key, token, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (lock_key) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE submission_locks.expires_at <= now()`,
		key, token, ttl.Seconds(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("acquire submission lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if _, err := g.q.Exec(ctx,
			`DELETE FROM submission_locks WHERE lock_key = $1 AND token = $2`, key, token); err != nil {
			return fmt.Errorf("release submission lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}
