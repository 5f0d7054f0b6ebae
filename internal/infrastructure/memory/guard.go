package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
)

type guardEntry struct {
	token     string
	expiresAt time.Time
}

// Guard marca "en curso" por clave dentro de un solo proceso. Una marca
// vencida se puede tomar de nuevo; la liberación solo borra la marca propia.
type Guard struct {
	mu      sync.Mutex
	entries map[string]guardEntry
	now     func() time.Time
}

func NewGuard() *Guard {
	return &Guard{entries: make(map[string]guardEntry), now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

func (g *Guard) TryAcquire(_ context.Context, key string, ttl time.Duration) (ports.ReleaseFunc, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.evictExpiredLocked(now)
	if e, held := g.entries[key]; held && now.Before(e.expiresAt) {
		return nil, false, nil
	}
	token := uuid.NewString()
	g.entries[key] = guardEntry{token: token, expiresAt: now.Add(ttl)}

	release := func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if e, held := g.entries[key]; held && e.token == token {
			delete(g.entries, key)
		}
		return nil
	}
	return release, true, nil
}

// Len cantidad de marcas retenidas (las vencidas se purgan en cada TryAcquire).
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *Guard) evictExpiredLocked(now time.Time) {
	for k, e := range g.entries {
		if !now.Before(e.expiresAt) {
			delete(g.entries, k)
		}
	}
}

var _ ports.SubmissionGuard = (*Guard)(nil)
