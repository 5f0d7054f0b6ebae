package fiscal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
)

// StatusPoller lo que el poller necesita del Manager.
type StatusPoller interface {
	PollStatus(ctx context.Context, tenantID, documentID string) (*Result, error)
}

// PollerConfig intervalos de la consulta automática.
type PollerConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	CallTimeout     time.Duration // tope de cada PollStatus
}

// DefaultPollerConfig 5 s, x2, máximo 2 min entre intentos, 30 min en total.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		InitialInterval: 5 * time.Second,
		Multiplier:      2,
		MaxInterval:     2 * time.Minute,
		MaxElapsedTime:  30 * time.Minute,
		CallTimeout:     2 * sefaz.DefaultTimeout,
	}
}

var errStillPending = errors.New("documento aún pending")

// BackoffPoller consulta en segundo plano los documentos pending hasta que
// salgan de ese estado o se agote el presupuesto. Un documento tiene como
// máximo una consulta programada a la vez.
type BackoffPoller struct {
	target StatusPoller
	cfg    PollerConfig
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]struct{}
	stopped bool
}

// NewBackoffPoller construye el poller. Llamar Stop al apagar el servicio.
func NewBackoffPoller(target StatusPoller, cfg PollerConfig, log zerolog.Logger) *BackoffPoller {
	def := DefaultPollerConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BackoffPoller{
		target: target,
		cfg:    cfg,
		log:    log.With().Str("component", "status_poller").Logger(),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

// Schedule programa la consulta; no hace nada si ya hay una en curso.
func (p *BackoffPoller) Schedule(tenantID, documentID string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, ok := p.active[documentID]; ok {
		p.mu.Unlock()
		return
	}
	p.active[documentID] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(tenantID, documentID)
}

// Active cantidad de documentos con consulta programada.
func (p *BackoffPoller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stop cancela las consultas programadas y espera a que terminen.
func (p *BackoffPoller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *BackoffPoller) run(tenantID, documentID string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.active, documentID)
		p.mu.Unlock()
	}()

	logger := p.log.With().Str("tenant_id", tenantID).Str("document_id", documentID).Logger()

	// La primera consulta espera un intervalo: quien programa suele tener
	// todavía la marca "en curso" del documento.
	select {
	case <-time.After(p.cfg.InitialInterval):
	case <-p.ctx.Done():
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.Multiplier = p.cfg.Multiplier
	b.MaxInterval = p.cfg.MaxInterval
	b.MaxElapsedTime = p.cfg.MaxElapsedTime
	b.Reset()

	op := func() error {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.CallTimeout)
		defer cancel()
		res, err := p.target.PollStatus(ctx, tenantID, documentID)
		if err != nil {
			return err
		}
		return pollOutcome(res)
	}
	notify := func(err error, next time.Duration) {
		logger.Debug().Err(err).Dur("next", next).Msg("documento sigue pending")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, p.ctx), notify); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warn().Err(err).Msg("consulta automática agotada; el documento sigue pending")
		return
	}
	logger.Info().Msg("consulta automática resuelta")
}

// pollOutcome nil cuando el documento salió de pending; error para reintentar.
func pollOutcome(res *Result) error {
	if res.Success {
		if doc, ok := res.Data.(*entity.FiscalDocument); ok && doc.Status == entity.StatusPending {
			return errStillPending
		}
		return nil
	}
	f := res.Failure
	switch {
	case f == nil:
		return nil
	case f.Category == CategoryBusinessRule && f.Code == "invalid_state":
		// Otro proceso ya lo resolvió.
		return nil
	case f.Category == CategoryBusinessRule && !f.Retryable:
		return backoff.Permanent(errors.New(f.Message))
	case f.Category == CategoryAuthority:
		return nil
	default:
		return errors.New(f.Message)
	}
}

var _ ports.PollScheduler = (*BackoffPoller)(nil)
