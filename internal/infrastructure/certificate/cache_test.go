package certificate_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func countingExtractor(notAfter time.Time, calls *int) func(string, string) (*certificate.Credential, error) {
	return func(pfx, password string) (*certificate.Credential, error) {
		*calls++
		if password == "mala" {
			return nil, certificate.ErrWrongPassword
		}
		return &certificate.Credential{NotAfter: notAfter, Subject: "CN=" + pfx}, nil
	}
}

func TestCache_ReutilizaDentroDelTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	calls := 0
	c := certificate.NewCache(10*time.Minute,
		certificate.WithClock(clock.Now),
		certificate.WithExtractor(countingExtractor(clock.now.AddDate(1, 0, 0), &calls)))

	first, err := c.Get("tenant-1", "pfx", "pw")
	require.NoError(t, err)
	second, err := c.Get("tenant-1", "pfx", "pw")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCache_ReextraeAlVencerElTope(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	calls := 0
	c := certificate.NewCache(10*time.Minute,
		certificate.WithClock(clock.Now),
		certificate.WithExtractor(countingExtractor(clock.now.AddDate(1, 0, 0), &calls)))

	_, err := c.Get("tenant-1", "pfx", "pw")
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)
	_, err = c.Get("tenant-1", "pfx", "pw")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestCache_ReextraeSiCambiaLaContrasena(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	calls := 0
	c := certificate.NewCache(time.Hour,
		certificate.WithClock(clock.Now),
		certificate.WithExtractor(countingExtractor(clock.now.AddDate(1, 0, 0), &calls)))

	_, err := c.Get("tenant-1", "pfx", "pw")
	require.NoError(t, err)
	_, err = c.Get("tenant-1", "pfx", "mala")
	assert.ErrorIs(t, err, certificate.ErrWrongPassword)
	assert.Equal(t, 0, c.Len(), "un error descarta la entrada anterior")
	assert.Equal(t, 2, calls)
}

func TestCache_TTLAcotadoPorVencimiento(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	calls := 0
	notAfter := clock.now.Add(5 * time.Minute)
	c := certificate.NewCache(time.Hour,
		certificate.WithClock(clock.Now),
		certificate.WithExtractor(countingExtractor(notAfter, &calls)))

	_, err := c.Get("tenant-1", "pfx", "pw")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = c.Get("tenant-1", "pfx", "pw")
	assert.ErrorIs(t, err, certificate.ErrCertificateExpired)
	assert.Equal(t, 2, calls)
}

func TestCache_CertificadoRealVencido(t *testing.T) {
	clock := &fakeClock{now: time.Date(2037, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := certificate.NewCache(time.Hour, certificate.WithClock(clock.Now))

	_, err := c.Get("tenant-1", loadFixture(t, "full.pfx.b64"), testPassword)
	require.Error(t, err)
	assert.True(t, errors.Is(err, certificate.ErrCertificateExpired))
	assert.Equal(t, 0, c.Len())
}

func TestCache_TenantsIndependientes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	calls := 0
	c := certificate.NewCache(time.Hour,
		certificate.WithClock(clock.Now),
		certificate.WithExtractor(countingExtractor(clock.now.AddDate(1, 0, 0), &calls)))

	a, err := c.Get("tenant-a", "pfx-a", "pw")
	require.NoError(t, err)
	b, err := c.Get("tenant-b", "pfx-b", "pw")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, c.Len())

	c.Invalidate("tenant-a")
	assert.Equal(t, 1, c.Len())
}
