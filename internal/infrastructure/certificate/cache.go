package certificate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultCacheCeiling tope de vida de una credencial en caché aunque el certificado siga vigente.
const DefaultCacheCeiling = 30 * time.Minute

type cacheEntry struct {
	credential  *Credential
	fingerprint string
	expiresAt   time.Time
}

// Cache guarda la credencial decodificada por tenant. TTL = min(vencimiento, tope).
// Se vuelve a extraer si la entrada venció o si cambió el bundle o la contraseña.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ceiling time.Duration
	now     func() time.Time
	extract func(pfxBase64, password string) (*Credential, error)
}

// CacheOption personaliza el Cache (reloj y extractor en tests).
type CacheOption func(*Cache)

// WithClock reemplaza el reloj.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithExtractor reemplaza la función de extracción.
func WithExtractor(fn func(pfxBase64, password string) (*Credential, error)) CacheOption {
	return func(c *Cache) { c.extract = fn }
}

// NewCache crea el caché. ceiling <= 0 usa DefaultCacheCeiling.
func NewCache(ceiling time.Duration, opts ...CacheOption) *Cache {
	if ceiling <= 0 {
		ceiling = DefaultCacheCeiling
	}
	c := &Cache{
		entries: make(map[string]cacheEntry),
		ceiling: ceiling,
		now:     time.Now,
		extract: Extract,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get devuelve la credencial vigente del tenant. Un certificado vencido nunca
// se guarda y se informa con ErrCertificateExpired.
func (c *Cache) Get(tenantID, pfxBase64, password string) (*Credential, error) {
	fp := bundleFingerprint(pfxBase64, password)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[tenantID]; ok && e.fingerprint == fp && now.Before(e.expiresAt) {
		c.mu.Unlock()
		return e.credential, nil
	}
	c.mu.Unlock()

	cred, err := c.extract(pfxBase64, password)
	if err != nil {
		c.Invalidate(tenantID)
		return nil, err
	}
	if cred.ExpiredAt(now) {
		c.Invalidate(tenantID)
		return nil, fmt.Errorf("%w: venció el %s", ErrCertificateExpired, cred.NotAfter.Format(time.RFC3339))
	}

	expiresAt := now.Add(c.ceiling)
	if cred.NotAfter.Before(expiresAt) {
		expiresAt = cred.NotAfter
	}

	c.mu.Lock()
	c.evictExpiredLocked(now)
	c.entries[tenantID] = cacheEntry{credential: cred, fingerprint: fp, expiresAt: expiresAt}
	c.mu.Unlock()
	return cred, nil
}

// Invalidate descarta la entrada del tenant (p. ej. tras cargar un certificado nuevo).
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

// Len cantidad de entradas vivas.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func bundleFingerprint(pfxBase64, password string) string {
	h := sha256.New()
	h.Write([]byte(pfxBase64))
	h.Write([]byte{0})
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}
