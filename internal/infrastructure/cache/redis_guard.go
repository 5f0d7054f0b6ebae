// Package cache implementa la marca "en curso" compartida entre instancias
// sobre Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
)

// RedisConfig conexión a Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// releaseScript borra la clave solo si sigue siendo del mismo dueño.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard SET NX PX por clave con token de dueño.
type RedisGuard struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisGuard conecta y verifica con PING.
func NewRedisGuard(cfg RedisConfig) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("conectar a Redis: %w", err)
	}
	return NewRedisGuardWithClient(client, ""), nil
}

// NewRedisGuardWithClient usa un cliente existente.
func NewRedisGuardWithClient(client *redis.Client, keyPrefix string) *RedisGuard {
	if keyPrefix == "" {
		keyPrefix = "nfe:guard:"
	}
	return &RedisGuard{client: client, keyPrefix: keyPrefix}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ports.ReleaseFunc, bool, error) {
	k := g.keyPrefix + key
	token := uuid.NewString()
	acquired, err := g.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, g.client, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("redis liberar %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

// Close cierra el cliente.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

var _ ports.SubmissionGuard = (*RedisGuard)(nil)
