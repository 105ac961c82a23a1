// redis.go — durable-уровень в Redis.
// Слоты хранятся полями одного hash-ключа; значения зашифрованы тем же Sealer,
// что и файловый уровень.
package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTier — durable-уровень в Redis.
type RedisTier struct {
	client redis.UniversalClient
	key    string
	sealer *Sealer
}

// RedisOptions — параметры подключения RedisTier.
type RedisOptions struct {
	// Addr — адрес Redis (host:port).
	Addr string
	// Password — пароль (опционально).
	Password string
	// DB — номер базы.
	DB int
	// Key — hash-ключ, в котором хранятся слоты.
	Key string
}

// NewRedisTier создаёт уровень с собственным клиентом Redis.
func NewRedisTier(opts RedisOptions, sealer *Sealer) (*RedisTier, error) {
	if opts.Addr == "" {
		return nil, errors.New("не задан адрес redis")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisTierWithClient(client, opts.Key, sealer)
}

// NewRedisTierWithClient создаёт уровень поверх готового клиента.
func NewRedisTierWithClient(client redis.UniversalClient, key string, sealer *Sealer) (*RedisTier, error) {
	if client == nil {
		return nil, errors.New("не задан клиент redis")
	}
	if key == "" {
		return nil, errors.New("не задан ключ redis")
	}
	if sealer == nil {
		return nil, errors.New("не задан sealer redis-хранилища")
	}
	return &RedisTier{client: client, key: key, sealer: sealer}, nil
}

// Ping проверяет доступность Redis.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (r *RedisTier) Close() error {
	return r.client.Close()
}

// Read реализует Tier.
func (r *RedisTier) Read(ctx context.Context, slots ...string) (map[string]string, error) {
	out := make(map[string]string, len(slots))
	if len(slots) == 0 {
		return out, nil
	}

	vals, err := r.client.HMGet(ctx, r.key, slots...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET %s: %w", r.key, err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		plaintext, err := r.sealer.Open(s)
		if err != nil {
			return nil, fmt.Errorf("redis слот %s: %w: %w", slots[i], ErrCorrupted, err)
		}
		out[slots[i]] = string(plaintext)
	}
	return out, nil
}

// Write реализует Tier. Все поля записываются одной командой HSET.
func (r *RedisTier) Write(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	fields := make([]any, 0, len(values)*2)
	for k, v := range values {
		sealed, err := r.sealer.Seal([]byte(v))
		if err != nil {
			return err
		}
		fields = append(fields, k, sealed)
	}

	if err := r.client.HSet(ctx, r.key, fields...).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", r.key, err)
	}
	return nil
}

// Remove реализует Tier.
func (r *RedisTier) Remove(ctx context.Context, slots ...string) error {
	if len(slots) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.key, slots...).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s: %w", r.key, err)
	}
	return nil
}
