package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"postflow-bot/internal/domain"
)

// RedisLatch реализует domain.FireLatch через Redis SETNX. Пока жив ключ,
// повторные срабатывания того же задания пропускаются.
type RedisLatch struct {
	client *redis.Client
}

var _ domain.FireLatch = (*RedisLatch)(nil)

// NewRedisLatch создаёт защёлку.
func NewRedisLatch(client *redis.Client) *RedisLatch {
	return &RedisLatch{client: client}
}

// Once выполняет fn, если ключ удалось захватить первым. При ошибке fn
// захват снимается, чтобы попытку можно было повторить.
func (l *RedisLatch) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = l.client.Del(ctx, key).Err()
		return err
	}
	return nil
}

// LocalLatch — внутрипроцессная защёлка для запуска без Redis.
type LocalLatch struct {
	mu   sync.Mutex
	keys map[string]time.Time
}

var _ domain.FireLatch = (*LocalLatch)(nil)

// NewLocalLatch создаёт защёлку в памяти процесса.
func NewLocalLatch() *LocalLatch {
	return &LocalLatch{keys: make(map[string]time.Time)}
}

// Once выполняет fn, если ключ свободен или его срок истёк.
func (l *LocalLatch) Once(_ context.Context, key string, ttl time.Duration, fn func() error) error {
	now := time.Now()

	l.mu.Lock()
	if exp, ok := l.keys[key]; ok && now.Before(exp) {
		l.mu.Unlock()
		return nil
	}
	for k, exp := range l.keys {
		if now.After(exp) {
			delete(l.keys, k)
		}
	}
	l.keys[key] = now.Add(ttl)
	l.mu.Unlock()

	if err := fn(); err != nil {
		l.mu.Lock()
		delete(l.keys, key)
		l.mu.Unlock()
		return err
	}
	return nil
}
