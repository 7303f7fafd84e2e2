// Package rediscache хранит ответы матчера в Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache хранит строковые значения с TTL.
type Cache struct {
	client      *redis.Client
	serviceName string
}

// New создаёт кэш поверх нового клиента Redis.
func New(addr, serviceName string) *Cache {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), serviceName)
}

// NewWithClient использует готовый клиент.
func NewWithClient(client *redis.Client, serviceName string) *Cache {
	return &Cache{client: client, serviceName: serviceName}
}

// Set сохраняет значение.
func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get возвращает значение и признак попадания. Промах не считается ошибкой.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GenerateKey добавляет к ключу пространство имён сервиса и операции.
func (c *Cache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.serviceName, operation, key)
}

// Ping проверяет соединение; используется health-чекером.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (c *Cache) Close() error {
	return c.client.Close()
}
