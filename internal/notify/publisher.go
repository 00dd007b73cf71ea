// Package notify доставляет уведомления участникам заказа во внешнюю систему.
// Доставка best-effort: ошибки логируются и не влияют на основную операцию.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmeshcher/marketplace-orders/internal/model"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher публикует одно уведомление.
type Publisher interface {
	Publish(ctx context.Context, n model.Notification) error
}

// RedisPublisher публикует уведомления в канал Redis pub/sub.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisPublisher подключается к Redis и проверяет соединение.
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if channel == "" {
		channel = "notifications"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{rdb: rdb, channel: channel}, nil
}

// Publish сериализует уведомление в JSON и публикует его в канал.
func (p *RedisPublisher) Publish(ctx context.Context, n model.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// LogPublisher пишет уведомления в лог. Используется, когда Redis не настроен.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт публикатор в лог.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish записывает уведомление в лог.
func (p *LogPublisher) Publish(_ context.Context, n model.Notification) error {
	p.logger.Info("notification",
		zap.String("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.String("title", n.Title),
		zap.String("link", n.Link),
	)
	return nil
}
