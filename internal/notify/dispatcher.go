package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mmeshcher/marketplace-orders/internal/model"
	"go.uber.org/zap"
)

const (
	defaultBuffer  = 256
	publishTimeout = 3 * time.Second
	drainTimeout   = 5 * time.Second
)

// Dispatcher принимает уведомления без блокировки и публикует их в фоне.
type Dispatcher struct {
	queue     chan model.Notification
	publisher Publisher
	logger    *zap.Logger
	dropped   atomic.Int64
}

// NewDispatcher создаёт диспетчер с очередью заданного размера.
func NewDispatcher(publisher Publisher, logger *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		queue:     make(chan model.Notification, buffer),
		publisher: publisher,
		logger:    logger,
	}
}

// Notify ставит уведомление в очередь. При переполнении уведомление отбрасывается.
func (d *Dispatcher) Notify(n model.Notification) {
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue is full, dropping",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
		)
	}
}

// Dropped возвращает число отброшенных уведомлений.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run публикует уведомления до отмены ctx, затем дочитывает очередь.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case n := <-d.queue:
			d.publish(ctx, n)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case n := <-d.queue:
			d.publish(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, n model.Notification) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := d.publisher.Publish(ctx, n); err != nil {
		d.logger.Warn("publish notification",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err),
		)
	}
}
