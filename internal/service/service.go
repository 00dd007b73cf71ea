// Package service реализует бизнес-логику жизненного цикла заказов маркетплейса.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmeshcher/marketplace-orders/internal/clock"
	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/mmeshcher/marketplace-orders/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxConflictRetries ограничивает число повторов транзакции при конкурентной записи заказа.
const maxConflictRetries = 3

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	ListOrders(ctx context.Context, f model.OrderFilter) (*model.OrderPage, error)
	CreatePayment(ctx context.Context, p *model.Payment) error
	ListPayments(ctx context.Context, orderID string) ([]model.Payment, error)
	FindPayment(ctx context.Context, orderID, milestoneID string) (*model.Payment, error)
	CompletePayment(ctx context.Context, id string, at time.Time) error
	IncrementCompletedProjects(ctx context.Context, providerID string) error
	RecordRating(ctx context.Context, providerID string, rating int) error
	ProviderStats(ctx context.Context, providerID string) (*model.ProviderStats, error)
}

// QuoteSource предоставляет предложения, из которых создаются заказы.
type QuoteSource interface {
	GetQuote(ctx context.Context, quoteID string) (*model.Quote, error)
	MarkAccepted(ctx context.Context, quoteID, orderID string) error
}

// Notifier принимает уведомления без блокировки.
type Notifier interface {
	Notify(n model.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.Notification) {}

// Service содержит бизнес-логику заказов.
type Service struct {
	repo     Repository
	quotes   QuoteSource
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	clock    clock.Clock
	newID    func() string

	autoCompleteOnFirstUpload bool
}

// Option настраивает Service.
type Option func(*Service)

// WithClock задаёт источник времени.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator задаёт генератор идентификаторов заказов, этапов и платежей.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithAutoCompleteOnFirstUpload включает завершение этапа первым загруженным файлом.
func WithAutoCompleteOnFirstUpload(enabled bool) Option {
	return func(s *Service) { s.autoCompleteOnFirstUpload = enabled }
}

// NewService создаёт новый сервис с указанным репозиторием, каталогом предложений и получателем уведомлений.
func NewService(repo Repository, quotes QuoteSource, notifier Notifier, logger *zap.Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:                      repo,
		quotes:                    quotes,
		notifier:                  notifier,
		logger:                    logger,
		tracer:                    otel.Tracer("github.com/mmeshcher/marketplace-orders/internal/service"),
		clock:                     clock.NewSystem(),
		newID:                     uuid.NewString,
		autoCompleteOnFirstUpload: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "service."+name, trace.WithAttributes(attribute.String("order.id", orderID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// mutateFunc изменяет загруженный заказ внутри транзакции.
type mutateFunc func(ctx context.Context, o *model.Order, side model.Side, now time.Time) error

// mutate загружает заказ с блокировкой, применяет fn и записывает агрегат целиком.
// При конкурентной записи транзакция повторяется с повторной проверкой предусловий.
// Возвращает заказ после записи и его статус до изменения.
func (s *Service) mutate(ctx context.Context, orderID string, party model.Party, fn mutateFunc) (*model.Order, model.OrderStatus, error) {
	var (
		result *model.Order
		prev   model.OrderStatus
		err    error
	)
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context) error {
			o, err := s.repo.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			side := o.SideOf(party)
			if side == model.SideNone {
				return fmt.Errorf("%w: not a party of order %s", model.ErrForbidden, orderID)
			}

			prev = o.Status
			if err := fn(ctx, o, side, s.clock.Now()); err != nil {
				return err
			}
			if err := o.CheckInvariants(); err != nil {
				return fmt.Errorf("check order %s: %w", orderID, err)
			}
			if err := s.repo.UpdateOrder(ctx, o); err != nil {
				return err
			}
			result = o
			return nil
		})
		if !errors.Is(err, repository.ErrStaleVersion) {
			break
		}
		s.logger.Debug("order changed concurrently, retrying",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return nil, "", err
	}
	return result, prev, nil
}

// load возвращает заказ, если участник имеет к нему доступ.
func (s *Service) load(ctx context.Context, orderID string, party model.Party) (*model.Order, model.Side, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, model.SideNone, err
	}
	side := o.SideOf(party)
	if side == model.SideNone {
		return nil, model.SideNone, fmt.Errorf("%w: not a party of order %s", model.ErrForbidden, orderID)
	}
	return o, side, nil
}

func requireSide(side, want model.Side, action string) error {
	if side != want {
		return fmt.Errorf("%w: only the %s can %s", model.ErrForbidden, sideName(want), action)
	}
	return nil
}

func sideName(side model.Side) string {
	switch side {
	case model.SideClient:
		return "client"
	case model.SideProvider:
		return "provider"
	case model.SideAdmin:
		return "administrator"
	default:
		return "participant"
	}
}

// bestEffort выполняет побочное действие после фиксации. Ошибка только логируется.
func (s *Service) bestEffort(ctx context.Context, orderID, collaborator string, fn func(ctx context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("side effect failed",
			zap.String("order_id", orderID),
			zap.String("collaborator", collaborator),
			zap.Error(err),
		)
	}
}

// afterCommit выполняет побочные эффекты перехода заказа в completed.
func (s *Service) afterCommit(ctx context.Context, o *model.Order, prev model.OrderStatus) {
	if prev != model.OrderStatusCompleted && o.Status == model.OrderStatusCompleted {
		s.bestEffort(ctx, o.ID, "user-stats", func(ctx context.Context) error {
			return s.repo.IncrementCompletedProjects(ctx, o.ProviderID)
		})
	}
}

func orderLink(o *model.Order, userID string) string {
	if userID == o.ProviderID {
		return "/provider/orders/" + o.ID
	}
	return "/client/orders/" + o.ID
}

func (s *Service) notify(o *model.Order, userID, typ, title, message, priority string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["orderId"] = o.ID
	s.notifier.Notify(model.Notification{
		UserID:   userID,
		Type:     typ,
		Title:    title,
		Message:  message,
		Metadata: metadata,
		Link:     orderLink(o, userID),
		Priority: priority,
	})
}

// ProviderStats возвращает показатели исполнителя.
func (s *Service) ProviderStats(ctx context.Context, providerID string) (*model.ProviderStats, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", model.ErrValidation)
	}
	return s.repo.ProviderStats(ctx, providerID)
}
