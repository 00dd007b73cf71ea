package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/marketplace-orders/internal/model"
)

// CreateOrderInput содержит необязательные параметры создания заказа.
type CreateOrderInput struct {
	StartDate  time.Time
	Milestones []model.MilestoneSpec
}

// CreateOrderFromQuote создаёт заказ по принятому предложению. Создать заказ может только клиент предложения.
func (s *Service) CreateOrderFromQuote(ctx context.Context, party model.Party, quoteID string, in CreateOrderInput) (o *model.Order, err error) {
	ctx, span := s.startSpan(ctx, "CreateOrderFromQuote", "")
	defer func() { endSpan(span, err) }()

	if s.quotes == nil {
		return nil, fmt.Errorf("quote catalog is not configured")
	}
	q, err := s.quotes.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if q.ID == "" {
		q.ID = quoteID
	}
	if q.ClientID != party.UserID {
		return nil, fmt.Errorf("%w: only the client of the quote can accept it", model.ErrForbidden)
	}

	o, err = model.NewOrderFromQuote(s.newID(), *q, in.Milestones, in.StartDate, s.newID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	s.bestEffort(ctx, o.ID, "quote-catalog", func(ctx context.Context) error {
		return s.quotes.MarkAccepted(ctx, q.ID, o.ID)
	})
	s.notify(o, o.ProviderID, "order_started", "New Project Started",
		fmt.Sprintf("A new project has started: %s", o.Title), "high", nil)

	s.logger.Sugar().Infow("order created", "order_id", o.ID, "quote_id", o.QuoteID)
	return o, nil
}

// GetOrder возвращает заказ вместе с записями платежей.
func (s *Service) GetOrder(ctx context.Context, party model.Party, orderID string) (*model.OrderDetails, error) {
	o, _, err := s.load(ctx, orderID, party)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &model.OrderDetails{Order: *o, Payments: payments}, nil
}

// ListOrders возвращает страницу заказов участника. Выборки all и disputed доступны только администратору.
func (s *Service) ListOrders(ctx context.Context, party model.Party, f model.OrderFilter) (*model.OrderPage, error) {
	if f.Scope == "" {
		switch party.Role {
		case model.RoleAdmin:
			f.Scope = model.ScopeAll
		case model.RoleProvider:
			f.Scope = model.ScopeProvider
		default:
			f.Scope = model.ScopeClient
		}
	}

	switch f.Scope {
	case model.ScopeClient, model.ScopeProvider:
		f.UserID = party.UserID
	case model.ScopeAll, model.ScopeDisputed:
		if party.Role != model.RoleAdmin {
			return nil, fmt.Errorf("%w: scope %s requires administrator role", model.ErrForbidden, f.Scope)
		}
		f.UserID = ""
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", model.ErrValidation, f.Scope)
	}

	return s.repo.ListOrders(ctx, f)
}

// ListDisputedOrders возвращает заказы в споре, последние споры первыми.
func (s *Service) ListDisputedOrders(ctx context.Context, party model.Party, page, limit int) (*model.OrderPage, error) {
	return s.ListOrders(ctx, party, model.OrderFilter{Scope: model.ScopeDisputed, Page: page, Limit: limit})
}

// UpdateOrderStatus выполняет явную смену статуса заказа по таблице переходов.
func (s *Service) UpdateOrderStatus(ctx context.Context, party model.Party, orderID string, to model.OrderStatus) (o *model.Order, err error) {
	ctx, span := s.startSpan(ctx, "UpdateOrderStatus", orderID)
	defer func() { endSpan(span, err) }()

	var side model.Side
	o, prev, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, sd model.Side, now time.Time) error {
		side = sd
		return o.ChangeStatus(to, sd, party.UserID, now)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, o, prev)

	recipients := []string{o.Counterparty(party.UserID)}
	if side == model.SideAdmin {
		recipients = []string{o.ClientID, o.ProviderID}
	}
	for _, userID := range recipients {
		s.notify(o, userID, "order_status_change", "Order Status Updated",
			fmt.Sprintf("Order %s status changed to %s", o.Title, o.Status), "medium",
			map[string]any{"status": string(o.Status)})
	}
	return o, nil
}
