package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/marketplace-orders/internal/model"
)

// RaiseDispute открывает спор по заказу от имени клиента или исполнителя.
func (s *Service) RaiseDispute(ctx context.Context, party model.Party, orderID, reason, description string) (d *model.Dispute, err error) {
	ctx, span := s.startSpan(ctx, "RaiseDispute", orderID)
	defer func() { endSpan(span, err) }()

	o, _, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		raised, err := o.RaiseDispute(side, party.UserID, reason, description, now)
		if err != nil {
			return err
		}
		copied := *raised
		d = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Sugar().Infow("dispute raised", "order_id", o.ID, "raised_by", party.UserID)
	s.notify(o, o.Counterparty(party.UserID), "dispute_raised", "Dispute Raised",
		fmt.Sprintf("A dispute has been raised on order: %s", o.Title), "high",
		map[string]any{"reason": reason})
	return d, nil
}

// ResolveDispute применяет решение администратора по спору.
func (s *Service) ResolveDispute(ctx context.Context, party model.Party, orderID, resolution, notes string) (o *model.Order, err error) {
	ctx, span := s.startSpan(ctx, "ResolveDispute", orderID)
	defer func() { endSpan(span, err) }()

	o, prev, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		_, err := o.ResolveDispute(side, party.UserID, resolution, notes, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, o, prev)
	s.logger.Sugar().Infow("dispute resolved", "order_id", o.ID, "resolution", resolution, "status", o.Status)
	for _, userID := range []string{o.ClientID, o.ProviderID} {
		s.notify(o, userID, "dispute_resolved", "Dispute Resolved",
			fmt.Sprintf("The dispute on order %s has been resolved", o.Title), "high",
			map[string]any{"resolution": resolution})
	}
	return o, nil
}

// LeaveReview записывает отзыв стороны о завершённом заказе.
// Отзыв клиента учитывается в рейтинге исполнителя.
func (s *Service) LeaveReview(ctx context.Context, party model.Party, orderID string, rating int, comment string, categories map[string]int) (r *model.Review, err error) {
	ctx, span := s.startSpan(ctx, "LeaveReview", orderID)
	defer func() { endSpan(span, err) }()

	var side model.Side
	o, _, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, sd model.Side, now time.Time) error {
		side = sd
		review, err := o.LeaveReview(sd, rating, comment, categories, now)
		if err != nil {
			return err
		}
		copied := *review
		r = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}

	if side == model.SideClient {
		s.bestEffort(ctx, o.ID, "user-stats", func(ctx context.Context) error {
			return s.repo.RecordRating(ctx, o.ProviderID, rating)
		})
	}
	s.notify(o, o.Counterparty(party.UserID), "review_received", "New Review Received",
		fmt.Sprintf("You received a %d-star review on order: %s", rating, o.Title), "medium",
		map[string]any{"rating": rating})
	return r, nil
}
