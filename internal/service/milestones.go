package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/marketplace-orders/internal/model"
	"go.uber.org/zap"
)

func milestoneResult(o *model.Order, m *model.Milestone) *model.MilestoneResult {
	return &model.MilestoneResult{
		Milestone:   *m,
		Progress:    o.Progress,
		OrderStatus: o.Status,
	}
}

// ListMilestones возвращает этапы заказа.
func (s *Service) ListMilestones(ctx context.Context, party model.Party, orderID string) ([]model.Milestone, error) {
	o, _, err := s.load(ctx, orderID, party)
	if err != nil {
		return nil, err
	}
	return o.Milestones, nil
}

// ListDeliverables возвращает файлы, приложенные к этапу.
func (s *Service) ListDeliverables(ctx context.Context, party model.Party, orderID, milestoneID string) ([]model.Deliverable, error) {
	o, _, err := s.load(ctx, orderID, party)
	if err != nil {
		return nil, err
	}
	m, err := o.Milestone(milestoneID)
	if err != nil {
		return nil, err
	}
	return m.Deliverables, nil
}

// AddMilestone добавляет этап к заказу в работе. Доступно только исполнителю.
func (s *Service) AddMilestone(ctx context.Context, party model.Party, orderID string, spec model.MilestoneSpec) (res *model.MilestoneResult, err error) {
	ctx, span := s.startSpan(ctx, "AddMilestone", orderID)
	defer func() { endSpan(span, err) }()

	o, _, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		if err := requireSide(side, model.SideProvider, "add milestones"); err != nil {
			return err
		}
		m, err := o.AddMilestone(s.newID(), spec, now)
		if err != nil {
			return err
		}
		res = milestoneResult(o, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(o, o.ClientID, "milestone_added", "New Milestone Added",
		fmt.Sprintf("Provider added a new milestone: %s", spec.Title), "medium",
		map[string]any{"milestoneId": res.Milestone.ID})
	return res, nil
}

// UpdateMilestone меняет поля этапа. Доступно только исполнителю, утверждённый этап неизменяем.
func (s *Service) UpdateMilestone(ctx context.Context, party model.Party, orderID, milestoneID string, patch model.MilestonePatch) (res *model.MilestoneResult, err error) {
	ctx, span := s.startSpan(ctx, "UpdateMilestone", orderID)
	defer func() { endSpan(span, err) }()

	_, _, err = s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		if err := requireSide(side, model.SideProvider, "update milestones"); err != nil {
			return err
		}
		m, err := o.UpdateMilestone(milestoneID, patch, now)
		if err != nil {
			return err
		}
		res = milestoneResult(o, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CompleteMilestone отмечает этап выполненным. Доступно только исполнителю.
func (s *Service) CompleteMilestone(ctx context.Context, party model.Party, orderID, milestoneID string, deliverables []model.Deliverable) (res *model.MilestoneResult, err error) {
	ctx, span := s.startSpan(ctx, "CompleteMilestone", orderID)
	defer func() { endSpan(span, err) }()

	o, _, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		if err := requireSide(side, model.SideProvider, "complete milestones"); err != nil {
			return err
		}
		for i := range deliverables {
			if deliverables[i].UploadedAt.IsZero() {
				deliverables[i].UploadedAt = now
			}
		}
		m, err := o.CompleteMilestone(milestoneID, deliverables, party.UserID, now)
		if err != nil {
			return err
		}
		res = milestoneResult(o, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCompleted(o, res.Milestone)
	return res, nil
}

func (s *Service) notifyCompleted(o *model.Order, m model.Milestone) {
	s.notify(o, o.ClientID, "milestone_completed", "Milestone Completed",
		fmt.Sprintf("Provider completed milestone: %s", m.Title), "high",
		map[string]any{"milestoneId": m.ID})
}

// UploadDeliverable прикладывает файл к этапу. Доступно только исполнителю.
// При включённой политике autoCompleteOnFirstUpload файл завершает незавершённый этап.
func (s *Service) UploadDeliverable(ctx context.Context, party model.Party, orderID, milestoneID string, d model.Deliverable) (res *model.MilestoneResult, err error) {
	ctx, span := s.startSpan(ctx, "UploadDeliverable", orderID)
	defer func() { endSpan(span, err) }()

	o, _, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		if err := requireSide(side, model.SideProvider, "upload deliverables"); err != nil {
			return err
		}
		m, auto, err := o.AttachDeliverable(milestoneID, d, s.autoCompleteOnFirstUpload, party.UserID, now)
		if err != nil {
			return err
		}
		res = milestoneResult(o, m)
		res.AutoCompleted = auto
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(o, o.ClientID, "deliverable_uploaded", "Deliverable Uploaded",
		fmt.Sprintf("Provider uploaded %s for milestone: %s", d.Filename, res.Milestone.Title), "medium",
		map[string]any{"milestoneId": res.Milestone.ID, "filename": d.Filename})
	if res.AutoCompleted {
		s.notifyCompleted(o, res.Milestone)
	}
	return res, nil
}

// ApproveMilestone утверждает выполненный этап и освобождает его платёж. Доступно только клиенту.
// Запись платёжного шлюза по этапу, если она есть, завершается в той же транзакции.
func (s *Service) ApproveMilestone(ctx context.Context, party model.Party, orderID, milestoneID, feedback string) (res *model.MilestoneResult, err error) {
	ctx, span := s.startSpan(ctx, "ApproveMilestone", orderID)
	defer func() { endSpan(span, err) }()

	o, prev, err := s.mutate(ctx, orderID, party, func(ctx context.Context, o *model.Order, side model.Side, now time.Time) error {
		if err := requireSide(side, model.SideClient, "approve milestones"); err != nil {
			return err
		}
		m, entry, err := o.ApproveMilestone(milestoneID, feedback, party.UserID, now)
		if err != nil {
			return err
		}
		if err := s.completeGatewayPayment(ctx, orderID, milestoneID, now); err != nil {
			return err
		}
		res = milestoneResult(o, m)
		paid := *entry
		res.Payment = &paid
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, o, prev)
	s.notify(o, o.ProviderID, "milestone_approved", "Milestone Approved",
		fmt.Sprintf("Client approved milestone: %s", res.Milestone.Title), "high",
		map[string]any{"milestoneId": res.Milestone.ID, "feedback": feedback})
	return res, nil
}

func (s *Service) completeGatewayPayment(ctx context.Context, orderID, milestoneID string, now time.Time) error {
	p, err := s.repo.FindPayment(ctx, orderID, milestoneID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status == model.PaymentRecordCompleted {
		return nil
	}
	if err := s.repo.CompletePayment(ctx, p.ID, now); err != nil {
		return err
	}
	s.logger.Debug("gateway payment completed",
		zap.String("order_id", orderID),
		zap.String("payment_id", p.ID),
	)
	return nil
}

// RequestRevision возвращает выполненный этап в работу. Доступно только клиенту.
func (s *Service) RequestRevision(ctx context.Context, party model.Party, orderID, milestoneID, feedback string) (res *model.MilestoneResult, err error) {
	ctx, span := s.startSpan(ctx, "RequestRevision", orderID)
	defer func() { endSpan(span, err) }()

	o, _, err := s.mutate(ctx, orderID, party, func(_ context.Context, o *model.Order, side model.Side, now time.Time) error {
		if err := requireSide(side, model.SideClient, "request revisions"); err != nil {
			return err
		}
		m, err := o.RequestRevision(milestoneID, feedback, now)
		if err != nil {
			return err
		}
		res = milestoneResult(o, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(o, o.ProviderID, "revision_requested", "Revision Requested",
		fmt.Sprintf("Client requested changes for milestone: %s", res.Milestone.Title), "high",
		map[string]any{"milestoneId": res.Milestone.ID, "feedback": feedback})
	return res, nil
}

// RecordPayment регистрирует платёж шлюза по этапу. Доступно только клиенту.
func (s *Service) RecordPayment(ctx context.Context, party model.Party, orderID, milestoneID, method, gatewayReference string) (p *model.Payment, err error) {
	ctx, span := s.startSpan(ctx, "RecordPayment", orderID)
	defer func() { endSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, side, err := s.load(ctx, orderID, party)
		if err != nil {
			return err
		}
		if err := requireSide(side, model.SideClient, "pay for milestones"); err != nil {
			return err
		}
		m, err := o.Milestone(milestoneID)
		if err != nil {
			return err
		}
		if m.Status == model.MilestoneStatusApproved {
			return fmt.Errorf("%w: milestone %s is already paid", model.ErrInvalidState, milestoneID)
		}
		if o.Status.IsTerminal() || o.Status == model.OrderStatusDisputed {
			return fmt.Errorf("%w: order is %s", model.ErrConflict, o.Status)
		}

		p = &model.Payment{
			ID:               s.newID(),
			OrderID:          o.ID,
			MilestoneID:      m.ID,
			UserID:           party.UserID,
			Amount:           m.Amount,
			Currency:         o.Currency,
			Method:           method,
			GatewayReference: gatewayReference,
			Status:           model.PaymentRecordPending,
			CreatedAt:        s.clock.Now(),
		}
		return s.repo.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
