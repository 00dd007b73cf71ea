package model

import (
	"fmt"
	"strings"
	"time"
)

// Решения по спору. refund отменяет заказ, любое другое значение возобновляет работу.
const (
	ResolutionRefund   = "refund"
	ResolutionContinue = "continue"
	ResolutionOverride = "override"
)

// Dispute хранит запись о прерывании нормального хода заказа.
type Dispute struct {
	RaisedBy        string        `json:"raisedBy"`
	Reason          string        `json:"reason"`
	Description     string        `json:"description"`
	RaisedAt        time.Time     `json:"raisedAt"`
	Status          DisputeStatus `json:"status"`
	ResolvedBy      string        `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty"`
	Resolution      string        `json:"resolution,omitempty"`
	ResolutionNotes string        `json:"resolutionNotes,omitempty"`
}

// RaiseDispute открывает спор от имени клиента или исполнителя.
func (o *Order) RaiseDispute(side Side, raisedBy, reason, description string, at time.Time) (*Dispute, error) {
	if side != SideClient && side != SideProvider {
		return nil, fmt.Errorf("%w: only the client or the provider can raise a dispute", ErrForbidden)
	}
	if o.Status == OrderStatusDisputed {
		return nil, fmt.Errorf("%w: dispute already raised for this order", ErrConflict)
	}
	if strings.TrimSpace(reason) == "" || strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: reason and description are required", ErrValidation)
	}
	if err := checkTransition(o.Status, OrderStatusDisputed, TriggerDisputeRaised); err != nil {
		return nil, err
	}

	if o.Dispute != nil {
		o.PastDisputes = append(o.PastDisputes, *o.Dispute)
	}
	o.Dispute = &Dispute{
		RaisedBy:    raisedBy,
		Reason:      reason,
		Description: description,
		RaisedAt:    at,
		Status:      DisputeStatusPending,
	}
	if err := o.transition(OrderStatusDisputed, TriggerDisputeRaised, raisedBy, at); err != nil {
		return nil, err
	}
	return o.Dispute, nil
}

// ResolveDispute применяет решение администратора: refund отменяет заказ,
// любое другое решение возвращает его в работу.
func (o *Order) ResolveDispute(side Side, adminID, resolution, notes string, at time.Time) (*Dispute, error) {
	if side != SideAdmin {
		return nil, fmt.Errorf("%w: only an administrator can resolve disputes", ErrForbidden)
	}
	if o.Status != OrderStatusDisputed || !o.HasActiveDispute() {
		return nil, fmt.Errorf("%w: order is not in disputed state", ErrInvalidState)
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" || strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: resolution and notes are required", ErrValidation)
	}

	next := OrderStatusInProgress
	if resolution == ResolutionRefund {
		next = OrderStatusCancelled
	}
	o.closeDispute(adminID, resolution, notes, at)
	if err := o.transition(next, TriggerDisputeResolved, adminID, at); err != nil {
		return nil, err
	}
	return o.Dispute, nil
}

// overrideDispute выводит заказ из disputed по явной смене статуса администратором.
func (o *Order) overrideDispute(to OrderStatus, adminID string, at time.Time) error {
	if to == OrderStatusCompleted && Progress(o.Milestones) != 100 {
		return fmt.Errorf("%w: order progress is %d%%, all milestones must be approved", ErrInvalidState, o.Progress)
	}
	if o.HasActiveDispute() {
		o.closeDispute(adminID, ResolutionOverride, "status set to "+string(to), at)
	}
	return o.transition(to, TriggerAdminOverride, adminID, at)
}

func (o *Order) closeDispute(adminID, resolution, notes string, at time.Time) {
	resolved := at
	o.Dispute.Status = DisputeStatusResolved
	o.Dispute.ResolvedBy = adminID
	o.Dispute.ResolvedAt = &resolved
	o.Dispute.Resolution = resolution
	o.Dispute.ResolutionNotes = notes
}
