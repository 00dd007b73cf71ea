package model

import "fmt"

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in-progress"
	OrderStatusReview     OrderStatus = "review"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusDisputed   OrderStatus = "disputed"
)

// ParseOrderStatus проверяет, что строка является известным статусом заказа.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusReview,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusDisputed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, s)
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// IsActive сообщает, что работа по заказу ещё идёт.
func (s OrderStatus) IsActive() bool {
	return s == OrderStatusPending || s == OrderStatusInProgress || s == OrderStatusReview
}

// MilestoneStatus описывает статус этапа.
type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"
	MilestoneStatusInProgress MilestoneStatus = "in-progress"
	MilestoneStatusCompleted  MilestoneStatus = "completed"
	MilestoneStatusApproved   MilestoneStatus = "approved"
)

// PaymentStatus описывает статус записи графика платежей.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// DisputeStatus описывает статус спора.
type DisputeStatus string

const (
	DisputeStatusPending  DisputeStatus = "pending"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// Trigger описывает причину смены статуса заказа.
type Trigger string

const (
	TriggerQuoteAccepted     Trigger = "quote-accepted"
	TriggerExplicit          Trigger = "explicit"
	TriggerMilestoneActivity Trigger = "milestone-activity"
	TriggerAllDelivered      Trigger = "all-milestones-delivered"
	TriggerFullyApproved     Trigger = "fully-approved"
	TriggerDisputeRaised     Trigger = "dispute-raised"
	TriggerDisputeResolved   Trigger = "dispute-resolved"
	TriggerAdminOverride     Trigger = "admin-override"
)

// transitions задаёт все допустимые переходы статуса заказа.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusInProgress, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusInProgress: {OrderStatusReview, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusReview:     {OrderStatusCompleted, OrderStatusInProgress, OrderStatusDisputed},
	OrderStatusDisputed:   {OrderStatusInProgress, OrderStatusCancelled, OrderStatusCompleted},
}

// CanTransition сообщает, есть ли переход from -> to в таблице.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition проверяет переход по таблице и то, что строки со спором
// используются только своими триггерами.
func checkTransition(from, to OrderStatus, trigger Trigger) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == OrderStatusDisputed && trigger != TriggerDisputeRaised {
		return fmt.Errorf("%w: disputes are opened by raising a dispute", ErrConflict)
	}
	if from == OrderStatusDisputed && trigger != TriggerDisputeResolved && trigger != TriggerAdminOverride {
		return fmt.Errorf("%w: order is disputed", ErrConflict)
	}
	return nil
}
