package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentScheduleEntry отслеживает освобождение средств одного этапа.
// Переходит в paid только вместе с утверждением этапа.
type PaymentScheduleEntry struct {
	MilestoneID string          `json:"milestoneId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
}

// PaymentRecordStatus описывает статус платежа во внешнем шлюзе.
type PaymentRecordStatus string

const (
	PaymentRecordPending    PaymentRecordStatus = "pending"
	PaymentRecordProcessing PaymentRecordStatus = "processing"
	PaymentRecordCompleted  PaymentRecordStatus = "completed"
	PaymentRecordFailed     PaymentRecordStatus = "failed"
	PaymentRecordRefunded   PaymentRecordStatus = "refunded"
)

// Payment описывает запись платёжного шлюза, привязанную к этапу заказа.
type Payment struct {
	ID               string              `json:"id"`
	OrderID          string              `json:"orderId"`
	MilestoneID      string              `json:"milestoneId"`
	UserID           string              `json:"userId"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	Method           string              `json:"method"`
	GatewayReference string              `json:"gatewayReference,omitempty"`
	Status           PaymentRecordStatus `json:"status"`
	CompletedAt      *time.Time          `json:"completedAt,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

func (o *Order) scheduleEntry(milestoneID string) *PaymentScheduleEntry {
	for i := range o.PaymentSchedule {
		if o.PaymentSchedule[i].MilestoneID == milestoneID {
			return &o.PaymentSchedule[i]
		}
	}
	return nil
}

// PaymentEntry возвращает запись графика платежей этапа.
func (o *Order) PaymentEntry(milestoneID string) (*PaymentScheduleEntry, error) {
	e := o.scheduleEntry(milestoneID)
	if e == nil {
		return nil, fmt.Errorf("%w: payment schedule entry for milestone %s", ErrNotFound, milestoneID)
	}
	return e, nil
}

// releasePayment переводит запись графика в paid. Других путей в paid нет.
func (o *Order) releasePayment(m *Milestone, at time.Time) (*PaymentScheduleEntry, error) {
	e := o.scheduleEntry(m.ID)
	if e == nil {
		o.PaymentSchedule = append(o.PaymentSchedule, PaymentScheduleEntry{
			MilestoneID: m.ID,
			Amount:      m.Amount,
			Status:      PaymentStatusPending,
		})
		e = &o.PaymentSchedule[len(o.PaymentSchedule)-1]
	}
	if e.Status == PaymentStatusPaid {
		return nil, fmt.Errorf("%w: payment for milestone %s already released", ErrInvalidState, m.ID)
	}
	paid := at
	e.Status = PaymentStatusPaid
	e.PaidAt = &paid
	return e, nil
}

// PaidTotal возвращает сумму освобождённых платежей.
func (o *Order) PaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range o.PaymentSchedule {
		if e.Status == PaymentStatusPaid {
			total = total.Add(e.Amount)
		}
	}
	return total
}
