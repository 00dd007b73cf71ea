// Package model содержит агрегат заказа маркетплейса и правила его жизненного цикла:
// этапы, график платежей, прогресс, споры и отзывы.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль учётной записи, выданную системой идентификации.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Party описывает действующего участника запроса.
type Party struct {
	UserID string
	Role   Role
}

// Side описывает отношение участника к конкретному заказу.
type Side int

const (
	SideNone Side = iota
	SideClient
	SideProvider
	SideAdmin
)

// Quote содержит неизменяемые данные принятого предложения, из которых создаётся заказ.
type Quote struct {
	ID          string          `json:"id"`
	RFQID       string          `json:"rfqId"`
	ClientID    string          `json:"clientId"`
	ProviderID  string          `json:"providerId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// StatusChange описывает запись журнала смены статусов заказа.
type StatusChange struct {
	From    OrderStatus `json:"from,omitempty"`
	To      OrderStatus `json:"to"`
	Trigger Trigger     `json:"trigger"`
	ActorID string      `json:"actorId,omitempty"`
	At      time.Time   `json:"at"`
}

// Order описывает агрегат заказа между одним клиентом и одним исполнителем.
// Этапы и график платежей принадлежат заказу и адресуются по идентификатору этапа.
type Order struct {
	ID          string          `json:"id"`
	QuoteID     string          `json:"quoteId"`
	RFQID       string          `json:"rfqId"`
	ClientID    string          `json:"clientId"`
	ProviderID  string          `json:"providerId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`

	Status          OrderStatus            `json:"status"`
	Milestones      []Milestone            `json:"milestones"`
	PaymentSchedule []PaymentScheduleEntry `json:"paymentSchedule"`
	Progress        int                    `json:"progress"`

	Dispute      *Dispute  `json:"dispute,omitempty"`
	PastDisputes []Dispute `json:"pastDisputes,omitempty"`

	ClientReview   *Review `json:"clientReview,omitempty"`
	ProviderReview *Review `json:"providerReview,omitempty"`

	StartDate     time.Time  `json:"startDate"`
	Deadline      time.Time  `json:"deadline"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`

	History   []StatusChange `json:"history"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewOrderFromQuote создаёт заказ в статусе pending. Если specs пуст, этапы
// выводятся из суммы предложения по схеме 20/50/30.
func NewOrderFromQuote(id string, q Quote, specs []MilestoneSpec, startDate time.Time, newID func() string, now time.Time) (*Order, error) {
	if !q.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: quote amount must be positive", ErrValidation)
	}
	if q.ClientID == "" || q.ProviderID == "" {
		return nil, fmt.Errorf("%w: quote parties are missing", ErrValidation)
	}
	if len(specs) == 0 {
		if q.Amount.LessThan(MinDefaultPlanAmount) {
			return nil, fmt.Errorf("%w: quote amount %s is below %s, milestones must be given explicitly",
				ErrValidation, q.Amount, MinDefaultPlanAmount)
		}
		specs = DefaultMilestones(q.Amount, now)
	}

	total := decimal.Zero
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		total = total.Add(s.Amount)
	}
	if total.GreaterThan(q.Amount) {
		return nil, fmt.Errorf("%w: milestones sum %s exceeds order amount %s", ErrLimitExceeded, total, q.Amount)
	}

	if startDate.IsZero() {
		startDate = now
	}

	o := &Order{
		ID:          id,
		QuoteID:     q.ID,
		RFQID:       q.RFQID,
		ClientID:    q.ClientID,
		ProviderID:  q.ProviderID,
		Title:       q.Title,
		Description: q.Description,
		Amount:      q.Amount,
		Currency:    q.Currency,
		Status:      OrderStatusPending,
		StartDate:   startDate,
		History: []StatusChange{{
			To:      OrderStatusPending,
			Trigger: TriggerQuoteAccepted,
			ActorID: q.ClientID,
			At:      now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range specs {
		o.appendMilestone(newID(), s)
	}
	o.refreshDeadline()
	o.RecomputeProgress()

	return o, nil
}

// SideOf определяет, кем участник приходится заказу. Стороны заказа имеют приоритет над ролью администратора.
func (o *Order) SideOf(p Party) Side {
	switch {
	case p.UserID != "" && p.UserID == o.ClientID:
		return SideClient
	case p.UserID != "" && p.UserID == o.ProviderID:
		return SideProvider
	case p.Role == RoleAdmin:
		return SideAdmin
	default:
		return SideNone
	}
}

// Counterparty возвращает идентификатор другой стороны заказа.
func (o *Order) Counterparty(userID string) string {
	if userID == o.ClientID {
		return o.ProviderID
	}
	return o.ClientID
}

// ChangeStatus выполняет явную смену статуса по запросу участника.
// Выход из disputed через этот путь доступен только администратору и закрывает активный спор.
func (o *Order) ChangeStatus(to OrderStatus, side Side, actorID string, at time.Time) error {
	if side == SideNone {
		return fmt.Errorf("%w: not a party of the order", ErrForbidden)
	}
	if o.Status == OrderStatusDisputed && CanTransition(o.Status, to) {
		if side != SideAdmin {
			return fmt.Errorf("%w: order is disputed", ErrConflict)
		}
		return o.overrideDispute(to, actorID, at)
	}
	if err := checkTransition(o.Status, to, TriggerExplicit); err != nil {
		return err
	}
	if to == OrderStatusCompleted && o.Progress != 100 {
		return fmt.Errorf("%w: order progress is %d%%, all milestones must be approved", ErrInvalidState, o.Progress)
	}
	return o.transition(to, TriggerExplicit, actorID, at)
}

// transition применяет переход из таблицы и пишет его в журнал.
func (o *Order) transition(to OrderStatus, trigger Trigger, actorID string, at time.Time) error {
	if err := checkTransition(o.Status, to, trigger); err != nil {
		return err
	}
	o.History = append(o.History, StatusChange{
		From:    o.Status,
		To:      to,
		Trigger: trigger,
		ActorID: actorID,
		At:      at,
	})
	o.Status = to
	if to == OrderStatusCompleted {
		completed := at
		o.CompletedDate = &completed
	}
	o.UpdatedAt = at
	return nil
}

// HasActiveDispute сообщает, есть ли у заказа нерешённый спор.
func (o *Order) HasActiveDispute() bool {
	return o.Dispute != nil && o.Dispute.Status == DisputeStatusPending
}

// CheckInvariants проверяет согласованность агрегата перед сохранением.
func (o *Order) CheckInvariants() error {
	if sum := o.MilestonesTotal(); sum.GreaterThan(o.Amount) {
		return fmt.Errorf("invariant: milestones sum %s exceeds amount %s", sum, o.Amount)
	}
	if want := Progress(o.Milestones); o.Progress != want {
		return fmt.Errorf("invariant: progress %d, want %d", o.Progress, want)
	}
	if len(o.PaymentSchedule) != len(o.Milestones) {
		return fmt.Errorf("invariant: %d schedule entries for %d milestones", len(o.PaymentSchedule), len(o.Milestones))
	}
	for _, m := range o.Milestones {
		e := o.scheduleEntry(m.ID)
		if e == nil {
			return fmt.Errorf("invariant: milestone %s has no schedule entry", m.ID)
		}
		if (e.Status == PaymentStatusPaid) != (m.Status == MilestoneStatusApproved) {
			return fmt.Errorf("invariant: milestone %s is %s but payment is %s", m.ID, m.Status, e.Status)
		}
	}
	completed := o.Status == OrderStatusCompleted
	if completed != (o.Progress == 100 && !o.HasActiveDispute()) {
		return fmt.Errorf("invariant: status %s with progress %d", o.Status, o.Progress)
	}
	return nil
}
