package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Deliverable ссылается на файл, приложенный к этапу.
type Deliverable struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Size       int64     `json:"size,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Milestone описывает единицу работы внутри заказа со своей суммой и статусом.
type Milestone struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        time.Time       `json:"dueDate"`
	Status         MilestoneStatus `json:"status"`
	CompletedDate  *time.Time      `json:"completedDate,omitempty"`
	ApprovedDate   *time.Time      `json:"approvedDate,omitempty"`
	Deliverables   []Deliverable   `json:"deliverables"`
	ClientApproved bool            `json:"clientApproved"`
	Notes          string          `json:"notes,omitempty"`
}

// MilestoneSpec содержит входные данные для создания этапа.
type MilestoneSpec struct {
	Title       string
	Description string
	Amount      decimal.Decimal
	DueDate     time.Time
}

func (s MilestoneSpec) validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: milestone title is required", ErrValidation)
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
	}
	if s.DueDate.IsZero() {
		return fmt.Errorf("%w: milestone due date is required", ErrValidation)
	}
	return nil
}

// MilestonePatch описывает частичное обновление полей этапа. nil означает «не менять».
type MilestonePatch struct {
	Title       *string
	Description *string
	Amount      *decimal.Decimal
	DueDate     *time.Time
	Notes       *string
}

var defaultPlan = []struct {
	title       string
	description string
	share       decimal.Decimal
	days        int
}{
	{"Project Initiation", "Project kickoff and requirements finalization", decimal.New(20, -2), 7},
	{"Development Phase", "Main development work", decimal.New(50, -2), 21},
	{"Testing & Delivery", "Quality assurance and final delivery", decimal.New(30, -2), 30},
}

// MinDefaultPlanAmount наименьшая сумма, при которой каждый этап плана по умолчанию получает хотя бы один цент.
var MinDefaultPlanAmount = decimal.New(5, -2)

// DefaultMilestones делит сумму на этапы 20/50/30 со сроками 7, 21 и 30 дней.
// Последний этап получает остаток, чтобы сумма этапов в точности совпала с суммой заказа.
func DefaultMilestones(amount decimal.Decimal, now time.Time) []MilestoneSpec {
	specs := make([]MilestoneSpec, 0, len(defaultPlan))
	allocated := decimal.Zero
	for i, p := range defaultPlan {
		share := amount.Mul(p.share).Truncate(2)
		if i == len(defaultPlan)-1 {
			share = amount.Sub(allocated)
		}
		allocated = allocated.Add(share)
		specs = append(specs, MilestoneSpec{
			Title:       p.title,
			Description: p.description,
			Amount:      share,
			DueDate:     now.Add(time.Duration(p.days) * 24 * time.Hour),
		})
	}
	return specs
}

// MilestonesTotal возвращает сумму всех этапов.
func (o *Order) MilestonesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, m := range o.Milestones {
		total = total.Add(m.Amount)
	}
	return total
}

// Milestone возвращает этап по идентификатору.
func (o *Order) Milestone(id string) (*Milestone, error) {
	for i := range o.Milestones {
		if o.Milestones[i].ID == id {
			return &o.Milestones[i], nil
		}
	}
	return nil, fmt.Errorf("%w: milestone %s", ErrNotFound, id)
}

func (o *Order) appendMilestone(id string, s MilestoneSpec) *Milestone {
	o.Milestones = append(o.Milestones, Milestone{
		ID:           id,
		Title:        s.Title,
		Description:  s.Description,
		Amount:       s.Amount,
		DueDate:      s.DueDate,
		Status:       MilestoneStatusPending,
		Deliverables: []Deliverable{},
	})
	o.PaymentSchedule = append(o.PaymentSchedule, PaymentScheduleEntry{
		MilestoneID: id,
		Amount:      s.Amount,
		Status:      PaymentStatusPending,
	})
	return &o.Milestones[len(o.Milestones)-1]
}

func (o *Order) refreshDeadline() {
	if len(o.Milestones) > 0 {
		o.Deadline = o.Milestones[len(o.Milestones)-1].DueDate
	}
}

// mutableMilestone возвращает этап, который ещё можно изменять.
// Спор блокирует любые операции с этапами, утверждённый этап неизменяем.
func (o *Order) mutableMilestone(id string) (*Milestone, error) {
	if o.Status == OrderStatusDisputed {
		return nil, fmt.Errorf("%w: order is disputed", ErrConflict)
	}
	m, err := o.Milestone(id)
	if err != nil {
		return nil, err
	}
	if m.Status == MilestoneStatusApproved {
		return nil, fmt.Errorf("%w: milestone %s is approved", ErrInvalidState, id)
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}
	return m, nil
}

// AddMilestone добавляет этап и запись графика платежей к заказу в работе.
func (o *Order) AddMilestone(id string, s MilestoneSpec, at time.Time) (*Milestone, error) {
	if o.Status == OrderStatusDisputed || o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}
	if o.Status != OrderStatusInProgress {
		return nil, fmt.Errorf("%w: milestones can only be added to in-progress orders", ErrInvalidState)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if sum := o.MilestonesTotal().Add(s.Amount); sum.GreaterThan(o.Amount) {
		return nil, fmt.Errorf("%w: milestones sum %s would exceed order amount %s", ErrLimitExceeded, sum, o.Amount)
	}

	m := o.appendMilestone(id, s)
	o.refreshDeadline()
	o.RecomputeProgress()
	o.UpdatedAt = at
	return m, nil
}

// startWork переводит ожидающий заказ в работу при первой активности по этапам.
func (o *Order) startWork(actorID string, at time.Time) error {
	if o.Status != OrderStatusPending {
		return nil
	}
	return o.transition(OrderStatusInProgress, TriggerMilestoneActivity, actorID, at)
}

func (o *Order) completeMilestone(m *Milestone, actorID string, at time.Time) error {
	if err := o.startWork(actorID, at); err != nil {
		return err
	}
	completed := at
	m.Status = MilestoneStatusCompleted
	m.CompletedDate = &completed
	o.UpdatedAt = at
	return o.enterReviewIfDelivered(actorID, at)
}

// enterReviewIfDelivered переводит заказ на проверку, когда все этапы сданы.
func (o *Order) enterReviewIfDelivered(actorID string, at time.Time) error {
	if o.Status != OrderStatusInProgress || len(o.Milestones) == 0 {
		return nil
	}
	for _, m := range o.Milestones {
		if m.Status != MilestoneStatusCompleted && m.Status != MilestoneStatusApproved {
			return nil
		}
	}
	return o.transition(OrderStatusReview, TriggerAllDelivered, actorID, at)
}

// CompleteMilestone отмечает этап выполненным и при необходимости прикладывает результаты.
func (o *Order) CompleteMilestone(id string, deliverables []Deliverable, actorID string, at time.Time) (*Milestone, error) {
	m, err := o.mutableMilestone(id)
	if err != nil {
		return nil, err
	}
	if m.Status != MilestoneStatusPending && m.Status != MilestoneStatusInProgress {
		return nil, fmt.Errorf("%w: cannot complete milestone with status %s", ErrInvalidState, m.Status)
	}
	m.Deliverables = append(m.Deliverables, deliverables...)
	if err := o.completeMilestone(m, actorID, at); err != nil {
		return nil, err
	}
	return m, nil
}

// AttachDeliverable добавляет файл к этапу. При autoComplete первый файл
// у незавершённого этапа одновременно завершает его.
func (o *Order) AttachDeliverable(id string, d Deliverable, autoComplete bool, actorID string, at time.Time) (*Milestone, bool, error) {
	m, err := o.mutableMilestone(id)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(d.Filename) == "" || strings.TrimSpace(d.Path) == "" {
		return nil, false, fmt.Errorf("%w: deliverable filename and path are required", ErrValidation)
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = at
	}
	m.Deliverables = append(m.Deliverables, d)
	o.UpdatedAt = at

	if !autoComplete || (m.Status != MilestoneStatusPending && m.Status != MilestoneStatusInProgress) {
		return m, false, nil
	}
	if err := o.completeMilestone(m, actorID, at); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// ApproveMilestone утверждает выполненный этап, освобождает его платёж и
// пересчитывает прогресс. При 100% заказ завершается.
func (o *Order) ApproveMilestone(id, feedback, actorID string, at time.Time) (*Milestone, *PaymentScheduleEntry, error) {
	m, err := o.mutableMilestone(id)
	if err != nil {
		return nil, nil, err
	}
	if m.Status != MilestoneStatusCompleted {
		return nil, nil, fmt.Errorf("%w: can only approve completed milestones, milestone is %s", ErrInvalidState, m.Status)
	}

	entry, err := o.releasePayment(m, at)
	if err != nil {
		return nil, nil, err
	}

	approved := at
	m.Status = MilestoneStatusApproved
	m.ApprovedDate = &approved
	m.ClientApproved = true
	if feedback != "" {
		m.Notes = feedback
	}
	o.UpdatedAt = at

	o.RecomputeProgress()
	if o.Progress == 100 {
		if o.Status == OrderStatusInProgress {
			if err := o.transition(OrderStatusReview, TriggerAllDelivered, actorID, at); err != nil {
				return nil, nil, err
			}
		}
		if err := o.transition(OrderStatusCompleted, TriggerFullyApproved, actorID, at); err != nil {
			return nil, nil, err
		}
	}
	return m, entry, nil
}

// RequestRevision возвращает выполненный этап в работу с замечаниями клиента.
func (o *Order) RequestRevision(id, feedback string, at time.Time) (*Milestone, error) {
	m, err := o.mutableMilestone(id)
	if err != nil {
		return nil, err
	}
	if m.Status != MilestoneStatusCompleted {
		return nil, fmt.Errorf("%w: can only request revision for completed milestones, milestone is %s", ErrInvalidState, m.Status)
	}
	m.Status = MilestoneStatusInProgress
	m.Notes = feedback
	o.UpdatedAt = at
	return m, nil
}

// UpdateMilestone меняет описательные поля и сумму этапа. Статус меняется только действиями.
func (o *Order) UpdateMilestone(id string, p MilestonePatch, at time.Time) (*Milestone, error) {
	m, err := o.mutableMilestone(id)
	if err != nil {
		return nil, err
	}

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, fmt.Errorf("%w: milestone title is required", ErrValidation)
	}
	if p.DueDate != nil && p.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: milestone due date is required", ErrValidation)
	}
	if p.Amount != nil {
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
		}
		sum := o.MilestonesTotal().Sub(m.Amount).Add(*p.Amount)
		if sum.GreaterThan(o.Amount) {
			return nil, fmt.Errorf("%w: milestones sum %s would exceed order amount %s", ErrLimitExceeded, sum, o.Amount)
		}
	}

	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Notes != nil {
		m.Notes = *p.Notes
	}
	if p.DueDate != nil {
		m.DueDate = *p.DueDate
		o.refreshDeadline()
	}
	if p.Amount != nil {
		m.Amount = *p.Amount
		if e := o.scheduleEntry(m.ID); e != nil {
			e.Amount = *p.Amount
		}
	}
	o.UpdatedAt = at
	return m, nil
}
