package model

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m-%d", n)
	}
}

func testQuote(amount int64) Quote {
	return Quote{
		ID:         "quote-1",
		RFQID:      "rfq-1",
		ClientID:   "client-1",
		ProviderID: "provider-1",
		Title:      "Landing page",
		Amount:     decimal.NewFromInt(amount),
		Currency:   "USD",
	}
}

func newTestOrder(t *testing.T, amount int64) *Order {
	t.Helper()
	o, err := NewOrderFromQuote("order-1", testQuote(amount), nil, time.Time{}, sequentialIDs(), testNow)
	require.NoError(t, err)
	return o
}

func completeAll(t *testing.T, o *Order) {
	t.Helper()
	for _, m := range o.Milestones {
		_, err := o.CompleteMilestone(m.ID, nil, o.ProviderID, testNow)
		require.NoError(t, err)
	}
}

func TestNewOrderFromQuote_DefaultMilestones(t *testing.T) {
	o := newTestOrder(t, 1000)

	require.Len(t, o.Milestones, 3)
	wantAmounts := []string{"200", "500", "300"}
	wantDays := []int{7, 21, 30}
	for i, m := range o.Milestones {
		assert.Equal(t, wantAmounts[i], m.Amount.String())
		assert.Equal(t, MilestoneStatusPending, m.Status)
		assert.Equal(t, testNow.Add(time.Duration(wantDays[i])*24*time.Hour), m.DueDate)
		assert.Equal(t, m.ID, o.PaymentSchedule[i].MilestoneID)
		assert.Equal(t, PaymentStatusPending, o.PaymentSchedule[i].Status)
	}
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, 0, o.Progress)
	assert.Equal(t, o.Milestones[2].DueDate, o.Deadline)
	assert.Equal(t, testNow, o.StartDate)
	require.NoError(t, o.CheckInvariants())
}

func TestDefaultMilestones_SumMatchesAmount(t *testing.T) {
	for _, amount := range []string{"0.05", "999.99", "1", "1234.57"} {
		a := decimal.RequireFromString(amount)
		specs := DefaultMilestones(a, testNow)
		sum := decimal.Zero
		for _, s := range specs {
			sum = sum.Add(s.Amount)
		}
		assert.True(t, sum.Equal(a), "amount %s: sum %s", amount, sum)
	}
}

func TestNewOrderFromQuote_AmountTooSmallForDefaultPlan(t *testing.T) {
	q := testQuote(0)
	q.Amount = decimal.RequireFromString("0.04")
	_, err := NewOrderFromQuote("order-1", q, nil, time.Time{}, sequentialIDs(), testNow)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "below 0.05")

	specs := []MilestoneSpec{{Title: "Tiny", Amount: q.Amount, DueDate: testNow.Add(time.Hour)}}
	o, err := NewOrderFromQuote("order-1", q, specs, time.Time{}, sequentialIDs(), testNow)
	require.NoError(t, err)
	assert.Len(t, o.Milestones, 1)
}

func TestNewOrderFromQuote_ExplicitMilestones(t *testing.T) {
	specs := []MilestoneSpec{
		{Title: "Design", Amount: decimal.NewFromInt(400), DueDate: testNow.Add(48 * time.Hour)},
		{Title: "Build", Amount: decimal.NewFromInt(600), DueDate: testNow.Add(96 * time.Hour)},
	}
	o, err := NewOrderFromQuote("order-1", testQuote(1000), specs, testNow, sequentialIDs(), testNow)
	require.NoError(t, err)
	require.Len(t, o.Milestones, 2)
	assert.Equal(t, specs[1].DueDate, o.Deadline)

	specs[1].Amount = decimal.NewFromInt(601)
	_, err = NewOrderFromQuote("order-2", testQuote(1000), specs, testNow, sequentialIDs(), testNow)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	specs[1].Amount = decimal.Zero
	_, err = NewOrderFromQuote("order-3", testQuote(1000), specs, testNow, sequentialIDs(), testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestChangeStatus_TransitionTable(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusPending, OrderStatusInProgress, OrderStatusReview,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusDisputed,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			if CanTransition(from, to) {
				continue
			}
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				o := newTestOrder(t, 1000)
				o.Status = from
				for _, side := range []Side{SideClient, SideProvider, SideAdmin} {
					err := o.ChangeStatus(to, side, "actor", testNow)
					require.ErrorIs(t, err, ErrInvalidTransition)
					assert.Equal(t, from, o.Status)
				}
			})
		}
	}
}

func TestChangeStatus_AllowedExplicit(t *testing.T) {
	o := newTestOrder(t, 1000)

	require.NoError(t, o.ChangeStatus(OrderStatusInProgress, SideClient, o.ClientID, testNow))
	require.NoError(t, o.ChangeStatus(OrderStatusReview, SideProvider, o.ProviderID, testNow))
	require.NoError(t, o.ChangeStatus(OrderStatusInProgress, SideClient, o.ClientID, testNow))
	require.NoError(t, o.ChangeStatus(OrderStatusCancelled, SideAdmin, "admin-1", testNow))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	require.Len(t, o.History, 5)
	assert.Equal(t, TriggerExplicit, o.History[4].Trigger)
}

func TestChangeStatus_Guards(t *testing.T) {
	t.Run("stranger is forbidden", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		err := o.ChangeStatus(OrderStatusInProgress, SideNone, "stranger", testNow)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("disputed cannot be entered explicitly", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		err := o.ChangeStatus(OrderStatusDisputed, SideClient, o.ClientID, testNow)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, OrderStatusPending, o.Status)
	})

	t.Run("completion requires full progress", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		completeAll(t, o)
		require.Equal(t, OrderStatusReview, o.Status)
		err := o.ChangeStatus(OrderStatusCompleted, SideClient, o.ClientID, testNow)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, OrderStatusReview, o.Status)
	})

	t.Run("parties cannot leave disputed", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		_, err := o.RaiseDispute(SideClient, o.ClientID, "late", "nothing delivered", testNow)
		require.NoError(t, err)
		err = o.ChangeStatus(OrderStatusInProgress, SideProvider, o.ProviderID, testNow)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, OrderStatusDisputed, o.Status)
	})

	t.Run("admin override resolves dispute", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		_, err := o.RaiseDispute(SideProvider, o.ProviderID, "scope", "scope creep", testNow)
		require.NoError(t, err)
		require.NoError(t, o.ChangeStatus(OrderStatusInProgress, SideAdmin, "admin-1", testNow))
		assert.Equal(t, OrderStatusInProgress, o.Status)
		assert.Equal(t, DisputeStatusResolved, o.Dispute.Status)
		assert.Equal(t, ResolutionOverride, o.Dispute.Resolution)
		assert.Equal(t, TriggerAdminOverride, o.History[len(o.History)-1].Trigger)
	})
}

func TestScenarioB_CompletingAllMilestonesEntersReview(t *testing.T) {
	o := newTestOrder(t, 1000)
	completeAll(t, o)

	assert.Equal(t, OrderStatusReview, o.Status)
	assert.Equal(t, 0, o.Progress)
	triggers := []Trigger{}
	for _, h := range o.History {
		triggers = append(triggers, h.Trigger)
	}
	assert.Equal(t, []Trigger{TriggerQuoteAccepted, TriggerMilestoneActivity, TriggerAllDelivered}, triggers)
	require.NoError(t, o.CheckInvariants())
}

func TestScenarioC_ApprovingAllCompletesOrder(t *testing.T) {
	o := newTestOrder(t, 1000)
	completeAll(t, o)

	wantProgress := []int{33, 67, 100}
	for i, m := range o.Milestones {
		_, entry, err := o.ApproveMilestone(m.ID, "", o.ClientID, testNow)
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusPaid, entry.Status)
		assert.Equal(t, wantProgress[i], o.Progress)
		require.NoError(t, o.CheckInvariants())
	}
	assert.Equal(t, OrderStatusCompleted, o.Status)
	require.NotNil(t, o.CompletedDate)
	assert.True(t, o.PaidTotal().Equal(decimal.NewFromInt(1000)))
}

func TestApproveMilestone_Terminality(t *testing.T) {
	o := newTestOrder(t, 1000)
	completeAll(t, o)
	id := o.Milestones[0].ID

	_, _, err := o.ApproveMilestone(id, "great", o.ClientID, testNow)
	require.NoError(t, err)
	assert.Equal(t, "great", o.Milestones[0].Notes)
	assert.True(t, o.Milestones[0].ClientApproved)

	_, _, err = o.ApproveMilestone(id, "", o.ClientID, testNow)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = o.RequestRevision(id, "redo", testNow)
	assert.ErrorIs(t, err, ErrInvalidState)
	title := "renamed"
	_, err = o.UpdateMilestone(id, MilestonePatch{Title: &title}, testNow)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 33, o.Progress)
	require.NoError(t, o.CheckInvariants())
}

func TestApproveMilestone_RequiresCompleted(t *testing.T) {
	o := newTestOrder(t, 1000)
	_, _, err := o.ApproveMilestone(o.Milestones[0].ID, "", o.ClientID, testNow)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = o.ApproveMilestone("missing", "", o.ClientID, testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveMilestone_FromInProgressWalksThroughReview(t *testing.T) {
	o := newTestOrder(t, 1000)
	completeAll(t, o)
	for _, m := range o.Milestones[:2] {
		_, _, err := o.ApproveMilestone(m.ID, "", o.ClientID, testNow)
		require.NoError(t, err)
	}
	require.NoError(t, o.ChangeStatus(OrderStatusInProgress, SideClient, o.ClientID, testNow))

	_, _, err := o.ApproveMilestone(o.Milestones[2].ID, "", o.ClientID, testNow)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCompleted, o.Status)
	last := o.History[len(o.History)-2:]
	assert.Equal(t, OrderStatusReview, last[0].To)
	assert.Equal(t, OrderStatusCompleted, last[1].To)
}

func TestRequestRevision(t *testing.T) {
	o := newTestOrder(t, 1000)
	id := o.Milestones[0].ID

	_, err := o.RequestRevision(id, "too early", testNow)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = o.CompleteMilestone(id, nil, o.ProviderID, testNow)
	require.NoError(t, err)
	m, err := o.RequestRevision(id, "fix the header", testNow)
	require.NoError(t, err)
	assert.Equal(t, MilestoneStatusInProgress, m.Status)
	assert.Equal(t, "fix the header", m.Notes)
	assert.Equal(t, 0, o.Progress)

	_, err = o.CompleteMilestone(id, nil, o.ProviderID, testNow)
	require.NoError(t, err)
}

func TestCompleteMilestone_AlreadyCompleted(t *testing.T) {
	o := newTestOrder(t, 1000)
	id := o.Milestones[0].ID
	_, err := o.CompleteMilestone(id, []Deliverable{{Filename: "a.zip", Path: "/d/a.zip"}}, o.ProviderID, testNow)
	require.NoError(t, err)
	assert.Len(t, o.Milestones[0].Deliverables, 1)
	assert.Equal(t, OrderStatusInProgress, o.Status)

	_, err = o.CompleteMilestone(id, nil, o.ProviderID, testNow)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAttachDeliverable_AutoCompletePolicy(t *testing.T) {
	d := Deliverable{Filename: "spec.pdf", Path: "/uploads/deliverables/spec.pdf", Size: 42}

	t.Run("enabled", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		m, auto, err := o.AttachDeliverable(o.Milestones[0].ID, d, true, o.ProviderID, testNow)
		require.NoError(t, err)
		assert.True(t, auto)
		assert.Equal(t, MilestoneStatusCompleted, m.Status)
		assert.Equal(t, testNow, m.Deliverables[0].UploadedAt)

		_, auto, err = o.AttachDeliverable(o.Milestones[0].ID, d, true, o.ProviderID, testNow)
		require.NoError(t, err)
		assert.False(t, auto)
		assert.Len(t, o.Milestones[0].Deliverables, 2)
	})

	t.Run("disabled", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		m, auto, err := o.AttachDeliverable(o.Milestones[0].ID, d, false, o.ProviderID, testNow)
		require.NoError(t, err)
		assert.False(t, auto)
		assert.Equal(t, MilestoneStatusPending, m.Status)
		assert.Equal(t, OrderStatusPending, o.Status)
	})

	t.Run("missing path", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		_, _, err := o.AttachDeliverable(o.Milestones[0].ID, Deliverable{Filename: "x"}, true, o.ProviderID, testNow)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestAddMilestone(t *testing.T) {
	spec := MilestoneSpec{Title: "Extra", Amount: decimal.NewFromInt(100), DueDate: testNow.Add(40 * 24 * time.Hour)}

	t.Run("requires in-progress", func(t *testing.T) {
		o := newTestOrder(t, 1000)
		_, err := o.AddMilestone("extra", spec, testNow)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("terminal orders conflict", func(t *testing.T) {
		cancelled := newTestOrder(t, 1000)
		require.NoError(t, cancelled.ChangeStatus(OrderStatusCancelled, SideClient, cancelled.ClientID, testNow))
		_, err := cancelled.AddMilestone("extra", spec, testNow)
		assert.ErrorIs(t, err, ErrConflict)

		completed := newTestOrder(t, 1000)
		completeAll(t, completed)
		for _, m := range completed.Milestones {
			_, _, err := completed.ApproveMilestone(m.ID, "", completed.ClientID, testNow)
			require.NoError(t, err)
		}
		require.Equal(t, OrderStatusCompleted, completed.Status)
		_, err = completed.AddMilestone("extra", spec, testNow)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NotErrorIs(t, err, ErrInvalidState)
	})

	t.Run("scenario D limit exceeded", func(t *testing.T) {
		specs := []MilestoneSpec{{Title: "Only", Amount: decimal.NewFromInt(300), DueDate: testNow.Add(time.Hour)}}
		o, err := NewOrderFromQuote("order-1", testQuote(1000), specs, testNow, sequentialIDs(), testNow)
		require.NoError(t, err)
		require.NoError(t, o.ChangeStatus(OrderStatusInProgress, SideProvider, o.ProviderID, testNow))

		big := spec
		big.Amount = decimal.NewFromInt(850)
		_, err = o.AddMilestone("extra", big, testNow)
		require.ErrorIs(t, err, ErrLimitExceeded)
		assert.Len(t, o.Milestones, 1)
		assert.Len(t, o.PaymentSchedule, 1)

		big.Amount = decimal.NewFromInt(700)
		m, err := o.AddMilestone("extra", big, testNow)
		require.NoError(t, err)
		assert.Equal(t, MilestoneStatusPending, m.Status)
		assert.Len(t, o.PaymentSchedule, 2)
		assert.Equal(t, big.DueDate, o.Deadline)
		assert.True(t, o.MilestonesTotal().Equal(o.Amount))
		require.NoError(t, o.CheckInvariants())
	})

	t.Run("recomputes progress", func(t *testing.T) {
		specs := []MilestoneSpec{{Title: "Only", Amount: decimal.NewFromInt(300), DueDate: testNow.Add(time.Hour)}}
		o, err := NewOrderFromQuote("order-1", testQuote(1000), specs, testNow, sequentialIDs(), testNow)
		require.NoError(t, err)
		_, err = o.CompleteMilestone(o.Milestones[0].ID, nil, o.ProviderID, testNow)
		require.NoError(t, err)
		require.NoError(t, o.ChangeStatus(OrderStatusInProgress, SideClient, o.ClientID, testNow))
		_, err = o.AddMilestone("extra", spec, testNow)
		require.NoError(t, err)
		_, _, err = o.ApproveMilestone(o.Milestones[0].ID, "", o.ClientID, testNow)
		require.NoError(t, err)
		assert.Equal(t, 50, o.Progress)
		assert.Equal(t, OrderStatusInProgress, o.Status)
	})
}

func TestUpdateMilestone(t *testing.T) {
	o := newTestOrder(t, 1000)
	id := o.Milestones[2].ID

	amount := decimal.NewFromInt(301)
	_, err := o.UpdateMilestone(id, MilestonePatch{Amount: &amount}, testNow)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	amount = decimal.NewFromInt(250)
	due := testNow.Add(60 * 24 * time.Hour)
	notes := "split delivery"
	m, err := o.UpdateMilestone(id, MilestonePatch{Amount: &amount, DueDate: &due, Notes: &notes}, testNow)
	require.NoError(t, err)
	assert.True(t, m.Amount.Equal(amount))
	assert.True(t, o.PaymentSchedule[2].Amount.Equal(amount))
	assert.Equal(t, due, o.Deadline)
	assert.Equal(t, notes, m.Notes)
	require.NoError(t, o.CheckInvariants())
}

func TestScenarioE_DisputeFreezesAndRefundCancels(t *testing.T) {
	o := newTestOrder(t, 1000)
	_, err := o.CompleteMilestone(o.Milestones[0].ID, nil, o.ProviderID, testNow)
	require.NoError(t, err)
	require.Equal(t, OrderStatusInProgress, o.Status)

	d, err := o.RaiseDispute(SideClient, o.ClientID, "quality", "deliverable is broken", testNow)
	require.NoError(t, err)
	assert.Equal(t, DisputeStatusPending, d.Status)
	assert.Equal(t, OrderStatusDisputed, o.Status)

	_, _, err = o.ApproveMilestone(o.Milestones[0].ID, "", o.ClientID, testNow)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = o.CompleteMilestone(o.Milestones[1].ID, nil, o.ProviderID, testNow)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = o.RequestRevision(o.Milestones[0].ID, "", testNow)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = o.AddMilestone("x", MilestoneSpec{Title: "x", Amount: decimal.NewFromInt(1), DueDate: testNow}, testNow)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = o.RaiseDispute(SideProvider, o.ProviderID, "again", "again", testNow)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = o.ResolveDispute(SideClient, o.ClientID, ResolutionRefund, "n", testNow)
	assert.ErrorIs(t, err, ErrForbidden)

	d, err = o.ResolveDispute(SideAdmin, "admin-1", ResolutionRefund, "provider failed to deliver", testNow)
	require.NoError(t, err)
	assert.Equal(t, DisputeStatusResolved, d.Status)
	assert.Equal(t, OrderStatusCancelled, o.Status)
	require.NoError(t, o.CheckInvariants())

	_, err = o.RaiseDispute(SideClient, o.ClientID, "late", "late", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResolveDispute_OtherResolutionsResumeWork(t *testing.T) {
	for _, resolution := range []string{ResolutionContinue, "something else"} {
		t.Run(resolution, func(t *testing.T) {
			o := newTestOrder(t, 1000)
			_, err := o.RaiseDispute(SideProvider, o.ProviderID, "payment", "client silent", testNow)
			require.NoError(t, err)

			_, err = o.ResolveDispute(SideAdmin, "admin-1", resolution, "", testNow)
			require.ErrorIs(t, err, ErrValidation)

			_, err = o.ResolveDispute(SideAdmin, "admin-1", resolution, "talked to both", testNow)
			require.NoError(t, err)
			assert.Equal(t, OrderStatusInProgress, o.Status)

			_, err = o.ResolveDispute(SideAdmin, "admin-1", resolution, "again", testNow)
			assert.ErrorIs(t, err, ErrInvalidState)

			_, err = o.RaiseDispute(SideClient, o.ClientID, "second", "second round", testNow)
			require.NoError(t, err)
			assert.Len(t, o.PastDisputes, 1)
		})
	}
}

func TestScenarioF_ReviewOncePerParty(t *testing.T) {
	o := newTestOrder(t, 1000)

	_, err := o.LeaveReview(SideClient, 5, "early", nil, testNow)
	require.ErrorIs(t, err, ErrInvalidState)

	completeAll(t, o)
	for _, m := range o.Milestones {
		_, _, err := o.ApproveMilestone(m.ID, "", o.ClientID, testNow)
		require.NoError(t, err)
	}

	_, err = o.LeaveReview(SideClient, 6, "", nil, testNow)
	require.ErrorIs(t, err, ErrValidation)

	r, err := o.LeaveReview(SideClient, 5, "great work", map[string]int{"communication": 5}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Rating)

	_, err = o.LeaveReview(SideClient, 4, "again", nil, testNow)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = o.LeaveReview(SideProvider, 4, "good client", nil, testNow)
	require.NoError(t, err)
	_, err = o.LeaveReview(SideAdmin, 4, "", nil, testNow)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOrderFilter_Offset(t *testing.T) {
	tests := []struct {
		name string
		f    OrderFilter
		want int
	}{
		{"first page", OrderFilter{Page: 1, Limit: 10}, 0},
		{"third page", OrderFilter{Page: 3, Limit: 10}, 20},
		{"page not set", OrderFilter{Limit: 10}, 0},
		{"overflow", OrderFilter{Page: 1_000_000_000_000_000_000, Limit: 10}, math.MaxInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Offset())
		})
	}
}

func TestProgress(t *testing.T) {
	build := func(approved, total int) []Milestone {
		ms := make([]Milestone, total)
		for i := range ms {
			ms[i].Status = MilestoneStatusCompleted
			if i < approved {
				ms[i].Status = MilestoneStatusApproved
			}
		}
		return ms
	}

	tests := []struct {
		approved, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 8, 13},
		{1, 200, 1},
		{1, 201, 0},
	}
	for _, tt := range tests {
		got := Progress(build(tt.approved, tt.total))
		if got != tt.want {
			t.Fatalf("Progress(%d/%d) = %d, want %d", tt.approved, tt.total, got, tt.want)
		}
	}
}

func TestSideOf(t *testing.T) {
	o := newTestOrder(t, 1000)

	assert.Equal(t, SideClient, o.SideOf(Party{UserID: "client-1", Role: RoleClient}))
	assert.Equal(t, SideProvider, o.SideOf(Party{UserID: "provider-1", Role: RoleProvider}))
	assert.Equal(t, SideAdmin, o.SideOf(Party{UserID: "admin-1", Role: RoleAdmin}))
	assert.Equal(t, SideNone, o.SideOf(Party{UserID: "someone", Role: RoleClient}))
	assert.Equal(t, "provider-1", o.Counterparty("client-1"))
	assert.Equal(t, "client-1", o.Counterparty("provider-1"))
}

func TestCheckInvariants_DetectsPaymentDrift(t *testing.T) {
	o := newTestOrder(t, 1000)
	o.PaymentSchedule[0].Status = PaymentStatusPaid
	err := o.CheckInvariants()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))
}
