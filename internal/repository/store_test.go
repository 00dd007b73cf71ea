package repository

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderStore interface {
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

var baseTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newOrder(t *testing.T, clientID, providerID string, created time.Time) *model.Order {
	t.Helper()
	q := model.Quote{
		ID:         uuid.NewString(),
		RFQID:      uuid.NewString(),
		ClientID:   clientID,
		ProviderID: providerID,
		Title:      "Mobile app",
		Amount:     decimal.NewFromInt(1000),
		Currency:   "USD",
	}
	o, err := model.NewOrderFromQuote(uuid.NewString(), q, nil, time.Time{}, uuid.NewString, created)
	require.NoError(t, err)
	return o
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) orderStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, s.CreateOrder(ctx, o))
		assert.Equal(t, int64(1), o.Version)

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.QuoteID, got.QuoteID)
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, got.Amount.Equal(o.Amount))
		require.Len(t, got.Milestones, 3)
		assert.True(t, got.Milestones[1].Amount.Equal(decimal.NewFromInt(500)))
		assert.Equal(t, o.Milestones[0].ID, got.PaymentSchedule[0].MilestoneID)
	})

	t.Run("missing order", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetOrder(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("one order per quote", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, s.CreateOrder(ctx, o))

		dup := *o
		dup.ID = uuid.NewString()
		err := s.CreateOrder(ctx, &dup)
		assert.ErrorIs(t, err, model.ErrAlreadyExists)
	})

	t.Run("concurrent acceptance of one quote", func(t *testing.T) {
		s := newStore(t)
		proto := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)

		const workers = 8
		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			created = make(chan string, workers)
			errs    = make(chan error, workers)
		)
		for i := 0; i < workers; i++ {
			o := *proto
			o.ID = uuid.NewString()
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if err := s.CreateOrder(ctx, &o); err != nil {
					errs <- err
					return
				}
				created <- o.ID
			}()
		}
		close(start)
		wg.Wait()
		close(created)
		close(errs)

		require.Len(t, created, 1)
		for err := range errs {
			assert.ErrorIs(t, err, model.ErrAlreadyExists)
		}
		page, err := s.ListOrders(ctx, model.OrderFilter{Scope: model.ScopeClient, UserID: proto.ClientID})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, s.CreateOrder(ctx, o))

		first, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		second, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)

		require.NoError(t, first.ChangeStatus(model.OrderStatusInProgress, model.SideClient, first.ClientID, baseTime))
		require.NoError(t, s.UpdateOrder(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		require.NoError(t, second.ChangeStatus(model.OrderStatusCancelled, model.SideClient, second.ClientID, baseTime))
		err = s.UpdateOrder(ctx, second)
		require.ErrorIs(t, err, ErrStaleVersion)
		assert.ErrorIs(t, err, model.ErrConflict)

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusInProgress, got.Status)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, s.CreateOrder(ctx, o))

		boom := errors.New("boom")
		err := s.WithTx(ctx, func(ctx context.Context) error {
			locked, err := s.GetOrderForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			if err := locked.ChangeStatus(model.OrderStatusCancelled, model.SideProvider, locked.ProviderID, baseTime); err != nil {
				return err
			}
			if err := s.UpdateOrder(ctx, locked); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, got.Status)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("list by scope", func(t *testing.T) {
		s := newStore(t)
		client, provider := uuid.NewString(), uuid.NewString()

		var ids []string
		for i := 0; i < 3; i++ {
			o := newOrder(t, client, provider, baseTime.Add(time.Duration(i)*time.Hour))
			require.NoError(t, s.CreateOrder(ctx, o))
			ids = append(ids, o.ID)
		}
		other := newOrder(t, uuid.NewString(), provider, baseTime.Add(10*time.Hour))
		require.NoError(t, s.CreateOrder(ctx, other))

		done, err := s.GetOrder(ctx, ids[0])
		require.NoError(t, err)
		for _, m := range done.Milestones {
			_, err := done.CompleteMilestone(m.ID, nil, provider, baseTime)
			require.NoError(t, err)
		}
		for _, m := range done.Milestones {
			_, _, err := done.ApproveMilestone(m.ID, "", client, baseTime)
			require.NoError(t, err)
		}
		require.NoError(t, s.UpdateOrder(ctx, done))

		page, err := s.ListOrders(ctx, model.OrderFilter{Scope: model.ScopeClient, UserID: client, Page: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.Pages)
		require.Len(t, page.Orders, 2)
		assert.Equal(t, ids[2], page.Orders[0].ID)
		assert.Equal(t, ids[1], page.Orders[1].ID)
		assert.Equal(t, 2, page.ActiveCount)
		assert.Equal(t, 1, page.CompletedCount)

		page, err = s.ListOrders(ctx, model.OrderFilter{Scope: model.ScopeClient, UserID: client, Page: 2, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Orders, 1)
		assert.Equal(t, ids[0], page.Orders[0].ID)

		page, err = s.ListOrders(ctx, model.OrderFilter{Scope: model.ScopeProvider, UserID: provider, Status: model.OrderStatusPending})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.True(t, page.Earnings.Equal(decimal.NewFromInt(1000)), "earnings %s", page.Earnings)
	})

	t.Run("disputed scope", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for i := 0; i < 2; i++ {
			o := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)
			_, err := o.RaiseDispute(model.SideClient, o.ClientID, "late", "missed deadline", baseTime.Add(time.Duration(i)*time.Hour))
			require.NoError(t, err)
			require.NoError(t, s.CreateOrder(ctx, o))
			ids = append(ids, o.ID)
		}

		page, err := s.ListOrders(ctx, model.OrderFilter{Scope: model.ScopeDisputed, Limit: MaxPageLimit})
		require.NoError(t, err)
		var got []string
		for _, o := range page.Orders {
			assert.Equal(t, model.OrderStatusDisputed, o.Status)
			if slices.Contains(ids, o.ID) {
				got = append(got, o.ID)
			}
		}
		assert.Equal(t, []string{ids[1], ids[0]}, got)
	})

	t.Run("page beyond range", func(t *testing.T) {
		s := newStore(t)
		client := uuid.NewString()
		require.NoError(t, s.CreateOrder(ctx, newOrder(t, client, uuid.NewString(), baseTime)))

		for _, p := range []int{1_000_000_000_000_000_000, MaxPage + 1, 50} {
			page, err := s.ListOrders(ctx, model.OrderFilter{Scope: model.ScopeClient, UserID: client, Page: p, Limit: 10})
			require.NoError(t, err, "page %d", p)
			assert.Empty(t, page.Orders)
			assert.Equal(t, 1, page.Total)
			assert.LessOrEqual(t, page.Page, MaxPage)
		}
	})

	t.Run("payments", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, s.CreateOrder(ctx, o))
		milestoneID := o.Milestones[0].ID

		_, err := s.FindPayment(ctx, o.ID, milestoneID)
		require.ErrorIs(t, err, model.ErrNotFound)

		p := &model.Payment{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			MilestoneID: milestoneID,
			UserID:      o.ClientID,
			Amount:      decimal.RequireFromString("200.00"),
			Currency:    "USD",
			Method:      "card",
			Status:      model.PaymentRecordPending,
			CreatedAt:   baseTime,
		}
		require.NoError(t, s.CreatePayment(ctx, p))

		err = s.WithTx(ctx, func(ctx context.Context) error {
			found, err := s.FindPayment(ctx, o.ID, milestoneID)
			if err != nil {
				return err
			}
			return s.CompletePayment(ctx, found.ID, baseTime.Add(time.Minute))
		})
		require.NoError(t, err)

		payments, err := s.ListPayments(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, model.PaymentRecordCompleted, payments[0].Status)
		require.NotNil(t, payments[0].CompletedAt)
		assert.True(t, payments[0].Amount.Equal(decimal.NewFromInt(200)))
	})

	t.Run("provider stats", func(t *testing.T) {
		s := newStore(t)
		provider := uuid.NewString()

		stats, err := s.ProviderStats(ctx, provider)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalReviews)

		require.NoError(t, s.IncrementCompletedProjects(ctx, provider))
		require.NoError(t, s.RecordRating(ctx, provider, 5))
		require.NoError(t, s.RecordRating(ctx, provider, 4))

		stats, err = s.ProviderStats(ctx, provider)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.CompletedProjects)
		assert.Equal(t, 2, stats.TotalReviews)
		assert.InDelta(t, 4.5, stats.Rating, 0.001)
	})
}
