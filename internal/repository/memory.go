package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/shopspring/decimal"
)

type memTxKey struct{}

type storedOrder struct {
	doc     []byte
	version int64
}

// memTx накапливает записи транзакции до фиксации.
type memTx struct {
	orders   map[string]storedOrder
	payments map[string]model.Payment
}

// MemoryRepository хранит заказы в памяти с той же семантикой версий и транзакций, что у PostgreSQL.
// Транзакции выполняются последовательно.
type MemoryRepository struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	orders   map[string]storedOrder
	quotes   map[string]string
	payments map[string]model.Payment
	stats    map[string]model.ProviderStats
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   make(map[string]storedOrder),
		quotes:   make(map[string]string),
		payments: make(map[string]model.Payment),
		stats:    make(map[string]model.ProviderStats),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

func memTxFromContext(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

// WithTx выполняет fn атомарно: изменения видны другим только после успешного завершения.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if memTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memTx{
		orders:   make(map[string]storedOrder),
		payments: make(map[string]model.Payment),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, so := range tx.orders {
		if _, exists := r.orders[id]; !exists {
			o, err := decodeOrder(so.doc, so.version)
			if err != nil {
				return err
			}
			r.quotes[o.QuoteID] = id
		}
		r.orders[id] = so
	}
	for id, p := range tx.payments {
		r.payments[id] = p
	}
	return nil
}

func (r *MemoryRepository) lookup(ctx context.Context, id string) (storedOrder, bool) {
	if tx := memTxFromContext(ctx); tx != nil {
		if so, ok := tx.orders[id]; ok {
			return so, true
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	so, ok := r.orders[id]
	return so, ok
}

func (r *MemoryRepository) quoteTaken(ctx context.Context, quoteID string) bool {
	if tx := memTxFromContext(ctx); tx != nil {
		for _, so := range tx.orders {
			o, err := decodeOrder(so.doc, so.version)
			if err == nil && o.QuoteID == quoteID {
				return true
			}
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.quotes[quoteID]
	return ok
}

// CreateOrder сохраняет новый заказ. Второй заказ по тому же предложению отклоняется.
// Вне транзакции проверка и вставка выполняются в собственной транзакции.
func (r *MemoryRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	if memTxFromContext(ctx) == nil {
		return r.WithTx(ctx, func(ctx context.Context) error {
			return r.CreateOrder(ctx, o)
		})
	}

	if r.quoteTaken(ctx, o.QuoteID) {
		return fmt.Errorf("%w: order for quote %s", model.ErrAlreadyExists, o.QuoteID)
	}
	if _, ok := r.lookup(ctx, o.ID); ok {
		return fmt.Errorf("%w: order %s", model.ErrAlreadyExists, o.ID)
	}

	o.Version = 1
	doc, err := encodeOrder(o)
	if err != nil {
		return err
	}
	memTxFromContext(ctx).orders[o.ID] = storedOrder{doc: doc, version: 1}
	return nil
}

// GetOrder возвращает копию заказа.
func (r *MemoryRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	so, ok := r.lookup(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, id)
	}
	return decodeOrder(so.doc, so.version)
}

// GetOrderForUpdate совпадает с GetOrder: транзакции уже сериализованы.
func (r *MemoryRepository) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	return r.GetOrder(ctx, id)
}

// UpdateOrder записывает агрегат, если его версия не изменилась с момента чтения.
func (r *MemoryRepository) UpdateOrder(ctx context.Context, o *model.Order) error {
	if tx := memTxFromContext(ctx); tx != nil {
		so, ok := r.lookup(ctx, o.ID)
		next, err := nextVersion(so, ok, o)
		if err != nil {
			return err
		}
		tx.orders[o.ID] = next
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	so, ok := r.orders[o.ID]
	next, err := nextVersion(so, ok, o)
	if err != nil {
		return err
	}
	r.orders[o.ID] = next
	return nil
}

func nextVersion(so storedOrder, found bool, o *model.Order) (storedOrder, error) {
	if !found {
		return storedOrder{}, fmt.Errorf("%w: order %s", model.ErrNotFound, o.ID)
	}
	if so.version != o.Version {
		return storedOrder{}, fmt.Errorf("%w: order %s version %d", ErrStaleVersion, o.ID, o.Version)
	}

	o.Version++
	doc, err := encodeOrder(o)
	if err != nil {
		o.Version--
		return storedOrder{}, err
	}
	return storedOrder{doc: doc, version: o.Version}, nil
}

func (r *MemoryRepository) snapshot(ctx context.Context) ([]model.Order, error) {
	merged := make(map[string]storedOrder)
	r.mu.RLock()
	for id, so := range r.orders {
		merged[id] = so
	}
	r.mu.RUnlock()
	if tx := memTxFromContext(ctx); tx != nil {
		for id, so := range tx.orders {
			merged[id] = so
		}
	}

	res := make([]model.Order, 0, len(merged))
	for _, so := range merged {
		o, err := decodeOrder(so.doc, so.version)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}
	return res, nil
}

func matchesFilter(o *model.Order, f model.OrderFilter) bool {
	switch f.Scope {
	case model.ScopeClient:
		if o.ClientID != f.UserID {
			return false
		}
	case model.ScopeProvider:
		if o.ProviderID != f.UserID {
			return false
		}
	case model.ScopeDisputed:
		if o.Status != model.OrderStatusDisputed {
			return false
		}
	}
	return f.Status == "" || o.Status == f.Status
}

// ListOrders возвращает страницу заказов, новые первыми. Для споров порядок по дате открытия спора.
func (r *MemoryRepository) ListOrders(ctx context.Context, f model.OrderFilter) (*model.OrderPage, error) {
	f = normalizeFilter(f)
	all, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	page := &model.OrderPage{Orders: []model.Order{}, Page: f.Page, Earnings: decimal.Zero}
	var matched []model.Order
	for i := range all {
		o := &all[i]
		switch {
		case f.Scope == model.ScopeClient && o.ClientID == f.UserID:
			if o.Status.IsActive() {
				page.ActiveCount++
			}
			if o.Status == model.OrderStatusCompleted {
				page.CompletedCount++
			}
		case f.Scope == model.ScopeProvider && o.ProviderID == f.UserID:
			if o.Status == model.OrderStatusCompleted {
				page.Earnings = page.Earnings.Add(o.Amount)
			}
		}
		if matchesFilter(o, f) {
			matched = append(matched, *o)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if f.Scope == model.ScopeDisputed && a.Dispute != nil && b.Dispute != nil &&
			!a.Dispute.RaisedAt.Equal(b.Dispute.RaisedAt) {
			return a.Dispute.RaisedAt.After(b.Dispute.RaisedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	page.Total = len(matched)
	page.Pages = pagesFor(page.Total, f.Limit)
	if off := f.Offset(); off >= 0 && off < len(matched) {
		end := off + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Orders = append(page.Orders, matched[off:end]...)
	}
	return page, nil
}

// CreatePayment сохраняет запись платёжного шлюза по этапу.
func (r *MemoryRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	if _, err := r.payment(ctx, p.ID); err == nil {
		return fmt.Errorf("%w: payment %s", model.ErrAlreadyExists, p.ID)
	}
	r.putPayment(ctx, *p)
	return nil
}

func (r *MemoryRepository) payment(ctx context.Context, id string) (model.Payment, error) {
	if tx := memTxFromContext(ctx); tx != nil {
		if p, ok := tx.payments[id]; ok {
			return p, nil
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return model.Payment{}, fmt.Errorf("%w: payment %s", model.ErrNotFound, id)
	}
	return p, nil
}

func (r *MemoryRepository) putPayment(ctx context.Context, p model.Payment) {
	if tx := memTxFromContext(ctx); tx != nil {
		tx.payments[p.ID] = p
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.ID] = p
}

func (r *MemoryRepository) orderPayments(ctx context.Context, orderID string) []model.Payment {
	merged := make(map[string]model.Payment)
	r.mu.RLock()
	for id, p := range r.payments {
		if p.OrderID == orderID {
			merged[id] = p
		}
	}
	r.mu.RUnlock()
	if tx := memTxFromContext(ctx); tx != nil {
		for id, p := range tx.payments {
			if p.OrderID == orderID {
				merged[id] = p
			}
		}
	}

	res := make([]model.Payment, 0, len(merged))
	for _, p := range merged {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// ListPayments возвращает записи платежей заказа в порядке создания.
func (r *MemoryRepository) ListPayments(ctx context.Context, orderID string) ([]model.Payment, error) {
	return r.orderPayments(ctx, orderID), nil
}

// FindPayment возвращает последнюю запись платежа по этапу.
func (r *MemoryRepository) FindPayment(ctx context.Context, orderID, milestoneID string) (*model.Payment, error) {
	payments := r.orderPayments(ctx, orderID)
	for i := len(payments) - 1; i >= 0; i-- {
		if payments[i].MilestoneID == milestoneID {
			p := payments[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: payment for milestone %s", model.ErrNotFound, milestoneID)
}

// CompletePayment отмечает запись платежа завершённой.
func (r *MemoryRepository) CompletePayment(ctx context.Context, id string, at time.Time) error {
	p, err := r.payment(ctx, id)
	if err != nil {
		return err
	}
	completed := at
	p.Status = model.PaymentRecordCompleted
	p.CompletedAt = &completed
	r.putPayment(ctx, p)
	return nil
}

// IncrementCompletedProjects увеличивает счётчик завершённых проектов исполнителя.
func (r *MemoryRepository) IncrementCompletedProjects(_ context.Context, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[providerID]
	s.ProviderID = providerID
	s.CompletedProjects++
	r.stats[providerID] = s
	return nil
}

// RecordRating учитывает оценку клиента в среднем рейтинге исполнителя.
func (r *MemoryRepository) RecordRating(_ context.Context, providerID string, rating int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[providerID]
	s.ProviderID = providerID
	s.TotalReviews++
	s.RatingSum += rating
	r.stats[providerID] = s
	return nil
}

// ProviderStats возвращает показатели исполнителя. Для неизвестного исполнителя возвращаются нули.
func (r *MemoryRepository) ProviderStats(_ context.Context, providerID string) (*model.ProviderStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stats[providerID]
	s.ProviderID = providerID
	s.Rating = s.AverageRating()
	return &s, nil
}
