package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type txKey struct{}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository хранит заказ одним JSONB-документом с индексируемыми колонками и версией.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сериализационных конфликтах, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (r *PostgresRepository) conn(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithTx выполняет fn в одной транзакции. Вложенный вызов переиспользует внешнюю транзакцию.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func disputeRaisedAt(o *model.Order) *time.Time {
	if o.Dispute == nil {
		return nil
	}
	t := o.Dispute.RaisedAt
	return &t
}

// CreateOrder сохраняет новый заказ. Второй заказ по тому же предложению отклоняется.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	doc, err := encodeOrder(o)
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO orders (id, quote_id, rfq_id, client_id, provider_id, status, amount, progress,
		                     dispute_raised_at, version, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, 1, $10::jsonb, $11, $12)`,
		o.ID, o.QuoteID, o.RFQID, o.ClientID, o.ProviderID, string(o.Status), o.Amount.String(), o.Progress,
		disputeRaisedAt(o), string(doc), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order for quote %s", model.ErrAlreadyExists, o.QuoteID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	o.Version = 1
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return r.getOrder(ctx, `SELECT document, version FROM orders WHERE id = $1`, id)
}

// GetOrderForUpdate возвращает заказ и блокирует его строку до конца транзакции.
func (r *PostgresRepository) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	return r.getOrder(ctx, `SELECT document, version FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOrder(ctx context.Context, query, id string) (*model.Order, error) {
	var (
		doc     []byte
		version int64
	)
	err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return decodeOrder(doc, version)
}

// UpdateOrder записывает агрегат целиком, если его версия не изменилась с момента чтения.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o *model.Order) error {
	doc, err := encodeOrder(o)
	if err != nil {
		return err
	}

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE orders
		 SET status = $3, progress = $4, dispute_raised_at = $5, document = $6::jsonb,
		     updated_at = $7, version = version + 1
		 WHERE id = $1 AND version = $2`,
		o.ID, o.Version, string(o.Status), o.Progress, disputeRaisedAt(o), string(doc), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s version %d", ErrStaleVersion, o.ID, o.Version)
	}

	o.Version++
	return nil
}

func orderConditions(f model.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	switch f.Scope {
	case model.ScopeClient:
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	case model.ScopeProvider:
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("provider_id = $%d", len(args)))
	case model.ScopeDisputed:
		args = append(args, string(model.OrderStatusDisputed))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListOrders возвращает страницу заказов, новые первыми. Для споров порядок по дате открытия спора.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter) (*model.OrderPage, error) {
	f = normalizeFilter(f)
	where, args := orderConditions(f)
	q := r.conn(ctx)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	orderBy := " ORDER BY created_at DESC, id"
	if f.Scope == model.ScopeDisputed {
		orderBy = " ORDER BY dispute_raised_at DESC NULLS LAST, id"
	}
	pageArgs := append(args, f.Limit, f.Offset())
	rows, err := q.Query(ctx,
		`SELECT document, version FROM orders`+where+orderBy+
			fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(pageArgs)-1, len(pageArgs)),
		pageArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	page := &model.OrderPage{
		Orders:   []model.Order{},
		Total:    total,
		Page:     f.Page,
		Pages:    pagesFor(total, f.Limit),
		Earnings: decimal.Zero,
	}
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o, err := decodeOrder(doc, version)
		if err != nil {
			return nil, err
		}
		page.Orders = append(page.Orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	switch f.Scope {
	case model.ScopeClient:
		err = q.QueryRow(ctx,
			`SELECT COUNT(*) FILTER (WHERE status IN ($2, $3, $4)),
			        COUNT(*) FILTER (WHERE status = $5)
			 FROM orders WHERE client_id = $1`,
			f.UserID,
			string(model.OrderStatusPending), string(model.OrderStatusInProgress), string(model.OrderStatusReview),
			string(model.OrderStatusCompleted),
		).Scan(&page.ActiveCount, &page.CompletedCount)
		if err != nil {
			return nil, fmt.Errorf("count client orders: %w", err)
		}
	case model.ScopeProvider:
		var earnings string
		err = q.QueryRow(ctx,
			`SELECT COALESCE(SUM(amount), 0)::text FROM orders WHERE provider_id = $1 AND status = $2`,
			f.UserID, string(model.OrderStatusCompleted),
		).Scan(&earnings)
		if err != nil {
			return nil, fmt.Errorf("sum provider earnings: %w", err)
		}
		if page.Earnings, err = decimal.NewFromString(earnings); err != nil {
			return nil, fmt.Errorf("parse earnings: %w", err)
		}
	}

	return page, nil
}

// CreatePayment сохраняет запись платёжного шлюза по этапу.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO payments (id, order_id, milestone_id, user_id, amount, currency, method,
		                       gateway_reference, status, completed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.OrderID, p.MilestoneID, p.UserID, p.Amount.String(), p.Currency, p.Method,
		p.GatewayReference, string(p.Status), p.CompletedAt, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment %s", model.ErrAlreadyExists, p.ID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, order_id, milestone_id, user_id, amount::text, currency, method,
	gateway_reference, status, completed_at, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		amount string
		status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.MilestoneID, &p.UserID, &amount, &p.Currency, &p.Method,
		&p.GatewayReference, &status, &p.CompletedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse payment amount: %w", err)
	}
	p.Status = model.PaymentRecordStatus(status)
	return &p, nil
}

// ListPayments возвращает записи платежей заказа в порядке создания.
func (r *PostgresRepository) ListPayments(ctx context.Context, orderID string) ([]model.Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	res := []model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// FindPayment возвращает последнюю запись платежа по этапу.
func (r *PostgresRepository) FindPayment(ctx context.Context, orderID, milestoneID string) (*model.Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 AND milestone_id = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		orderID, milestoneID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment for milestone %s", model.ErrNotFound, milestoneID)
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return p, nil
}

// CompletePayment отмечает запись платежа завершённой.
func (r *PostgresRepository) CompletePayment(ctx context.Context, id string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE payments SET status = $2, completed_at = $3 WHERE id = $1`,
		id, string(model.PaymentRecordCompleted), at,
	)
	if err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %s", model.ErrNotFound, id)
	}
	return nil
}

// IncrementCompletedProjects увеличивает счётчик завершённых проектов исполнителя.
func (r *PostgresRepository) IncrementCompletedProjects(ctx context.Context, providerID string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO provider_stats (provider_id, completed_projects) VALUES ($1, 1)
			 ON CONFLICT (provider_id) DO UPDATE
			 SET completed_projects = provider_stats.completed_projects + 1`,
			providerID,
		)
		if err != nil {
			return fmt.Errorf("increment completed projects: %w", err)
		}
		return nil
	})
}

// RecordRating учитывает оценку клиента в среднем рейтинге исполнителя.
func (r *PostgresRepository) RecordRating(ctx context.Context, providerID string, rating int) error {
	return r.withRetry(ctx, func() error {
		_, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO provider_stats (provider_id, total_reviews, rating_sum) VALUES ($1, 1, $2)
			 ON CONFLICT (provider_id) DO UPDATE
			 SET total_reviews = provider_stats.total_reviews + 1,
			     rating_sum = provider_stats.rating_sum + EXCLUDED.rating_sum`,
			providerID, rating,
		)
		if err != nil {
			return fmt.Errorf("record rating: %w", err)
		}
		return nil
	})
}

// ProviderStats возвращает показатели исполнителя. Для неизвестного исполнителя возвращаются нули.
func (r *PostgresRepository) ProviderStats(ctx context.Context, providerID string) (*model.ProviderStats, error) {
	s := model.ProviderStats{ProviderID: providerID}
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT completed_projects, total_reviews, rating_sum FROM provider_stats WHERE provider_id = $1`,
		providerID,
	).Scan(&s.CompletedProjects, &s.TotalReviews, &s.RatingSum)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get provider stats: %w", err)
	}
	s.Rating = s.AverageRating()
	return &s, nil
}
