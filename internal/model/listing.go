package model

import (
	"math"

	"github.com/shopspring/decimal"
)

// Scope задаёт, какие заказы попадают в выборку.
type Scope string

const (
	ScopeClient   Scope = "client"
	ScopeProvider Scope = "provider"
	ScopeAll      Scope = "all"
	ScopeDisputed Scope = "disputed"
)

// OrderFilter описывает параметры выборки заказов.
type OrderFilter struct {
	Scope  Scope
	UserID string
	Status OrderStatus
	Page   int
	Limit  int
}

// Offset возвращает смещение для постраничной выборки. При переполнении возвращается math.MaxInt.
func (f OrderFilter) Offset() int {
	if f.Page < 1 || f.Limit < 1 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.Limit {
		return math.MaxInt
	}
	return (f.Page - 1) * f.Limit
}

// OrderPage содержит страницу заказов и сводные счётчики.
type OrderPage struct {
	Orders         []Order         `json:"orders"`
	Total          int             `json:"total"`
	Page           int             `json:"page"`
	Pages          int             `json:"pages"`
	ActiveCount    int             `json:"activeCount,omitempty"`
	CompletedCount int             `json:"completedCount,omitempty"`
	Earnings       decimal.Decimal `json:"earnings"`
}

// Notification передаётся во внешнюю систему доставки уведомлений.
type Notification struct {
	UserID   string         `json:"userId"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Link     string         `json:"link,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// ProviderStats содержит накопленные показатели исполнителя.
type ProviderStats struct {
	ProviderID        string  `json:"providerId"`
	CompletedProjects int     `json:"completedProjects"`
	TotalReviews      int     `json:"totalReviews"`
	RatingSum         int     `json:"-"`
	Rating            float64 `json:"rating"`
}

// AverageRating возвращает среднюю оценку, 0 при отсутствии отзывов.
func (s ProviderStats) AverageRating() float64 {
	if s.TotalReviews == 0 {
		return 0
	}
	return float64(s.RatingSum) / float64(s.TotalReviews)
}
