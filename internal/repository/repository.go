// Package repository содержит хранилища агрегата заказа: PostgreSQL и in-memory.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mmeshcher/marketplace-orders/internal/model"
)

// ErrStaleVersion возвращается, если заказ был изменён после чтения.
var ErrStaleVersion = fmt.Errorf("%w: stale order version", model.ErrConflict)

// Лимиты постраничной выборки.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	MaxPage          = math.MaxInt32 / MaxPageLimit
)

func normalizeFilter(f model.OrderFilter) model.OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

func pagesFor(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

func encodeOrder(o *model.Order) ([]byte, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	return doc, nil
}

func decodeOrder(doc []byte, version int64) (*model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o.Version = version
	return &o, nil
}

// IsStale сообщает, что запись не удалась из-за конкурентного изменения.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}
