package model

import (
	"fmt"
	"time"
)

// Review содержит отзыв одной из сторон о завершённом заказе.
type Review struct {
	Rating      int            `json:"rating"`
	Comment     string         `json:"comment"`
	Categories  map[string]int `json:"categories,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// LeaveReview записывает отзыв стороны. Каждая сторона может оставить отзыв один раз.
func (o *Order) LeaveReview(side Side, rating int, comment string, categories map[string]int, at time.Time) (*Review, error) {
	if side != SideClient && side != SideProvider {
		return nil, fmt.Errorf("%w: only the client or the provider can review an order", ErrForbidden)
	}
	if o.Status != OrderStatusCompleted {
		return nil, fmt.Errorf("%w: can only review completed orders", ErrInvalidState)
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	for name, r := range categories {
		if r < 1 || r > 5 {
			return nil, fmt.Errorf("%w: category %q rating must be between 1 and 5", ErrValidation, name)
		}
	}

	slot := &o.ClientReview
	if side == SideProvider {
		slot = &o.ProviderReview
	}
	if *slot != nil {
		return nil, fmt.Errorf("%w: review already submitted", ErrAlreadyExists)
	}

	*slot = &Review{
		Rating:      rating,
		Comment:     comment,
		Categories:  categories,
		SubmittedAt: at,
	}
	o.UpdatedAt = at
	return *slot, nil
}
