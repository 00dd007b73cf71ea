package model

// OrderDetails объединяет заказ с записями платёжного шлюза.
type OrderDetails struct {
	Order    Order     `json:"order"`
	Payments []Payment `json:"payments"`
}

// MilestoneResult возвращает этап после операции и состояние заказа.
type MilestoneResult struct {
	Milestone     Milestone             `json:"milestone"`
	Progress      int                   `json:"progress"`
	OrderStatus   OrderStatus           `json:"orderStatus"`
	Payment       *PaymentScheduleEntry `json:"payment,omitempty"`
	AutoCompleted bool                  `json:"autoCompleted,omitempty"`
}
