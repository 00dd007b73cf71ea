package model

import "errors"

// Виды ошибок домена. Места возникновения оборачивают их через fmt.Errorf("%w: ...").
var (
	// ErrNotFound возвращается, если заказ, этап или предложение не найдены.
	ErrNotFound = errors.New("not found")
	// ErrForbidden возвращается, если участник не вправе выполнять операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition возвращается при переходе статуса заказа, отсутствующем в таблице переходов.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidState возвращается, если этап или спор находится в неподходящем статусе.
	ErrInvalidState = errors.New("invalid state")
	// ErrLimitExceeded возвращается, если сумма этапов превысит сумму заказа.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrAlreadyExists возвращается при повторном создании заказа по предложению или повторном отзыве.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict возвращается, если заказ заблокирован спором или изменён конкурентно.
	ErrConflict = errors.New("conflict")
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation failed")
)
