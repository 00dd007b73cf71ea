// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-orders/internal/middleware"
	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/mmeshcher/marketplace-orders/internal/service"
	"github.com/mmeshcher/marketplace-orders/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrderFromQuote(ctx context.Context, party model.Party, quoteID string, in service.CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, party model.Party, orderID string) (*model.OrderDetails, error)
	ListOrders(ctx context.Context, party model.Party, f model.OrderFilter) (*model.OrderPage, error)
	ListDisputedOrders(ctx context.Context, party model.Party, page, limit int) (*model.OrderPage, error)
	UpdateOrderStatus(ctx context.Context, party model.Party, orderID string, to model.OrderStatus) (*model.Order, error)

	ListMilestones(ctx context.Context, party model.Party, orderID string) ([]model.Milestone, error)
	AddMilestone(ctx context.Context, party model.Party, orderID string, spec model.MilestoneSpec) (*model.MilestoneResult, error)
	UpdateMilestone(ctx context.Context, party model.Party, orderID, milestoneID string, patch model.MilestonePatch) (*model.MilestoneResult, error)
	CompleteMilestone(ctx context.Context, party model.Party, orderID, milestoneID string, deliverables []model.Deliverable) (*model.MilestoneResult, error)
	ApproveMilestone(ctx context.Context, party model.Party, orderID, milestoneID, feedback string) (*model.MilestoneResult, error)
	RequestRevision(ctx context.Context, party model.Party, orderID, milestoneID, feedback string) (*model.MilestoneResult, error)
	UploadDeliverable(ctx context.Context, party model.Party, orderID, milestoneID string, d model.Deliverable) (*model.MilestoneResult, error)
	ListDeliverables(ctx context.Context, party model.Party, orderID, milestoneID string) ([]model.Deliverable, error)
	RecordPayment(ctx context.Context, party model.Party, orderID, milestoneID, method, gatewayReference string) (*model.Payment, error)

	RaiseDispute(ctx context.Context, party model.Party, orderID, reason, description string) (*model.Dispute, error)
	ResolveDispute(ctx context.Context, party model.Party, orderID, resolution, notes string) (*model.Order, error)
	LeaveReview(ctx context.Context, party model.Party, orderID string, rating int, comment string, categories map[string]int) (*model.Review, error)
	ProviderStats(ctx context.Context, providerID string) (*model.ProviderStats, error)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus сопоставляет вид ошибки предметной области HTTP-статусу и коду ответа.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, model.ErrLimitExceeded):
		return http.StatusUnprocessableEntity, "limit_exceeded"
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error",
			zap.Error(err),
			zap.String("path", r.URL.Path),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "validation"})
}

// decodeBody разбирает JSON-тело запроса. Пустое тело допустимо при allowEmpty.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: malformed request body", model.ErrValidation)
	}
	return nil
}

func (h *Handler) party(w http.ResponseWriter, r *http.Request) (model.Party, bool) {
	p, ok := middleware.GetPartyFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: http.StatusText(http.StatusUnauthorized), Code: "unauthenticated"})
		return model.Party{}, false
	}
	return p, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if !validation.IsValidID(id) {
		badRequest(w, "invalid "+name)
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrValidation, name)
	}
	return v, nil
}

type createOrderRequest struct {
	StartDate  *time.Time         `json:"startDate"`
	Milestones []milestoneRequest `json:"milestones"`
}

// CreateOrderFromQuote создаёт заказ по принятому предложению.
func (h *Handler) CreateOrderFromQuote(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	quoteID := chi.URLParam(r, "quoteID")
	if quoteID == "" {
		badRequest(w, "invalid quoteID")
		return
	}

	var req createOrderRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	in := service.CreateOrderInput{}
	if req.StartDate != nil {
		in.StartDate = *req.StartDate
	}
	for _, m := range req.Milestones {
		spec, err := m.spec()
		if err != nil {
			h.writeError(w, r, "create order", err)
			return
		}
		in.Milestones = append(in.Milestones, spec)
	}

	o, err := h.service.CreateOrderFromQuote(r.Context(), p, quoteID, in)
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrder возвращает заказ с платежами.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	details, err := h.service.GetOrder(r.Context(), p, orderID)
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// ListOrders возвращает страницу заказов текущего участника.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := model.OrderFilter{Scope: model.Scope(q.Get("scope"))}
	if raw := q.Get("status"); raw != "" {
		st, err := model.ParseOrderStatus(raw)
		if err != nil {
			h.writeError(w, r, "list orders", err)
			return
		}
		f.Status = st
	}
	var err error
	if f.Page, err = queryInt(r, "page"); err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}

	page, err := h.service.ListOrders(r.Context(), p, f)
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListDisputedOrders возвращает заказы в споре. Доступно администратору.
func (h *Handler) ListDisputedOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	pageNum, err := queryInt(r, "page")
	if err != nil {
		h.writeError(w, r, "list disputed orders", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, "list disputed orders", err)
		return
	}

	page, err := h.service.ListDisputedOrders(r.Context(), p, pageNum, limit)
	if err != nil {
		h.writeError(w, r, "list disputed orders", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus выполняет явную смену статуса заказа.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	to, err := model.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), p, orderID, to)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type disputeRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// RaiseDispute открывает спор по заказу.
func (h *Handler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req disputeRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "raise dispute", err)
		return
	}
	if !validation.IsValidText(req.Reason, validation.MaxTitleLength) ||
		!validation.IsValidText(req.Description, validation.MaxDescriptionLength) {
		badRequest(w, "reason and description are required")
		return
	}

	d, err := h.service.RaiseDispute(r.Context(), p, orderID, req.Reason, req.Description)
	if err != nil {
		h.writeError(w, r, "raise dispute", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	Notes      string `json:"notes"`
}

// ResolveDispute применяет решение администратора по спору.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "resolve dispute", err)
		return
	}
	if !validation.IsValidText(req.Resolution, validation.MaxTitleLength) ||
		!validation.IsValidText(req.Notes, validation.MaxNotesLength) {
		badRequest(w, "resolution and notes are required")
		return
	}

	o, err := h.service.ResolveDispute(r.Context(), p, orderID, req.Resolution, req.Notes)
	if err != nil {
		h.writeError(w, r, "resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type reviewRequest struct {
	Rating     int            `json:"rating"`
	Comment    string         `json:"comment"`
	Categories map[string]int `json:"categories"`
}

// LeaveReview записывает отзыв о завершённом заказе.
func (h *Handler) LeaveReview(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req reviewRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "leave review", err)
		return
	}
	if !validation.IsValidRating(req.Rating) {
		badRequest(w, "rating must be between 1 and 5")
		return
	}
	if !validation.IsValidOptionalText(req.Comment, validation.MaxDescriptionLength) {
		badRequest(w, "comment is too long")
		return
	}

	review, err := h.service.LeaveReview(r.Context(), p, orderID, req.Rating, req.Comment, req.Categories)
	if err != nil {
		h.writeError(w, r, "leave review", err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// ProviderStats возвращает показатели исполнителя.
func (h *Handler) ProviderStats(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	stats, err := h.service.ProviderStats(r.Context(), providerID)
	if err != nil {
		h.writeError(w, r, "provider stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
