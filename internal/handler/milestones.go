package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/mmeshcher/marketplace-orders/internal/validation"
)

type milestoneRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"dueDate"`
}

func (m milestoneRequest) spec() (model.MilestoneSpec, error) {
	if !validation.IsValidText(m.Title, validation.MaxTitleLength) {
		return model.MilestoneSpec{}, fmt.Errorf("%w: milestone title is required", model.ErrValidation)
	}
	if !validation.IsValidOptionalText(m.Description, validation.MaxDescriptionLength) {
		return model.MilestoneSpec{}, fmt.Errorf("%w: milestone description is too long", model.ErrValidation)
	}
	if !validation.IsValidAmount(m.Amount) {
		return model.MilestoneSpec{}, fmt.Errorf("%w: milestone amount must be positive with at most two decimals", model.ErrValidation)
	}
	if m.DueDate.IsZero() {
		return model.MilestoneSpec{}, fmt.Errorf("%w: milestone due date is required", model.ErrValidation)
	}
	return model.MilestoneSpec{
		Title:       m.Title,
		Description: m.Description,
		Amount:      m.Amount,
		DueDate:     m.DueDate,
	}, nil
}

type milestonePatchRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	DueDate     *time.Time       `json:"dueDate"`
	Notes       *string          `json:"notes"`
}

func (p milestonePatchRequest) patch() (model.MilestonePatch, error) {
	if p.Title != nil && !validation.IsValidText(*p.Title, validation.MaxTitleLength) {
		return model.MilestonePatch{}, fmt.Errorf("%w: invalid milestone title", model.ErrValidation)
	}
	if p.Description != nil && !validation.IsValidOptionalText(*p.Description, validation.MaxDescriptionLength) {
		return model.MilestonePatch{}, fmt.Errorf("%w: milestone description is too long", model.ErrValidation)
	}
	if p.Notes != nil && !validation.IsValidOptionalText(*p.Notes, validation.MaxNotesLength) {
		return model.MilestonePatch{}, fmt.Errorf("%w: milestone notes are too long", model.ErrValidation)
	}
	if p.Amount != nil && !validation.IsValidAmount(*p.Amount) {
		return model.MilestonePatch{}, fmt.Errorf("%w: invalid milestone amount", model.ErrValidation)
	}
	return model.MilestonePatch{
		Title:       p.Title,
		Description: p.Description,
		Amount:      p.Amount,
		DueDate:     p.DueDate,
		Notes:       p.Notes,
	}, nil
}

type deliverableRequest struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

func (d deliverableRequest) deliverable() (model.Deliverable, error) {
	if !validation.IsValidFilename(d.Filename) {
		return model.Deliverable{}, fmt.Errorf("%w: invalid deliverable filename", model.ErrValidation)
	}
	if !validation.IsValidText(d.Path, validation.MaxDescriptionLength) || d.Size < 0 {
		return model.Deliverable{}, fmt.Errorf("%w: invalid deliverable reference", model.ErrValidation)
	}
	return model.Deliverable{Filename: d.Filename, Path: d.Path, Size: d.Size}, nil
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type completeRequest struct {
	Deliverables []deliverableRequest `json:"deliverables"`
}

type paymentRequest struct {
	Method           string `json:"method"`
	GatewayReference string `json:"gatewayReference"`
}

func (h *Handler) milestoneTarget(w http.ResponseWriter, r *http.Request) (model.Party, string, string, bool) {
	p, ok := h.party(w, r)
	if !ok {
		return model.Party{}, "", "", false
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return model.Party{}, "", "", false
	}
	milestoneID, ok := pathID(w, r, "milestoneID")
	if !ok {
		return model.Party{}, "", "", false
	}
	return p, orderID, milestoneID, true
}

// ListMilestones возвращает этапы заказа.
func (h *Handler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	milestones, err := h.service.ListMilestones(r.Context(), p, orderID)
	if err != nil {
		h.writeError(w, r, "list milestones", err)
		return
	}
	writeJSON(w, http.StatusOK, milestones)
}

// AddMilestone добавляет этап к заказу.
func (h *Handler) AddMilestone(w http.ResponseWriter, r *http.Request) {
	p, ok := h.party(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req milestoneRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "add milestone", err)
		return
	}
	spec, err := req.spec()
	if err != nil {
		h.writeError(w, r, "add milestone", err)
		return
	}

	res, err := h.service.AddMilestone(r.Context(), p, orderID, spec)
	if err != nil {
		h.writeError(w, r, "add milestone", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// UpdateMilestone меняет поля этапа.
func (h *Handler) UpdateMilestone(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	var req milestonePatchRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "update milestone", err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		h.writeError(w, r, "update milestone", err)
		return
	}

	res, err := h.service.UpdateMilestone(r.Context(), p, orderID, milestoneID, patch)
	if err != nil {
		h.writeError(w, r, "update milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CompleteMilestone отмечает этап выполненным.
func (h *Handler) CompleteMilestone(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.writeError(w, r, "complete milestone", err)
		return
	}
	deliverables := make([]model.Deliverable, 0, len(req.Deliverables))
	for _, d := range req.Deliverables {
		v, err := d.deliverable()
		if err != nil {
			h.writeError(w, r, "complete milestone", err)
			return
		}
		deliverables = append(deliverables, v)
	}

	res, err := h.service.CompleteMilestone(r.Context(), p, orderID, milestoneID, deliverables)
	if err != nil {
		h.writeError(w, r, "complete milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ApproveMilestone утверждает этап и освобождает его платёж.
func (h *Handler) ApproveMilestone(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.writeError(w, r, "approve milestone", err)
		return
	}
	if !validation.IsValidOptionalText(req.Feedback, validation.MaxNotesLength) {
		badRequest(w, "feedback is too long")
		return
	}

	res, err := h.service.ApproveMilestone(r.Context(), p, orderID, milestoneID, req.Feedback)
	if err != nil {
		h.writeError(w, r, "approve milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RequestRevision возвращает этап исполнителю на доработку.
func (h *Handler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "request revision", err)
		return
	}
	if !validation.IsValidText(req.Feedback, validation.MaxNotesLength) {
		badRequest(w, "feedback is required")
		return
	}

	res, err := h.service.RequestRevision(r.Context(), p, orderID, milestoneID, req.Feedback)
	if err != nil {
		h.writeError(w, r, "request revision", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UploadDeliverable прикладывает файл к этапу.
func (h *Handler) UploadDeliverable(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	var req deliverableRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "upload deliverable", err)
		return
	}
	d, err := req.deliverable()
	if err != nil {
		h.writeError(w, r, "upload deliverable", err)
		return
	}

	res, err := h.service.UploadDeliverable(r.Context(), p, orderID, milestoneID, d)
	if err != nil {
		h.writeError(w, r, "upload deliverable", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListDeliverables возвращает файлы этапа.
func (h *Handler) ListDeliverables(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	files, err := h.service.ListDeliverables(r.Context(), p, orderID, milestoneID)
	if err != nil {
		h.writeError(w, r, "list deliverables", err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// RecordPayment регистрирует платёж шлюза по этапу.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	p, orderID, milestoneID, ok := h.milestoneTarget(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "record payment", err)
		return
	}
	if !validation.IsValidText(req.Method, validation.MaxTitleLength) ||
		!validation.IsValidOptionalText(req.GatewayReference, validation.MaxTitleLength) {
		badRequest(w, "payment method is required")
		return
	}

	payment, err := h.service.RecordPayment(r.Context(), p, orderID, milestoneID, req.Method, req.GatewayReference)
	if err != nil {
		h.writeError(w, r, "record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}
