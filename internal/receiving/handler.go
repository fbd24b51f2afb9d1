package receiving

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bookhaul-erp/bookhaul-erp/internal/observability"
	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/httpx"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
)

// Handler wires HTTP endpoints for receiving documents.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler constructs the receiving handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
	}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/receive", h.handleReceive)
	r.Post("/{id}/cancel", h.handleCancel)
}

type lineRequest struct {
	SKUID       int64           `json:"sku_id" validate:"required,gt=0"`
	Qty         int64           `json:"qty" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	DiscountAmt decimal.Decimal `json:"discount_amt"`
	Specimen    bool            `json:"specimen"`
}

type createRequest struct {
	Number     string          `json:"number"`
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	OrderID    int64           `json:"order_id"`
	DocType    string          `json:"doc_type" validate:"omitempty,oneof=INVOICE CHALLAN"`
	RefNo      string          `json:"ref_no"`
	Note       string          `json:"note"`
	ReceivedAt time.Time       `json:"received_at"`
	Discount   decimal.Decimal `json:"discount"`
	Shipping   decimal.Decimal `json:"shipping"`
	Other      decimal.Decimal `json:"other_charges"`
	Rounding   decimal.Decimal `json:"rounding"`
	ActorID    int64           `json:"actor_id"`
	Lines      []lineRequest   `json:"lines" validate:"required,min=1,dive"`
}

type receiptResponse struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	SupplierID int64  `json:"supplier_id"`
	OrderID    int64  `json:"order_id,omitempty"`
	DocType    string `json:"doc_type"`
	RefNo      string `json:"ref_no,omitempty"`
	Status     string `json:"status"`
	Subtotal   string `json:"subtotal"`
	GrandTotal string `json:"grand_total"`
	Posted     bool   `json:"posted"`
}

func toReceiptResponse(r Receipt) receiptResponse {
	return receiptResponse{
		ID:         r.ID,
		Number:     r.Number,
		SupplierID: r.SupplierID,
		OrderID:    r.OrderID,
		DocType:    string(r.DocType),
		RefNo:      r.RefNo,
		Status:     string(r.Status),
		Subtotal:   r.Subtotal.StringFixed(2),
		GrandTotal: r.GrandTotal.StringFixed(2),
		Posted:     IsPosted(r),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		Number:     req.Number,
		SupplierID: req.SupplierID,
		OrderID:    req.OrderID,
		DocType:    DocType(req.DocType),
		RefNo:      req.RefNo,
		Note:       req.Note,
		ReceivedAt: req.ReceivedAt,
		Discount:   req.Discount,
		Shipping:   req.Shipping,
		Other:      req.Other,
		Rounding:   req.Rounding,
		ActorID:    req.ActorID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			SKUID:       line.SKUID,
			Qty:         line.Qty,
			UnitCost:    line.UnitCost,
			DiscountPct: line.DiscountPct,
			DiscountAmt: line.DiscountAmt,
			Specimen:    line.Specimen,
		})
	}
	receipt, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create receipt failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

type updateRequest struct {
	RefNo      *string          `json:"ref_no"`
	Note       *string          `json:"note"`
	ReceivedAt *time.Time       `json:"received_at"`
	Discount   *decimal.Decimal `json:"discount"`
	Shipping   *decimal.Decimal `json:"shipping"`
	Other      *decimal.Decimal `json:"other_charges"`
	Rounding   *decimal.Decimal `json:"rounding"`
	Lines      *[]lineRequest   `json:"lines" validate:"omitempty,min=1,dive"`
	ActorID    int64            `json:"actor_id"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := UpdateInput{
		RefNo:      req.RefNo,
		Note:       req.Note,
		ReceivedAt: req.ReceivedAt,
		Discount:   req.Discount,
		Shipping:   req.Shipping,
		Other:      req.Other,
		Rounding:   req.Rounding,
		ActorID:    req.ActorID,
	}
	if req.Lines != nil {
		lines := make([]LineInput, 0, len(*req.Lines))
		for _, line := range *req.Lines {
			lines = append(lines, LineInput{
				SKUID:       line.SKUID,
				Qty:         line.Qty,
				UnitCost:    line.UnitCost,
				DiscountPct: line.DiscountPct,
				DiscountAmt: line.DiscountAmt,
				Specimen:    line.Specimen,
			})
		}
		input.Lines = &lines
	}
	receipt, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update receipt failed", slog.Int64("receipt_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type actorRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	_ = httpx.DecodeJSON(r, &req)
	err := h.service.MarkReceived(r.Context(), id, req.ActorID)
	if err != nil {
		h.metrics.ObservePosting("receipt", "error")
		h.logger.Error("mark received failed", slog.Int64("receipt_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObservePosting("receipt", "ok")
	receipt, _, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.Cancel(r.Context(), id, req.ActorID); err != nil {
		h.metrics.ObservePosting("receipt_reversal", "error")
		h.logger.Error("cancel receipt failed", slog.Int64("receipt_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObservePosting("receipt_reversal", "ok")
	receipt, _, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, 0); err != nil {
		h.logger.Error("delete receipt failed", slog.Int64("receipt_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	receipt, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineViews := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		lineViews = append(lineViews, map[string]any{
			"id":        line.ID,
			"sku_id":    line.SKUID,
			"qty":       line.Qty,
			"unit_cost": line.UnitCost.String(),
			"specimen":  line.Specimen,
			"gross":     line.Gross.StringFixed(2),
			"discount":  line.Discount.StringFixed(2),
			"net":       line.Net.StringFixed(2),
		})
	}
	resp := map[string]any{
		"receipt": toReceiptResponse(receipt),
		"lines":   lineViews,
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	if v := q.Get("supplier_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.SupplierID = id
		}
	}
	if v := q.Get("status"); v != "" {
		filter.Status = Status(v)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	receipts, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list receipts failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]receiptResponse, 0, len(receipts))
	for _, receipt := range receipts {
		views = append(views, toReceiptResponse(receipt))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"receipts":   views,
		"pagination": listPagination(filter.Limit, filter.Offset, total),
	})
}

func listPagination(limit, offset, total int) shared.Pagination {
	if limit <= 0 {
		limit = 50
	}
	return shared.NewPagination(offset/limit+1, limit, total)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "receipt id must be numeric")
		return 0, false
	}
	return id, true
}
