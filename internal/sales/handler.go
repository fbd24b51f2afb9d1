package sales

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

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
	}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
}

type lineRequest struct {
	SKUID int64 `json:"sku_id" validate:"required,gt=0"`
	// Qty is decoded as a number so a fractional value is rejected here
	// instead of being silently truncated.
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createRequest struct {
	Number   string          `json:"number"`
	SchoolID int64           `json:"school_id" validate:"required,gt=0"`
	Note     string          `json:"note"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Paid     decimal.Decimal `json:"paid"`
	IssuedAt time.Time       `json:"issued_at"`
	ActorID  int64           `json:"actor_id"`
	// ClientKey lets callers retry POST /sales safely.
	ClientKey string        `json:"client_key"`
	Lines     []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type saleResponse struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	SchoolID    int64  `json:"school_id"`
	Status      string `json:"status"`
	Subtotal    string `json:"subtotal"`
	Discount    string `json:"discount"`
	Tax         string `json:"tax"`
	Total       string `json:"total"`
	Paid        string `json:"paid"`
	Balance     string `json:"balance"`
	IssuedAt    string `json:"issued_at"`
	CancelledAt string `json:"cancelled_at,omitempty"`
}

func toSaleResponse(s Sale) saleResponse {
	resp := saleResponse{
		ID:       s.ID,
		Number:   s.Number,
		SchoolID: s.SchoolID,
		Status:   string(s.Status),
		Subtotal: s.Subtotal.StringFixed(2),
		Discount: s.Discount.StringFixed(2),
		Tax:      s.Tax.StringFixed(2),
		Total:    s.Total.StringFixed(2),
		Paid:     s.Paid.StringFixed(2),
		Balance:  s.Balance.StringFixed(2),
		IssuedAt: s.IssuedAt.Format(time.RFC3339),
	}
	if s.CancelledAt != nil {
		resp.CancelledAt = s.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

type shortageView struct {
	SKUID     int64 `json:"sku_id"`
	Requested int64 `json:"requested"`
	Allocated int64 `json:"allocated"`
	Short     int64 `json:"short"`
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
		Number:    req.Number,
		SchoolID:  req.SchoolID,
		Note:      req.Note,
		Discount:  req.Discount,
		Tax:       req.Tax,
		Paid:      req.Paid,
		IssuedAt:  req.IssuedAt,
		ActorID:   req.ActorID,
		ClientKey: req.ClientKey,
	}
	for _, line := range req.Lines {
		if !line.Qty.IsInteger() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed",
				"quantity must be a whole number for sku "+strconv.FormatInt(line.SKUID, 10))
			return
		}
		input.Lines = append(input.Lines, LineInput{
			SKUID:     line.SKUID,
			Qty:       line.Qty.IntPart(),
			UnitPrice: line.UnitPrice,
		})
	}
	sale, shortages, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.metrics.ObservePosting("sale", "error")
		h.logger.Error("create sale failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObservePosting("sale", "ok")
	views := make([]shortageView, 0, len(shortages))
	for _, sh := range shortages {
		h.metrics.AddShortage(sh.Short)
		views = append(views, shortageView{
			SKUID:     sh.SKUID,
			Requested: sh.Requested,
			Allocated: sh.Allocated,
			Short:     sh.Short,
		})
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"sale":      toSaleResponse(sale),
		"shortages": views,
	})
}

type actorRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.Cancel(r.Context(), id, req.ActorID); err != nil {
		h.metrics.ObservePosting("sale_cancellation", "error")
		h.logger.Error("cancel sale failed", slog.Int64("sale_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObservePosting("sale_cancellation", "ok")
	sale, _, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	sale, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineViews := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		lineViews = append(lineViews, map[string]any{
			"id":            line.ID,
			"sku_id":        line.SKUID,
			"kind":          string(line.Kind),
			"requested_qty": line.RequestedQty,
			"issued_qty":    line.IssuedQty,
			"short_qty":     line.ShortQty,
			"unit_price":    line.UnitPrice.String(),
			"amount":        line.Amount.StringFixed(2),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sale":  toSaleResponse(sale),
		"lines": lineViews,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	if v := q.Get("school_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.SchoolID = id
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
	sales, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]saleResponse, 0, len(sales))
	for _, sale := range sales {
		views = append(views, toSaleResponse(sale))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sales":      views,
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
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sale id must be numeric")
		return 0, false
	}
	return id, true
}
