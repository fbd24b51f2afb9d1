package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/on-hand", h.handleOnHand)
	r.Get("/movements", h.handleMovements)
	r.Get("/batches/{id}", h.handleBatch)
}

type onHandResponse struct {
	SKUID  int64 `json:"sku_id"`
	OnHand int64 `json:"on_hand"`
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	skuID, err := strconv.ParseInt(r.URL.Query().Get("sku_id"), 10, 64)
	if err != nil || skuID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sku_id is required")
		return
	}
	qty, err := h.service.OnHand(r.Context(), skuID)
	if err != nil {
		h.logger.Error("on-hand query failed", slog.Int64("sku_id", skuID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, onHandResponse{SKUID: skuID, OnHand: qty})
}

type movementResponse struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	SKUID    int64  `json:"sku_id"`
	BatchID  int64  `json:"batch_id,omitempty"`
	Qty      int64  `json:"qty"`
	RefKind  string `json:"ref_kind"`
	RefID    int64  `json:"ref_id"`
	Note     string `json:"note,omitempty"`
	PostedAt string `json:"posted_at"`
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{}
	if v := q.Get("sku_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sku_id must be numeric")
			return
		}
		filter.SKUID = id
	}
	if v := q.Get("ref_kind"); v != "" {
		kind := RefKind(v)
		if kind != RefReceipt && kind != RefSale {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ref_kind must be RECEIPT or SALE")
			return
		}
		filter.RefKind = kind
	}
	if v := q.Get("ref_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ref_id must be numeric")
			return
		}
		filter.RefID = id
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
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResponse{
			ID:       m.ID,
			Type:     string(m.Type),
			SKUID:    m.SKUID,
			BatchID:  m.BatchID,
			Qty:      m.Qty,
			RefKind:  string(m.Ref.Kind),
			RefID:    m.Ref.ID,
			Note:     m.Note,
			PostedAt: m.PostedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "batch id must be numeric")
		return
	}
	batch, err := h.service.Batch(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get batch failed", slog.Int64("batch_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":            batch.ID,
		"sku_id":        batch.SKUID,
		"receipt_id":    batch.ReceiptID,
		"received_qty":  batch.ReceivedQty,
		"available_qty": batch.AvailableQty,
		"unit_cost":     batch.UnitCost.String(),
		"created_at":    batch.CreatedAt,
	})
}
