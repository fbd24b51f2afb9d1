package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/httpx"
)

// Handler serves SKU master lookups.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.handleGet)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sku id must be numeric")
		return
	}
	sku, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSKUNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get sku failed", slog.Int64("sku_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":             sku.ID,
		"code":           sku.Code,
		"title":          sku.Title,
		"kind":           string(sku.Kind),
		"last_unit_cost": sku.LastUnitCost.StringFixed(2),
	})
}
