package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/httpx"
)

// Handler serves outstanding-payable queries.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payables", h.handlePayables)
}

type entryResponse struct {
	ID        int64  `json:"id"`
	PartyID   int64  `json:"party_id"`
	Kind      string `json:"kind"`
	RefKind   string `json:"ref_kind"`
	RefID     int64  `json:"ref_id"`
	Debit     string `json:"debit"`
	Narration string `json:"narration,omitempty"`
	PostedAt  string `json:"posted_at"`
}

func (h *Handler) handlePayables(w http.ResponseWriter, r *http.Request) {
	partyID, err := strconv.ParseInt(r.URL.Query().Get("party_id"), 10, 64)
	if err != nil || partyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "party_id is required")
		return
	}
	entries, err := h.repo.ListByParty(r.Context(), partyID)
	if err != nil {
		h.logger.Error("list payables failed", slog.Int64("party_id", partyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:        e.ID,
			PartyID:   e.Key.PartyID,
			Kind:      string(e.Key.Kind),
			RefKind:   string(e.Key.RefKind),
			RefID:     e.Key.RefID,
			Debit:     e.Debit.StringFixed(2),
			Narration: e.Narration,
			PostedAt:  e.PostedAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}
