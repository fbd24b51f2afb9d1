package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/ledger"
	"github.com/bookhaul-erp/bookhaul-erp/internal/observability"
	"github.com/bookhaul-erp/bookhaul-erp/internal/receiving"
	"github.com/bookhaul-erp/bookhaul-erp/internal/sales"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	StockHandler     *stock.Handler
	ReceivingHandler *receiving.Handler
	SalesHandler     *sales.Handler
	LedgerHandler    *ledger.Handler
	CatalogHandler   *catalog.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/stock", params.StockHandler.MountRoutes)
	r.Route("/receipts", params.ReceivingHandler.MountRoutes)
	r.Route("/sales", params.SalesHandler.MountRoutes)
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.CatalogHandler != nil {
		r.Route("/skus", params.CatalogHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
