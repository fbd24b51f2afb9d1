package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bookhaul-erp/bookhaul-erp/internal/observability"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

// StockScanner is the read surface the scan needs.
type StockScanner interface {
	ListBelowThreshold(ctx context.Context, threshold int64) ([]stock.SKUQty, error)
}

// LowStockScanJob reports SKUs whose total available quantity dropped below
// the configured threshold. The result lands in the log and the low-stock
// gauge; ordering decisions stay with a human.
type LowStockScanJob struct {
	Stock     StockScanner
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Threshold int64
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(stockRepo StockScanner, logger *slog.Logger, metrics *observability.Metrics, threshold int64) *LowStockScanJob {
	if threshold <= 0 {
		threshold = 10
	}
	return &LowStockScanJob{Stock: stockRepo, Logger: logger, Metrics: metrics, Threshold: threshold}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = j.Threshold
	}
	start := time.Now()
	rows, err := j.Stock.ListBelowThreshold(ctx, threshold)
	if err != nil {
		j.logger().Error("scan failed", slog.Any("error", err))
		return err
	}
	for _, row := range rows {
		j.logger().Warn("low stock",
			slog.Int64("sku_id", row.SKUID),
			slog.Int64("on_hand", row.Qty),
			slog.Int64("threshold", threshold),
		)
	}
	j.Metrics.SetLowStockSKUs(len(rows))
	j.logger().Info("completed low stock scan",
		slog.Int("skus", len(rows)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}
