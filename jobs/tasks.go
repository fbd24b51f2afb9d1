package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes aged posting keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskLowStockScan reports SKUs whose on-hand fell below threshold.
	TaskLowStockScan = "stock:low_stock_scan"
	// TaskShortageDigest records unallocated demand from a closed sale.
	TaskShortageDigest = "sales:shortage_digest"
)

// IdempotencyCleanupPayload bounds the cleanup window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// LowStockScanPayload carries the scan threshold.
type LowStockScanPayload struct {
	Threshold int64 `json:"threshold"`
}

// NewLowStockScanTask constructs the scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// ShortageLine is one short line of a sale.
type ShortageLine struct {
	SKUID     int64 `json:"sku_id"`
	Requested int64 `json:"requested"`
	Allocated int64 `json:"allocated"`
	Short     int64 `json:"short"`
}

// ShortageDigestPayload carries the shortage report of one sale.
type ShortageDigestPayload struct {
	SaleID int64          `json:"sale_id"`
	Lines  []ShortageLine `json:"lines"`
}

// NewShortageDigestTask constructs the digest task.
func NewShortageDigestTask(payload ShortageDigestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskShortageDigest, data), nil
}
