package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/bookhaul-erp/bookhaul-erp/internal/observability"
	"github.com/bookhaul-erp/bookhaul-erp/internal/sales"
)

// ShortagePublisher adapts the Asynq client to the sale pipeline's publish
// port. Enqueue failures are logged and swallowed; the sale already
// committed and the durable shortage trace lives on its lines.
type ShortagePublisher struct {
	Client *Client
	Logger *slog.Logger
}

// PublishShortages enqueues one digest task per short sale.
func (p *ShortagePublisher) PublishShortages(ctx context.Context, saleID int64, shortages []sales.Shortage) error {
	if p == nil || p.Client == nil || len(shortages) == 0 {
		return nil
	}
	payload := ShortageDigestPayload{SaleID: saleID}
	for _, sh := range shortages {
		payload.Lines = append(payload.Lines, ShortageLine{
			SKUID:     sh.SKUID,
			Requested: sh.Requested,
			Allocated: sh.Allocated,
			Short:     sh.Short,
		})
	}
	if _, err := p.Client.EnqueueShortageDigest(ctx, payload); err != nil {
		if p.Logger != nil {
			p.Logger.Warn("shortage digest enqueue failed", slog.Int64("sale_id", saleID), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// ShortageDigestJob records unallocated demand for follow-up purchasing.
type ShortageDigestJob struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewShortageDigestJob initialises the digest handler.
func NewShortageDigestJob(logger *slog.Logger, metrics *observability.Metrics) *ShortageDigestJob {
	return &ShortageDigestJob{Logger: logger, Metrics: metrics}
}

// Handle executes the digest.
func (j *ShortageDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("shortage digest: handler not configured")
	}
	var payload ShortageDigestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	for _, line := range payload.Lines {
		j.logger().Warn("sale closed short",
			slog.Int64("sale_id", payload.SaleID),
			slog.Int64("sku_id", line.SKUID),
			slog.Int64("requested", line.Requested),
			slog.Int64("allocated", line.Allocated),
			slog.Int64("short", line.Short),
		)
	}
	return nil
}

func (j *ShortageDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskShortageDigest))
	}
	return slog.Default().With(slog.String("job", TaskShortageDigest))
}
