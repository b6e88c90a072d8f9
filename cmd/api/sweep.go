package main

import (
	"context"
	"time"

	"github.com/zllovesuki/storecheckout/checkout"

	"go.uber.org/zap"
)

// sweepUnfinished logs every attempt, in any shop, that started before the cutoff and never finished.
// Those chains may have left a card or subscription behind without a redirect.
func sweepUnfinished(ctx context.Context, logger *zap.Logger, r checkout.Reconciler, before time.Time) int {
	records, err := r.Unfinished(ctx, 0, before)
	if err != nil {
		logger.Error("Cannot list unfinished checkout attempts",
			zap.Error(err),
		)
		return 0
	}
	for _, rec := range records {
		logger.Warn("Checkout attempt never finished",
			zap.String("attempt_id", rec.ID),
			zap.Int64("shop_id", rec.ShopID),
			zap.String("plan_id", rec.PlanID),
			zap.String("decision", string(rec.Decision)),
			zap.Int("steps", len(rec.Steps)),
			zap.Time("started_at", rec.StartedAt),
		)
	}
	if len(records) > 0 {
		logger.Info("Unfinished checkout attempts need reconciliation",
			zap.Int("count", len(records)),
		)
	}
	return len(records)
}
