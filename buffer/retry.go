package buffer

import (
	"context"

	"github.com/velmie/beacon"
)

// RetryAll implements beacon.DurableBuffer. Records below maxRetries are
// re-sent in insertion order, the rest are removed. Records the resender
// already holds in memory are skipped.
func (c *Coordinator) RetryAll(ctx context.Context, maxRetries int, resender beacon.Resender) beacon.RetryReport {
	var report beacon.RetryReport

	records, err := c.table.ReadAll(ctx)
	if err != nil {
		c.logStoreError("read", err)

		return report
	}

	checker, _ := resender.(beacon.PendingChecker)
	for _, rec := range records {
		if ctx.Err() != nil {
			return report
		}

		if rec.Attempt >= maxRetries {
			c.cfg.Logger.Error("beacon buffer dropping record",
				"id", rec.ID.String(),
				"attempt", rec.Attempt,
				"err", beacon.ErrRetryExhausted,
			)
			c.cfg.Metrics.AddDropped(beacon.ReasonRetryExhausted, 1)
			c.Remove(ctx, rec.ID)
			report.Dropped++

			continue
		}
		if checker != nil && checker.Pending(rec.ID) {
			report.Skipped++

			continue
		}

		batch, ok := c.restore(ctx, rec)
		if !ok {
			report.Dropped++

			continue
		}

		report.Attempted++
		if err := resender.Resend(ctx, batch.Items, rec.Attempt+1, rec.ID); err != nil {
			c.setAttempt(ctx, rec.ID, rec.Attempt+1)
			report.Failed++

			continue
		}
		report.Delivered++
	}

	return report
}
