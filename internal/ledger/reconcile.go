package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/metrics"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

type ReconcileReport struct {
	At        time.Time        `json:"at"`
	Refreshed int64            `json:"refreshed"`
	Missing   []store.ScoreKey `json:"missing"`
}

// Reconcile brings every stale cache row up to its ledger row and then
// checks that every student has both rows for every integration. Missing
// rows are reported as ErrConsistencyViolation and never created here.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{At: c.now()}

	// Safe to retry: the sweep only moves rows forward to the ledger.
	refreshed, err := retryRead(ctx, c, "cache reconciliation", func() (int64, error) {
		return c.store.ReconcileCachedScores(ctx, report.At)
	})
	if err != nil {
		return report, err
	}
	report.Refreshed = refreshed
	metrics.CacheRowsReconciled.Add(float64(refreshed))

	missing, err := retryRead(ctx, c, "completeness check", func() ([]store.ScoreKey, error) {
		return c.store.MissingScoreRows(ctx)
	})
	if err != nil {
		return report, err
	}
	report.Missing = missing

	if len(missing) > 0 {
		metrics.ConsistencyViolations.Add(float64(len(missing)))
		logger.Error.Printf("Ledger is missing %d score rows, first: student %d on %s",
			len(missing), missing[0].StudentID, missing[0].Integration)
		return report, fmt.Errorf("%w: %d missing score rows", store.ErrConsistencyViolation, len(missing))
	}

	if refreshed > 0 {
		logger.Info.Printf("Reconciled %d cached scores", refreshed)
	}
	return report, nil
}
