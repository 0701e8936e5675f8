package ledger

import (
	"context"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

type DailyResult struct {
	Claim   models.DailyClaim
	Claimed bool
	Awarded int64
	Score   models.Score
}

// ClaimDaily records today's claim for the student and, if it is the first
// one today, awards the daily reward on the integration.
func (c *Coordinator) ClaimDaily(ctx context.Context, studentID int64, integration string) (DailyResult, error) {
	key, err := c.validate(ctx, integration)
	if err != nil {
		return DailyResult{}, err
	}

	day := c.opts.Now().In(c.opts.Location).Format(models.DailyDateFormat)
	claim, claimed, err := c.store.ClaimDaily(ctx, studentID, day)
	if err != nil {
		return DailyResult{}, err
	}

	result := DailyResult{Claim: claim, Claimed: claimed}
	if !claimed {
		return result, nil
	}

	result.Awarded = int64(c.opts.Daily.Points(claim.NumDailies))
	result.Score, err = c.Increment(ctx, studentID, key, result.Awarded)
	if err != nil {
		logger.Error.Printf("Daily %d of student %d claimed but not awarded: %v", claim.NumDailies, studentID, err)
		return result, err
	}
	return result, nil
}

// NextMilestone is the claim count of the next daily bonus, 0 if none.
func (c *Coordinator) NextMilestone(numDailies int) int {
	return c.opts.Daily.NextMilestone(numDailies)
}
