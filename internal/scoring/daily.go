// internal/scoring/daily.go
package scoring

// DailyRewarder decides how many points a /daily claim is worth.
type DailyRewarder struct {
	BasePoints       int         `toml:"base_points"`
	MilestoneBonuses map[int]int `toml:"milestone_bonuses"`
}

func NewDailyRewarder(basePoints int, milestoneBonuses map[int]int) *DailyRewarder {
	return &DailyRewarder{
		BasePoints:       basePoints,
		MilestoneBonuses: milestoneBonuses,
	}
}

// Points returns the reward for the numDailies-th claim of a student.
// Milestone bonuses may be negative but the reward never is.
func (r *DailyRewarder) Points(numDailies int) int {
	if numDailies <= 0 {
		return 0
	}

	points := r.BasePoints
	if bonus, exists := r.MilestoneBonuses[numDailies]; exists {
		points += bonus
	}

	if points < 0 {
		return 0
	}
	return points
}

// NextMilestone returns the closest claim count above numDailies that carries
// a bonus, or 0 when there is none left.
func (r *DailyRewarder) NextMilestone(numDailies int) int {
	next := 0
	for milestone := range r.MilestoneBonuses {
		if milestone > numDailies && (next == 0 || milestone < next) {
			next = milestone
		}
	}
	return next
}
