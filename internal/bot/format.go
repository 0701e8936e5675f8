package bot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

func parseAward(args []string) (int64, string, int64, error) {
	if len(args) != 3 {
		return 0, "", 0, fmt.Errorf("usage: /award <student_id> <integration> <delta>")
	}
	studentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || studentID <= 0 {
		return 0, "", 0, fmt.Errorf("invalid student id: %s", args[0])
	}
	delta, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("invalid delta: %s", args[2])
	}
	req := models.IncrementRequest{Delta: delta}
	if err := req.Validate(); err != nil {
		return 0, "", 0, fmt.Errorf("delta out of range: %d", delta)
	}
	return studentID, models.NormalizeIntegrationKey(args[1]), delta, nil
}

func formatDaily(claimed bool, numDailies int, awarded, balance int64, nextMilestone int) string {
	if !claimed {
		return fmt.Sprintf("⏳ Already claimed today (%d dailies so far). Come back tomorrow!", numDailies)
	}
	text := fmt.Sprintf("🎉 Daily #%d claimed: +%d points, you now have %d.", numDailies, awarded, balance)
	if nextMilestone > 0 {
		text += fmt.Sprintf("\nNext bonus at daily #%d.", nextMilestone)
	}
	return text
}

func formatBalances(studentID int64, scores []models.Score) string {
	var text strings.Builder
	var total int64
	fmt.Fprintf(&text, "Points of student #%d:\n\n", studentID)
	for _, s := range scores {
		fmt.Fprintf(&text, "• %s: %d\n", s.Integration, s.Points)
		total += s.Points
	}
	fmt.Fprintf(&text, "\nTotal: %d", total)
	return text.String()
}

type boardRow struct {
	studentID int64
	points    int64
}

// formatLeaderboard sums cached balances per student and lists the top n.
func formatLeaderboard(courseID int64, integration string, board []models.CachedScore, n int) string {
	totals := map[int64]int64{}
	for _, row := range board {
		totals[row.StudentID] += row.Points
	}
	rows := make([]boardRow, 0, len(totals))
	for id, points := range totals {
		rows = append(rows, boardRow{studentID: id, points: points})
	}
	slices.SortFunc(rows, func(a, b boardRow) int {
		if a.points != b.points {
			if a.points > b.points {
				return -1
			}
			return 1
		}
		if a.studentID < b.studentID {
			return -1
		}
		return 1
	})

	scope := "all integrations"
	if integration != "" {
		scope = models.NormalizeIntegrationKey(integration)
	}
	if len(rows) == 0 {
		return fmt.Sprintf("No students in course %d yet", courseID)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "🏆 Course %d, %s:\n\n", courseID, scope)
	for i, row := range rows {
		if i == n {
			break
		}
		fmt.Fprintf(&text, "%d. #%d: %d\n", i+1, row.studentID, row.points)
	}
	return text.String()
}
