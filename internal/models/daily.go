package models

// DailyClaim tracks the once-per-day chat reward of a student.
// LastDaily is a YYYY-MM-DD date in the bot's timezone.
type DailyClaim struct {
	StudentID  int64  `db:"student_id" json:"student_id"`
	LastDaily  string `db:"last_daily" json:"last_daily"`
	NumDailies int    `db:"num_dailies" json:"num_dailies"`
}

const DailyDateFormat = "2006-01-02"
