package models

import "time"

// Score is the live balance of one student on one integration.
// Version grows by one with every increment and orders cache refreshes.
type Score struct {
	StudentID   int64  `db:"student_id" json:"student_id"`
	Integration string `db:"integration" json:"integration"`
	Points      int64  `db:"points" json:"points"`
	Version     int64  `db:"version" json:"version"`
}

// CachedScore is a snapshot of a Score taken at Timestamp.
type CachedScore struct {
	Score
	Timestamp time.Time `db:"synced_at" json:"timestamp"`
}

type IncrementRequest struct {
	Delta int64 `json:"delta" validate:"gte=-1000000,lte=1000000"`
}

func (r *IncrementRequest) Validate() error {
	return validate.Struct(r)
}
