package models

import "time"

type Course struct {
	ID         int64      `db:"course_id" json:"course_id"`
	PLCourseID int64      `db:"pl_course_id" json:"pl_course_id"`
	LastSync   *time.Time `db:"last_sync" json:"last_sync,omitempty"`
}

type NewCourse struct {
	PLCourseID int64     `json:"pl_course_id" validate:"required,gt=0"`
	LastSync   time.Time `json:"last_sync" validate:"required"`
}

func (c *NewCourse) Validate() error {
	return validate.Struct(c)
}
