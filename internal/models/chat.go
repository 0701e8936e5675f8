package models

import "time"

// ChatCourseMapping binds a chat to the course its members are enrolled in.
type ChatCourseMapping struct {
	CourseID        int64     `json:"course_id"`
	Name            string    `json:"name"`
	AssociationTime time.Time `json:"association_time"`
	RegisteredBy    int64     `json:"registered_by"`
}
