package models

import "time"

type Student struct {
	ID       int64      `db:"student_id" json:"student_id"`
	CourseID int64      `db:"course_id" json:"course_id"`
	LastSeen *time.Time `db:"last_seen" json:"last_seen,omitempty"`

	// ExternalIDs maps integration key to the student's id on that platform.
	// Integrations the student has not linked yet are absent.
	ExternalIDs map[string]string `db:"-" json:"external_ids"`
}

func (s *Student) ExternalID(integration string) (string, bool) {
	id, ok := s.ExternalIDs[NormalizeIntegrationKey(integration)]
	return id, ok
}

type NewStudent struct {
	CourseID    int64             `json:"course_id" validate:"required,gt=0"`
	ExternalIDs map[string]string `json:"external_ids" validate:"omitempty,dive,keys,required,max=32,endkeys,required,max=128"`
	LastSeen    *time.Time        `json:"last_seen,omitempty"`
}

func (s *NewStudent) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	normalized := make(map[string]string, len(s.ExternalIDs))
	for k, v := range s.ExternalIDs {
		normalized[NormalizeIntegrationKey(k)] = v
	}
	s.ExternalIDs = normalized
	return nil
}
