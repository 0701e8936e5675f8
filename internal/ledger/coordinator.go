package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/scoring"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

type Options struct {
	// ReadRetryAttempts counts the first attempt too.
	ReadRetryAttempts uint
	ReadRetryInitial  time.Duration

	// Location decides where a day starts for daily claims.
	Location *time.Location
	Daily    *scoring.DailyRewarder

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReadRetryAttempts == 0 {
		o.ReadRetryAttempts = 3
	}
	if o.ReadRetryInitial <= 0 {
		o.ReadRetryInitial = 50 * time.Millisecond
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Daily == nil {
		o.Daily = scoring.NewDailyRewarder(1, nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Coordinator is the only way the rest of the program touches the ledger.
// It keeps score and cached score rows complete and in step with each other.
type Coordinator struct {
	store    store.LedgerStore
	registry *Registry
	opts     Options
}

// NewCoordinator loads the registered integrations and returns a coordinator
// over s. The caller keeps ownership of s and closes it on shutdown.
func NewCoordinator(ctx context.Context, s store.LedgerStore, opts Options) (*Coordinator, error) {
	c := &Coordinator{
		store:    s,
		registry: NewRegistry(s),
		opts:     opts.withDefaults(),
	}
	if _, err := retryRead(ctx, c, "integration load", func() (struct{}, error) {
		return struct{}{}, c.registry.Load(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to load integrations: %w", err)
	}
	return c, nil
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

func (c *Coordinator) now() time.Time {
	return c.opts.Now().UTC()
}

func (c *Coordinator) validate(ctx context.Context, integration string) (string, error) {
	return retryRead(ctx, c, "integration lookup", func() (string, error) {
		return c.registry.Validate(ctx, integration)
	})
}

// Integrations

func (c *Coordinator) ListIntegrations(ctx context.Context) ([]models.Integration, error) {
	return retryRead(ctx, c, "integration list", func() ([]models.Integration, error) {
		return c.store.ListIntegrations(ctx)
	})
}

// RegisterIntegration registers the integration and gives every existing
// student a zero balance on it. It returns the number of students backfilled.
func (c *Coordinator) RegisterIntegration(ctx context.Context, integration models.Integration) (int, error) {
	backfilled, err := c.registry.Register(ctx, integration)
	if err != nil {
		return 0, err
	}
	logger.Info.Printf("Registered integration %s, backfilled %d students", integration.Key, backfilled)
	return backfilled, nil
}

// EnsureIntegration registers the integration unless it already exists.
func (c *Coordinator) EnsureIntegration(ctx context.Context, integration models.Integration) error {
	if _, err := c.validate(ctx, integration.Key); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrUnknownIntegration) {
		return err
	}

	_, err := c.RegisterIntegration(ctx, integration)
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil
	}
	return err
}

// Courses

func (c *Coordinator) AddCourse(ctx context.Context, course models.NewCourse) (int64, error) {
	if course.LastSync.IsZero() {
		course.LastSync = c.now()
	}
	if err := course.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidQuery, err)
	}
	return c.store.AddCourse(ctx, course)
}

func (c *Coordinator) GetCourse(ctx context.Context, courseID int64) (*models.Course, error) {
	return retryRead(ctx, c, "course", func() (*models.Course, error) {
		return c.store.GetCourse(ctx, courseID)
	})
}

func (c *Coordinator) ListCourses(ctx context.Context) ([]models.Course, error) {
	return retryRead(ctx, c, "course list", func() ([]models.Course, error) {
		return c.store.ListCourses(ctx)
	})
}

func (c *Coordinator) UpdateCourseLastSync(ctx context.Context, courseID int64) (time.Time, error) {
	at := c.now()
	if err := c.store.UpdateCourseLastSync(ctx, courseID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// Students

// AddStudent creates the student with a zero balance on every registered
// integration and returns its id.
func (c *Coordinator) AddStudent(ctx context.Context, student models.NewStudent) (int64, error) {
	if err := student.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidQuery, err)
	}
	for key := range student.ExternalIDs {
		if _, err := c.validate(ctx, key); err != nil {
			return 0, err
		}
	}
	return c.store.AddStudent(ctx, student)
}

func (c *Coordinator) GetStudent(ctx context.Context, studentID int64) (*models.Student, error) {
	return retryRead(ctx, c, "student", func() (*models.Student, error) {
		return c.store.GetStudent(ctx, studentID)
	})
}

func (c *Coordinator) FindStudents(ctx context.Context, filter store.StudentFilter) ([]models.Student, error) {
	return retryRead(ctx, c, "student search", func() ([]models.Student, error) {
		return c.store.FindStudents(ctx, filter)
	})
}

func (c *Coordinator) StudentsByCourse(ctx context.Context, courseID int64) ([]models.Student, error) {
	if _, err := c.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return retryRead(ctx, c, "course students", func() ([]models.Student, error) {
		return c.store.ListStudentsByCourse(ctx, courseID)
	})
}

func (c *Coordinator) UpdateStudentExternalID(ctx context.Context, studentID int64, integration, externalID string) error {
	key, err := c.validate(ctx, integration)
	if err != nil {
		return err
	}
	return c.store.UpdateStudentExternalID(ctx, studentID, key, externalID)
}

func (c *Coordinator) TouchStudent(ctx context.Context, studentID int64) error {
	return c.store.TouchStudent(ctx, studentID, c.now())
}

// DeleteStudent removes the student and all of its ledger and cache rows.
func (c *Coordinator) DeleteStudent(ctx context.Context, studentID int64) (*models.Student, error) {
	student, err := c.store.DeleteStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	logger.Info.Printf("Deleted student %d of course %d", student.ID, student.CourseID)
	return student, nil
}

// FindOrCreateStudent returns the student linked to externalID on the
// integration, creating one in courseID on first contact. The boolean
// reports whether the student was created.
func (c *Coordinator) FindOrCreateStudent(ctx context.Context, integration, externalID string, courseID int64) (*models.Student, bool, error) {
	key, err := c.validate(ctx, integration)
	if err != nil {
		return nil, false, err
	}
	filter := store.StudentFilter{models.ExternalIDAttribute(key): externalID}

	find := func() (*models.Student, error) {
		students, err := c.FindStudents(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(students) == 0 {
			return nil, nil
		}
		return &students[0], nil
	}

	student, err := find()
	if err != nil {
		return nil, false, err
	}
	if student != nil {
		if err := c.TouchStudent(ctx, student.ID); err != nil {
			logger.Error.Printf("Failed to touch student %d: %v", student.ID, err)
		}
		return student, false, nil
	}

	now := c.now()
	id, err := c.AddStudent(ctx, models.NewStudent{
		CourseID:    courseID,
		ExternalIDs: map[string]string{key: externalID},
		LastSeen:    &now,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		// lost a race against another first contact
		student, err = find()
		if err != nil {
			return nil, false, err
		}
		if student == nil {
			return nil, false, fmt.Errorf("%s id %s: %w", key, externalID, store.ErrNotFound)
		}
		return student, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	logger.Info.Printf("Created student %d for %s id %s in course %d", id, key, externalID, courseID)
	student, err = c.GetStudent(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return student, true, nil
}
