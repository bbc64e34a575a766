// Package courses manages learning courses, enrollments and completion awards.
package courses

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/ledger"
)

var (
	ErrNotFound         = errors.New("courses: not found")
	ErrInvalidInput     = errors.New("courses: invalid input")
	ErrAlreadyEnrolled  = errors.New("courses: already enrolled")
	ErrAlreadyCompleted = errors.New("courses: enrollment already completed")
)

type Course struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Points int64    `json:"points"`
	URL    string   `json:"url,omitempty"`
}

type Enrollment struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	PrincipalID string     `json:"principal_id"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store persists courses and enrollments. CreateEnrollment reports
// ErrAlreadyEnrolled for a duplicate (course, principal) pair and
// MarkCompleted reports ErrAlreadyCompleted for a completed enrollment.
type Store interface {
	CreateCourse(ctx context.Context, c Course) (Course, error)
	UpdateCourse(ctx context.Context, c Course) (Course, error)
	DeleteCourse(ctx context.Context, id string) error
	Course(ctx context.Context, id string) (Course, error)
	Courses(ctx context.Context) ([]Course, error)

	CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
	Enrollment(ctx context.Context, id string) (Enrollment, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (Enrollment, error)
}

// Auditor records privileged mutations on a best-effort basis.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
}

type Service struct {
	store  Store
	ledger ledger.Service
	audit  Auditor
	log    *logrus.Entry
	now    func() time.Time
}

func NewService(store Store, ledgerSvc ledger.Service, audit Auditor, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: store, ledger: ledgerSvc, audit: audit, log: log, now: time.Now}
}

func normalize(c Course) (Course, error) {
	c.Title = strings.TrimSpace(c.Title)
	c.URL = strings.TrimSpace(c.URL)
	if c.Title == "" {
		return c, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if c.Points < 0 {
		return c, fmt.Errorf("%w: points must not be negative", ErrInvalidInput)
	}
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return c, fmt.Errorf("%w: url must be absolute http(s)", ErrInvalidInput)
		}
	}
	tags := make([]string, 0, len(c.Tags))
	seen := make(map[string]struct{}, len(c.Tags))
	for _, t := range c.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	c.Tags = tags
	return c, nil
}

func (s *Service) record(ctx context.Context, action, entityType, id string, details map[string]any) {
	if s.audit != nil {
		s.audit.Record(ctx, action, entityType, id, details)
	}
}

func (s *Service) Create(ctx context.Context, c Course) (Course, error) {
	c, err := normalize(c)
	if err != nil {
		return Course{}, err
	}
	out, err := s.store.CreateCourse(ctx, c)
	if err != nil {
		s.log.WithError(err).Error("create course failed")
		return Course{}, err
	}
	s.record(ctx, "course.created", "course", out.ID, map[string]any{"title": out.Title, "points": out.Points})
	return out, nil
}

func (s *Service) Update(ctx context.Context, c Course) (Course, error) {
	if strings.TrimSpace(c.ID) == "" {
		return Course{}, ErrInvalidInput
	}
	c, err := normalize(c)
	if err != nil {
		return Course{}, err
	}
	out, err := s.store.UpdateCourse(ctx, c)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithField("course_id", c.ID).WithError(err).Error("update course failed")
		}
		return Course{}, err
	}
	s.record(ctx, "course.updated", "course", out.ID, map[string]any{"title": out.Title, "points": out.Points})
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteCourse(ctx, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithField("course_id", id).WithError(err).Error("delete course failed")
		}
		return err
	}
	s.record(ctx, "course.deleted", "course", id, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (Course, error) {
	return s.store.Course(ctx, id)
}

// List returns every course, optionally restricted to those carrying tag.
func (s *Service) List(ctx context.Context, tag string) ([]Course, error) {
	all, err := s.store.Courses(ctx)
	if err != nil {
		s.log.WithError(err).Error("list courses failed")
		return nil, err
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return all, nil
	}
	out := all[:0:0]
	for _, c := range all {
		for _, t := range c.Tags {
			if t == tag {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (s *Service) Enroll(ctx context.Context, courseID, principalID string) (Enrollment, error) {
	if strings.TrimSpace(principalID) == "" {
		return Enrollment{}, ErrInvalidInput
	}
	if _, err := s.store.Course(ctx, courseID); err != nil {
		return Enrollment{}, err
	}
	e, err := s.store.CreateEnrollment(ctx, Enrollment{
		CourseID:    courseID,
		PrincipalID: principalID,
		EnrolledAt:  s.now().UTC(),
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyEnrolled) {
			s.log.WithField("course_id", courseID).WithError(err).Error("enroll failed")
		}
		return Enrollment{}, err
	}
	s.record(ctx, "course.enrolled", "enrollment", e.ID, map[string]any{"course_id": courseID, "principal_id": principalID})
	return e, nil
}

// Complete marks an enrollment completed and awards the course points.
func (s *Service) Complete(ctx context.Context, enrollmentID string) (Enrollment, *ledger.Transaction, error) {
	e, err := s.store.Enrollment(ctx, enrollmentID)
	if err != nil {
		return Enrollment{}, nil, err
	}
	course, err := s.store.Course(ctx, e.CourseID)
	if err != nil {
		return Enrollment{}, nil, err
	}
	done, err := s.store.MarkCompleted(ctx, enrollmentID, s.now().UTC())
	if err != nil {
		return Enrollment{}, nil, err
	}
	s.record(ctx, "course.completed", "enrollment", done.ID, map[string]any{"course_id": course.ID, "points": course.Points})
	if course.Points == 0 {
		return done, nil, nil
	}
	desc := fmt.Sprintf("Course completed: %s (%s)", course.Title, done.ID)
	txn, err := s.ledger.Record(ctx, done.PrincipalID, course.Points, desc)
	if err != nil {
		s.log.WithField("enrollment_id", done.ID).WithError(err).Error("award course points failed")
		return done, nil, err
	}
	return done, &txn, nil
}
