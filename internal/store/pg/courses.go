package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyaltydesk.org/internal/courses"
	"loyaltydesk.org/internal/ids"
)

// Courses implements courses.Store. Tags are stored as a jsonb array.
type Courses struct {
	db *sql.DB
}

var _ courses.Store = (*Courses)(nil)

func scanCourse(row interface{ Scan(...any) error }) (courses.Course, error) {
	var (
		c       courses.Course
		rawTags []byte
	)
	if err := row.Scan(&c.ID, &c.Title, &rawTags, &c.Points, &c.URL); err != nil {
		return courses.Course{}, err
	}
	c.Tags = []string{}
	if len(rawTags) > 0 {
		if err := json.Unmarshal(rawTags, &c.Tags); err != nil {
			return courses.Course{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return c, nil
}

func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(tags)
}

func (s *Courses) CreateCourse(ctx context.Context, c courses.Course) (courses.Course, error) {
	if c.ID == "" {
		c.ID = ids.New()
	}
	tags, err := marshalTags(c.Tags)
	if err != nil {
		return courses.Course{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into courses (id, title, tags, points, url) values ($1, $2, $3, $4, $5)
	`, c.ID, c.Title, tags, c.Points, c.URL); err != nil {
		return courses.Course{}, err
	}
	return c, nil
}

func (s *Courses) UpdateCourse(ctx context.Context, c courses.Course) (courses.Course, error) {
	tags, err := marshalTags(c.Tags)
	if err != nil {
		return courses.Course{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		update courses set title = $2, tags = $3, points = $4, url = $5 where id = $1
	`, c.ID, c.Title, tags, c.Points, c.URL)
	if err != nil {
		return courses.Course{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return courses.Course{}, courses.ErrNotFound
	}
	return c, nil
}

func (s *Courses) DeleteCourse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from courses where id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return courses.ErrNotFound
	}
	return nil
}

func (s *Courses) Course(ctx context.Context, id string) (courses.Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `select id, title, tags, points, url from courses where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return courses.Course{}, courses.ErrNotFound
	}
	return c, err
}

func (s *Courses) Courses(ctx context.Context) ([]courses.Course, error) {
	rows, err := s.db.QueryContext(ctx, `select id, title, tags, points, url from courses order by title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []courses.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanEnrollment(row interface{ Scan(...any) error }) (courses.Enrollment, error) {
	var (
		e         courses.Enrollment
		completed sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.CourseID, &e.PrincipalID, &e.EnrolledAt, &completed); err != nil {
		return courses.Enrollment{}, err
	}
	e.CompletedAt = timePtr(completed)
	return e, nil
}

func (s *Courses) CreateEnrollment(ctx context.Context, e courses.Enrollment) (courses.Enrollment, error) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into enrollments (id, course_id, principal_id, enrolled_at) values ($1, $2, $3, $4)
	`, e.ID, e.CourseID, e.PrincipalID, e.EnrolledAt)
	if err != nil {
		switch {
		case isCode(err, pgErrUniqueViolation):
			return courses.Enrollment{}, courses.ErrAlreadyEnrolled
		case isCode(err, pgErrForeignKeyViolation):
			return courses.Enrollment{}, courses.ErrNotFound
		}
		return courses.Enrollment{}, err
	}
	return e, nil
}

func (s *Courses) Enrollment(ctx context.Context, id string) (courses.Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx, `
		select id, course_id, principal_id, enrolled_at, completed_at from enrollments where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return courses.Enrollment{}, courses.ErrNotFound
	}
	return e, err
}

func (s *Courses) MarkCompleted(ctx context.Context, id string, at time.Time) (courses.Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx, `
		update enrollments set completed_at = $2
		where id = $1 and completed_at is null
		returning id, course_id, principal_id, enrolled_at, completed_at
	`, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Enrollment(ctx, id); getErr != nil {
			return courses.Enrollment{}, getErr
		}
		return courses.Enrollment{}, courses.ErrAlreadyCompleted
	}
	return e, err
}
