package courses

import (
	"context"
	"sort"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
)

type InMemory struct {
	mu          sync.RWMutex
	courses     map[string]Course
	enrollments map[string]Enrollment
	byPair      map[[2]string]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		courses:     make(map[string]Course),
		enrollments: make(map[string]Enrollment),
		byPair:      make(map[[2]string]string),
	}
}

func (m *InMemory) CreateCourse(_ context.Context, c Course) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = ids.New()
	m.courses[c.ID] = c
	return c, nil
}

func (m *InMemory) UpdateCourse(_ context.Context, c Course) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[c.ID]; !ok {
		return Course{}, ErrNotFound
	}
	m.courses[c.ID] = c
	return c, nil
}

func (m *InMemory) DeleteCourse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return ErrNotFound
	}
	delete(m.courses, id)
	for eid, e := range m.enrollments {
		if e.CourseID == id {
			delete(m.enrollments, eid)
			delete(m.byPair, [2]string{e.CourseID, e.PrincipalID})
		}
	}
	return nil
}

func (m *InMemory) Course(_ context.Context, id string) (Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	return c, nil
}

func (m *InMemory) Courses(_ context.Context) ([]Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *InMemory) CreateEnrollment(_ context.Context, e Enrollment) (Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{e.CourseID, e.PrincipalID}
	if _, dup := m.byPair[key]; dup {
		return Enrollment{}, ErrAlreadyEnrolled
	}
	e.ID = ids.New()
	m.enrollments[e.ID] = e
	m.byPair[key] = e.ID
	return e, nil
}

func (m *InMemory) Enrollment(_ context.Context, id string) (Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return Enrollment{}, ErrNotFound
	}
	return e, nil
}

func (m *InMemory) MarkCompleted(_ context.Context, id string, at time.Time) (Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return Enrollment{}, ErrNotFound
	}
	if e.CompletedAt != nil {
		return Enrollment{}, ErrAlreadyCompleted
	}
	e.CompletedAt = &at
	m.enrollments[id] = e
	return e, nil
}
