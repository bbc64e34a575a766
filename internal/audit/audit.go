package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one recorded privileged action. ActorID is nil for system actions.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    *string        `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Action     string
	EntityType string
	Limit      int
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder emits audit entries on a best-effort basis.
type Recorder struct {
	store Store
	log   *logrus.Entry
	now   func() time.Time
}

// NewRecorder constructs a recorder. A nil store only logs.
func NewRecorder(store Store, log *logrus.Entry) *Recorder {
	if log == nil {
		log = obs.NewLogger("audit")
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record appends an entry for the acting principal in ctx. Failures are
// logged and counted, never returned.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if r == nil {
		return
	}
	entry := Entry{
		ID:         ids.New(),
		Action:     strings.TrimSpace(action),
		EntityType: entityType,
		EntityID:   entityID,
		Details:    copyDetails(details),
		CreatedAt:  r.now().UTC(),
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		id := p.ID
		entry.ActorID = &id
	}

	fields := logrus.Fields{
		"type":        "audit",
		"event":       entry.Action,
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	if entry.ActorID != nil {
		fields["user_id"] = *entry.ActorID
	}

	if entry.Action == "" {
		r.fail(fields, errors.New("action is required"))
		return
	}
	if r.store != nil {
		if err := r.store.Append(ctx, entry); err != nil {
			r.fail(fields, err)
			return
		}
	}
	r.log.WithFields(fields).Info("audit")
}

func (r *Recorder) fail(fields logrus.Fields, err error) {
	obs.ObserveAuditFailure()
	r.log.WithFields(fields).WithError(err).Warn("audit emission failed")
}

// List returns the most recent entries matching f.
func (r *Recorder) List(ctx context.Context, f Filter) ([]Entry, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	f.Limit = f.limit()
	return r.store.List(ctx, f)
}

func copyDetails(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// InMemory keeps entries in process.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemory() *InMemory { return &InMemory{} }

func (m *InMemory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *InMemory) List(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := f.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
