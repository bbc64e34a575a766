package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"loyaltydesk.org/internal/stream"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffUnit = time.Second
)

// Snapshot is the principal's aggregated rewards view. Err holds the joined
// errors of any reads that failed; the fields they would have filled stay empty.
type Snapshot struct {
	PrincipalID   string      `json:"principal_id"`
	Balance       int64       `json:"balance"`
	Tier          *Tier       `json:"tier"`
	NextMilestone *Milestone  `json:"next_milestone"`
	Tiers         []Tier      `json:"tiers"`
	Milestones    []Milestone `json:"milestones"`
	Perks         []Perk      `json:"perks"`
	LoadedAt      time.Time   `json:"loaded_at"`
	Err           error       `json:"-"`
}

// Eligible reports whether m is redeemable in this snapshot.
func (s Snapshot) Eligible(m Milestone) bool {
	return Eligible(s.Balance, m, s.Perks)
}

// PointsToNext is the distance to the next milestone, or zero when maxed out.
func (s Snapshot) PointsToNext() int64 {
	if s.NextMilestone == nil {
		return 0
	}
	return s.NextMilestone.PointsRequired - s.Balance
}

func (s *Snapshot) recompute() {
	s.Tier = ResolveTier(s.Tiers, s.Balance)
	s.NextMilestone = NextMilestone(s.Milestones, s.Balance)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithBackoffUnit sets the linear backoff step between whole-load retries.
func WithBackoffUnit(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.backoffUnit = d
		}
	}
}

// WithMaxRetries sets how many times a fully failed load is retried.
func WithMaxRetries(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxRetries = n
		}
	}
}

// WithAggregatorLogger sets the logger entry.
func WithAggregatorLogger(l *logrus.Entry) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// Aggregator loads and watches a principal's rewards state.
type Aggregator struct {
	balances    BalanceReader
	catalog     Catalog
	perks       PerkStore
	hub         *stream.Hub
	backoffUnit time.Duration
	maxRetries  int
	log         *logrus.Entry
	now         func() time.Time
}

// NewAggregator wires the four read sources. hub may be nil, in which case
// Watch only serves the initial snapshot.
func NewAggregator(balances BalanceReader, catalog Catalog, perks PerkStore, hub *stream.Hub, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		balances:    balances,
		catalog:     catalog,
		perks:       perks,
		hub:         hub,
		backoffUnit: defaultBackoffUnit,
		maxRetries:  defaultMaxRetries,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// errAllReadsFailed marks a load in which no source answered.
var errAllReadsFailed = errors.New("rewards: all reads failed")

func (a *Aggregator) retryPolicy() retrypolicy.RetryPolicy[Snapshot] {
	unit := a.backoffUnit
	return retrypolicy.NewBuilder[Snapshot]().
		HandleIf(func(_ Snapshot, err error) bool {
			return errors.Is(err, errAllReadsFailed) &&
				!errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded)
		}).
		WithMaxRetries(a.maxRetries).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[Snapshot]) time.Duration {
			return time.Duration(exec.Attempts()) * unit
		}).
		ReturnLastFailure().
		Build()
}

// Load issues the balance, tier, milestone and perk reads concurrently. Any
// subset may fail: partial data is returned with Snapshot.Err set and a nil
// error. Only when every read fails is the whole load retried with linear
// backoff; if retries run out the last error is returned.
func (a *Aggregator) Load(ctx context.Context, principalID string) (Snapshot, error) {
	snap, err := failsafe.With[Snapshot](a.retryPolicy()).
		WithContext(ctx).
		Get(func() (Snapshot, error) {
			return a.fetch(ctx, principalID)
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return snap, ctxErr
		}
		a.log.WithField("principal_id", principalID).WithError(err).Error("rewards load failed")
		return snap, err
	}
	if snap.Err != nil {
		a.log.WithField("principal_id", principalID).WithError(snap.Err).Warn("rewards load partially failed")
	}
	return snap, nil
}

func (a *Aggregator) fetch(ctx context.Context, principalID string) (Snapshot, error) {
	snap := Snapshot{PrincipalID: principalID}
	var g errgroup.Group
	var balErr, tierErr, milestoneErr, perkErr error
	g.Go(func() error {
		snap.Balance, balErr = a.balances.Balance(ctx, principalID)
		return nil
	})
	g.Go(func() error {
		snap.Tiers, tierErr = a.catalog.Tiers(ctx)
		return nil
	})
	g.Go(func() error {
		snap.Milestones, milestoneErr = a.catalog.Milestones(ctx)
		return nil
	})
	g.Go(func() error {
		snap.Perks, perkErr = a.perks.Perks(ctx, principalID)
		return nil
	})
	_ = g.Wait()

	var errs []error
	if balErr != nil {
		snap.Balance = 0
		errs = append(errs, fmt.Errorf("balance: %w", balErr))
	}
	if tierErr != nil {
		snap.Tiers = nil
		errs = append(errs, fmt.Errorf("tiers: %w", tierErr))
	}
	if milestoneErr != nil {
		snap.Milestones = nil
		errs = append(errs, fmt.Errorf("milestones: %w", milestoneErr))
	}
	if perkErr != nil {
		snap.Perks = nil
		errs = append(errs, fmt.Errorf("perks: %w", perkErr))
	}
	SortTiers(snap.Tiers)
	SortMilestones(snap.Milestones)
	snap.recompute()
	snap.LoadedAt = a.now().UTC()
	snap.Err = errors.Join(errs...)
	if len(errs) == 4 {
		return snap, fmt.Errorf("%w: %w", errAllReadsFailed, snap.Err)
	}
	return snap, nil
}

// Live is a snapshot kept current by change notifications.
type Live struct {
	mu      sync.RWMutex
	snap    Snapshot
	updates chan Snapshot
	done    chan struct{}
}

// Snapshot returns a copy of the current state.
func (l *Live) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.snap
	s.Perks = append([]Perk(nil), l.snap.Perks...)
	return s
}

// Updates delivers the state after each applied change. Intermediate states
// may be skipped; the latest is always delivered. Closed when the watch ends.
func (l *Live) Updates() <-chan Snapshot { return l.updates }

// Done is closed once the watcher goroutine exits.
func (l *Live) Done() <-chan struct{} { return l.done }

func (l *Live) apply(fn func(*Snapshot)) Snapshot {
	l.mu.Lock()
	fn(&l.snap)
	out := l.snap
	out.Perks = append([]Perk(nil), l.snap.Perks...)
	l.mu.Unlock()

	select {
	case <-l.updates:
	default:
	}
	select {
	case l.updates <- out:
	default:
	}
	return out
}

// Watch loads the principal's snapshot and keeps it current until ctx ends.
// Balance events update the balance in place and recompute tier and next
// milestone; perk events re-read only the perks.
func (a *Aggregator) Watch(ctx context.Context, principalID string) (*Live, error) {
	ctx, cancel := context.WithCancel(ctx)
	var events <-chan stream.Event
	if a.hub != nil {
		events = a.hub.Subscribe(ctx, stream.Filter{
			PrincipalID: principalID,
			Kinds:       []stream.Kind{stream.KindBalanceChanged, stream.KindPerkChanged},
		})
	}
	snap, err := a.Load(ctx, principalID)
	if err != nil {
		cancel()
		return nil, err
	}
	live := &Live{snap: snap, updates: make(chan Snapshot, 1), done: make(chan struct{})}
	go a.run(ctx, cancel, live, principalID, events)
	return live, nil
}

func (a *Aggregator) run(ctx context.Context, cancel context.CancelFunc, live *Live, principalID string, events <-chan stream.Event) {
	defer cancel()
	defer close(live.done)
	defer close(live.updates)
	if events == nil {
		<-ctx.Done()
		return
	}
	log := a.log.WithField("principal_id", principalID)
	for evt := range events {
		switch evt.Kind {
		case stream.KindBalanceChanged:
			balance, ok := payloadInt(evt.Payload, "balance")
			if !ok {
				log.WithField("payload", evt.Payload).Warn("balance event without balance")
				continue
			}
			live.apply(func(s *Snapshot) {
				s.Balance = balance
				s.recompute()
			})
		case stream.KindPerkChanged:
			perks, err := a.perks.Perks(ctx, principalID)
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("perk refresh failed")
				}
				continue
			}
			live.apply(func(s *Snapshot) { s.Perks = perks })
		}
	}
}

func payloadInt(p map[string]any, key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
