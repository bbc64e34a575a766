package imports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/orgs"
)

const (
	// DefaultBatchSize is the number of rows written per request.
	DefaultBatchSize = 15
	// DefaultCallTimeout bounds each store call made by a run.
	DefaultCallTimeout = 10 * time.Second

	auditTimeout = 5 * time.Second
)

// Batch is the immutable record of one accepted upload.
type Batch struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	RowCount   int       `json:"row_count"`
	UploaderID string    `json:"uploader_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot is the append-only historical row for one company in one batch.
type Snapshot struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batch_id"`
	ExternalCode string    `json:"external_code"`
	CompanyName  string    `json:"company_name"`
	YTDSpend     float64   `json:"ytd_spend"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Store persists batches and snapshots.
type Store interface {
	CreateBatch(ctx context.Context, b Batch) (Batch, error)
	InsertSnapshots(ctx context.Context, rows []Snapshot) error
	ListBatches(ctx context.Context, limit int) ([]Batch, error)
	Snapshots(ctx context.Context, batchID string) ([]Snapshot, error)
}

// Auditor records privileged mutations on a best-effort basis.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
}

// Upload is one file submitted for import.
type Upload struct {
	FileName string
	Body     io.Reader
}

// PhaseResult counts rows per write phase.
type PhaseResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Result summarises an import. SuccessCount and FailureCount mirror the
// snapshot phase.
type Result struct {
	BatchID       string            `json:"batch_id"`
	TotalRows     int               `json:"total_rows"`
	Organizations PhaseResult       `json:"organizations"`
	Snapshots     PhaseResult       `json:"snapshots"`
	SuccessCount  int               `json:"success_count"`
	FailureCount  int               `json:"failure_count"`
	Interrupted   bool              `json:"interrupted,omitempty"`
	Failures      []BatchWriteError `json:"failures,omitempty"`
}

// Partial reports whether some rows were not written.
func (r Result) Partial() bool { return r.FailureCount > 0 || r.Interrupted }

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize overrides DefaultBatchSize. Non-positive values are ignored.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithCallTimeout bounds each batch write separately. Non-positive values are
// ignored.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// WithColumns overrides DefaultColumns.
func WithColumns(c Columns) Option {
	return func(p *Pipeline) { p.columns = c }
}

// WithAuditor wires the audit recorder.
func WithAuditor(a Auditor) Option {
	return func(p *Pipeline) { p.audit = a }
}

// WithLogger sets the logger entry.
func WithLogger(l *logrus.Entry) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.now = fn
		}
	}
}

// Pipeline turns uploads into organization and snapshot rows.
type Pipeline struct {
	store       Store
	orgs        orgs.Writer
	batchSize   int
	callTimeout time.Duration
	columns     Columns
	audit       Auditor
	log         *logrus.Entry
	now         func() time.Time
}

func NewPipeline(store Store, orgWriter orgs.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		orgs:        orgWriter,
		batchSize:   DefaultBatchSize,
		callTimeout: DefaultCallTimeout,
		columns:     DefaultColumns,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Columns returns the configured header names.
func (p *Pipeline) Columns() Columns { return p.columns }

// Run imports up. Parse, validation and authentication failures write
// nothing. Once the batch row exists, batches are written in sequence and a
// failed batch is counted and skipped; nothing is retried or rolled back.
// Each write gets its own deadline. When ctx itself ends the run stops, the
// unwritten rows are counted as failed and the partial Result is returned
// with an error wrapping ErrInterrupted.
func (p *Pipeline) Run(ctx context.Context, up Upload) (Result, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return Result{}, ErrAuthentication
	}
	if up.Body == nil {
		return Result{}, &ParseError{Err: errors.New("no file")}
	}

	rows, err := Parse(up.Body)
	if err != nil {
		return Result{}, err
	}
	if err := Validate(rows, p.columns); err != nil {
		return Result{}, err
	}
	records := Map(rows, p.columns)

	log := p.log.WithFields(logrus.Fields{"file_name": up.FileName, "uploader_id": principal.ID})
	var batch Batch
	err = p.call(ctx, func(ctx context.Context) error {
		var err error
		batch, err = p.store.CreateBatch(ctx, Batch{
			FileName:   strings.TrimSpace(up.FileName),
			RowCount:   len(records),
			UploaderID: principal.ID,
		})
		return err
	})
	if err != nil {
		log.WithError(err).Error("create import batch failed")
		return Result{}, fmt.Errorf("create import batch: %w", err)
	}
	log = log.WithField("batch_id", batch.ID)

	res := Result{BatchID: batch.ID, TotalRows: len(records)}
	now := p.now().UTC()

	err = p.eachBatch(ctx, records, func(n int, chunk []Record) error {
		upserts := make([]orgs.Upsert, len(chunk))
		for i, r := range chunk {
			upserts[i] = orgs.Upsert{ExternalCode: r.ExternalCode, Name: r.Name, LastUpdatedAt: now}
		}
		return p.write(ctx, log, &res, &res.Organizations, PhaseOrganizations, n, len(chunk), func(ctx context.Context) error {
			return p.orgs.UpsertOrganizations(ctx, upserts)
		})
	})
	if err == nil {
		err = p.eachBatch(ctx, records, func(n int, chunk []Record) error {
			snaps := make([]Snapshot, len(chunk))
			for i, r := range chunk {
				snaps[i] = Snapshot{
					BatchID:      batch.ID,
					ExternalCode: r.ExternalCode,
					CompanyName:  r.Name,
					YTDSpend:     r.YTDSpend,
					CapturedAt:   now,
				}
			}
			return p.write(ctx, log, &res, &res.Snapshots, PhaseSnapshots, n, len(chunk), func(ctx context.Context) error {
				return p.store.InsertSnapshots(ctx, snaps)
			})
		})
	}
	if err != nil {
		res.Interrupted = true
		res.Organizations.Failed = res.TotalRows - res.Organizations.Succeeded
		res.Snapshots.Failed = res.TotalRows - res.Snapshots.Succeeded
	}
	res.SuccessCount = res.Snapshots.Succeeded
	res.FailureCount = res.Snapshots.Failed

	if p.audit != nil {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		p.audit.Record(auditCtx, "import.completed", "import_batch", batch.ID, map[string]any{
			"file_name":               batch.FileName,
			"total_rows":              res.TotalRows,
			"organizations_succeeded": res.Organizations.Succeeded,
			"organizations_failed":    res.Organizations.Failed,
			"snapshots_succeeded":     res.Snapshots.Succeeded,
			"snapshots_failed":        res.Snapshots.Failed,
			"interrupted":             res.Interrupted,
		})
		cancel()
	}
	entry := log.WithFields(logrus.Fields{
		"total_rows":    res.TotalRows,
		"success_count": res.SuccessCount,
		"failure_count": res.FailureCount,
	})
	if err != nil {
		entry.WithError(err).Warn("import interrupted")
		return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	if res.Partial() {
		entry.Warn("import partially applied")
	} else {
		entry.Info("import completed")
	}
	return res, nil
}

// eachBatch calls fn for consecutive chunks, numbering batches from 1. It
// stops early only when ctx ends.
func (p *Pipeline) eachBatch(ctx context.Context, records []Record, fn func(n int, chunk []Record) error) error {
	for start, n := 0, 1; start < len(records); start, n = start+p.batchSize, n+1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+p.batchSize, len(records))
		if err := fn(n, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// call runs fn under the per-call deadline.
func (p *Pipeline) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(ctx)
}

// write runs one batch. A failure that outlives only the batch deadline is
// recorded and the run continues; a failure of ctx itself stops it.
func (p *Pipeline) write(ctx context.Context, log *logrus.Entry, res *Result, phase *PhaseResult, name Phase, n, rows int, fn func(ctx context.Context) error) error {
	err := p.call(ctx, fn)
	if err == nil {
		phase.Succeeded += rows
		obs.ObserveImportRows(string(name), "ok", rows)
		return nil
	}
	phase.Failed += rows
	if ctxErr := ctx.Err(); ctxErr != nil {
		obs.ObserveImportRows(string(name), "interrupted", rows)
		return ctxErr
	}
	obs.ObserveImportRows(string(name), "failed", rows)
	res.Failures = append(res.Failures, BatchWriteError{Phase: name, Batch: n, Rows: rows, Err: err, Cause: err.Error()})
	log.WithFields(logrus.Fields{"phase": name, "batch": n, "rows": rows}).WithError(err).Error("import batch failed")
	return nil
}

// ListBatches returns recent batches, newest first.
func (p *Pipeline) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return p.store.ListBatches(ctx, limit)
}

// Snapshots returns the rows captured by batchID.
func (p *Pipeline) Snapshots(ctx context.Context, batchID string) ([]Snapshot, error) {
	return p.store.Snapshots(ctx, batchID)
}
