package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zonecraft/zonecraft/pkg/provider"
	"github.com/zonecraft/zonecraft/pkg/telemetry"
)

const (
	defaultParallelism = 4
	defaultOpTimeout   = 30 * time.Second
)

// Executor applies change sets against a record store, level by level
// along the dependency graph, with bounded concurrency inside a level.
type Executor struct {
	store     provider.RecordStore
	snapshots Snapshotter
	gate      Gate
	log       *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSnapshotter enables backup capture and rollback.
func WithSnapshotter(s Snapshotter) ExecutorOption {
	return func(e *Executor) { e.snapshots = s }
}

// WithGate enables policy evaluation before mutating runs.
func WithGate(g Gate) ExecutorOption {
	return func(e *Executor) { e.gate = g }
}

// WithLogger sets the executor's logger.
func WithLogger(l *telemetry.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithMetrics sets the executor's metrics collector.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer sets the executor's tracer.
func WithTracer(tr *telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tr }
}

// NewExecutor creates an executor over a record store.
func NewExecutor(store provider.RecordStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   store,
		log:     telemetry.Nop(),
		metrics: telemetry.NewMetrics(telemetry.MetricsConfig{}),
		tracer:  telemetry.NopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the mutable state of one apply pass.
type run struct {
	report *ApplyReport
	opts   Options

	mu      sync.Mutex
	results map[string]*OperationResult // keyed by node id
	order   []string
	halted  bool
}

func (r *run) record(nodeID string, res OperationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.results[nodeID]; !seen {
		r.order = append(r.order, nodeID)
	}
	r.results[nodeID] = &res
	if res.Status == StatusFailed && r.opts.Strict {
		r.halted = true
	}
}

func (r *run) status(nodeID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[nodeID]
	if !ok {
		return "", false
	}
	return res.Status, true
}

func (r *run) isHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// Apply executes a change set. Dry-run returns the would-be report with
// every action PLANNED and performs no store call. Failures are
// per-operation unless strict mode halts dispatch; automatic rollback
// restores the pre-run snapshot when enabled.
func (e *Executor) Apply(ctx context.Context, cs *ChangeSet, opts Options) (*ApplyReport, error) {
	ctx, span := e.tracer.StartSpan(ctx, "engine.apply",
		attribute.String("domain", cs.Domain),
		attribute.String("mode", string(opts.Mode)),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Int("changes", len(cs.Changes)))
	report, err := e.apply(ctx, cs, opts)
	e.tracer.EndSpan(span, err)
	return report, err
}

func (e *Executor) apply(ctx context.Context, cs *ChangeSet, opts Options) (*ApplyReport, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.Mode == "" {
		opts.Mode = ModeForce
	}

	report := &ApplyReport{
		RunID:       uuid.New().String(),
		Domain:      cs.Domain,
		Environment: cs.Environment,
		Mode:        opts.Mode,
		DryRun:      opts.DryRun,
		StartedAt:   time.Now().UTC(),
	}
	log := e.log.WithField("run_id", report.RunID).WithField("domain", cs.Domain)

	if opts.DryRun {
		for _, c := range cs.Changes {
			report.Results = append(report.Results, OperationResult{Change: c, Status: StatusPlanned})
		}
		summarize(report)
		log.Infof("dry-run: %d changes planned", len(cs.Changes))
		return report, nil
	}

	// Decide up front which changes the mode permits.
	executable := make([]bool, len(cs.Changes))
	for i, c := range cs.Changes {
		executable[i] = permitted(c.Action, opts)
	}

	if e.gate != nil && anyTrue(executable) {
		if err := e.gate.Check(ctx, cs, opts); err != nil {
			e.metrics.PolicyDenied()
			return nil, err
		}
	}

	var snapshot *Snapshot
	if opts.BackupEnabled && needsBackup(cs, executable) {
		if e.snapshots == nil {
			return nil, NewError(ErrCodeApply, "backup enabled but no snapshotter configured")
		}
		snap, err := e.snapshots.Capture(ctx, cs.Domain, opts.BackupDescription, opts.BackupAuthor)
		if err != nil {
			return nil, NewError(ErrCodeApply, "backup capture failed").WithCause(err)
		}
		snapshot = &snap
		report.SnapshotID = snap.ID
		e.metrics.SnapshotCaptured()
		log.Infof("captured snapshot %s before mutating run", snap.ID)
	}

	nodes := make([]DepNode, len(cs.Changes))
	byNode := make(map[string]int, len(cs.Changes))
	for i, c := range cs.Changes {
		id := c.RecordID
		if id == "" {
			id = fmt.Sprintf("change-%d", i)
		}
		nodes[i] = DepNode{ID: id, DependsOn: c.DependsOn, Path: c.Path}
		byNode[id] = i
	}
	graph := BuildGraph(nodes)
	levels, cycle := graph.Levels()
	if cycle != nil {
		return nil, CycleError(cycle)
	}

	r := &run{
		report:  report,
		opts:    opts,
		results: make(map[string]*OperationResult, len(cs.Changes)),
	}

	cancelled := false
	for _, level := range levels {
		if r.isHalted() {
			break
		}
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}
		e.runLevel(ctx, cs, level, byNode, executable, r)
	}

	// Anything never dispatched (strict halt, cancellation) is skipped.
	for id, i := range byNode {
		if _, done := r.status(id); !done {
			reason := "not dispatched"
			if cancelled {
				reason = "run cancelled"
			}
			r.record(id, OperationResult{
				Change: cs.Changes[i],
				Status: StatusSkipped,
				Error:  reason,
			})
		}
	}

	r.mu.Lock()
	for _, id := range r.order {
		report.Results = append(report.Results, *r.results[id])
	}
	r.mu.Unlock()
	summarize(report)

	if report.Summary.Failed > 0 && opts.AutoRollback && snapshot != nil {
		if err := e.rollback(ctx, cs.Domain, snapshot, report, opts); err != nil {
			summarize(report)
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
		summarize(report)
	}

	report.FinishedAt = time.Now().UTC()
	outcome := "succeeded"
	if report.Summary.Failed > 0 {
		outcome = "failed"
	}
	e.metrics.ObserveApply(string(opts.Mode), outcome, report.FinishedAt.Sub(report.StartedAt))
	log.Infof("apply finished: %d applied, %d skipped, %d failed",
		report.Summary.Applied, report.Summary.Skipped, report.Summary.Failed)

	if cancelled {
		return report, NewError(ErrCodeApply, "apply cancelled").WithCause(ctx.Err())
	}
	return report, nil
}

// runLevel dispatches one level through a bounded worker pool. The
// level partitioning guarantees no two workers touch the same record.
func (e *Executor) runLevel(ctx context.Context, cs *ChangeSet, level []string, byNode map[string]int, executable []bool, r *run) {
	queue := make(chan string, len(level))
	for _, id := range level {
		queue <- id
	}
	close(queue)

	workers := r.opts.Parallelism
	if len(level) < workers {
		workers = len(level)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range queue {
				if r.isHalted() {
					return
				}
				i := byNode[id]
				c := cs.Changes[i]

				switch {
				case c.Action == ActionNoop:
					r.record(id, OperationResult{Change: c, Status: StatusSkipped})
				case !executable[i]:
					r.record(id, OperationResult{
						Change: c,
						Status: StatusSkipped,
						Error:  fmt.Sprintf("action %s not permitted in mode %s", c.Action, r.opts.Mode),
					})
				case !e.dependenciesApplied(c, r):
					r.record(id, OperationResult{
						Change: c,
						Status: StatusSkipped,
						Error:  "dependency was not applied",
					})
				default:
					r.record(id, e.execute(ctx, cs.Domain, c, r.opts))
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
}

// dependenciesApplied reports whether every dependency of c finished as
// APPLIED or was a NOOP skip.
func (e *Executor) dependenciesApplied(c Change, r *run) bool {
	for _, dep := range c.DependsOn {
		status, ok := r.status(dep)
		if !ok {
			return false
		}
		if status == StatusFailed || (status == StatusSkipped && !isNoopSkip(r, dep)) {
			return false
		}
	}
	return true
}

func isNoopSkip(r *run, nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[nodeID]
	return ok && res.Change.Action == ActionNoop
}

// execute performs one store call under the per-operation timeout.
func (e *Executor) execute(ctx context.Context, domain string, c Change, opts Options) OperationResult {
	opCtx, cancel := context.WithTimeout(ctx, opts.OpTimeout)
	defer cancel()

	start := time.Now()
	res := OperationResult{Change: c}

	var err error
	switch c.Action {
	case ActionCreate:
		var created provider.Record
		created, err = e.store.Create(opCtx, domain, c.Record)
		if err == nil {
			res.AppliedID = created.ID
		}
	case ActionUpdate:
		rec := c.Record
		rec.ID = c.Previous.ID
		_, err = e.store.Update(opCtx, domain, c.Previous.ID, rec)
		if err == nil {
			res.AppliedID = c.Previous.ID
		}
	case ActionDelete:
		err = e.store.Delete(opCtx, domain, c.Previous.ID)
	}

	res.Duration = time.Since(start)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			err = NewTransientError(ErrCodeTimeout, "operation timed out", err)
		}
		res.Status = StatusFailed
		res.Error = err.Error()
		e.log.WithError(err).Errorf("%s %s failed", c.Action, c.Record.Key())
	} else {
		res.Status = StatusApplied
		e.log.Debugf("%s %s applied in %s", c.Action, c.Record.Key(), res.Duration)
	}
	e.metrics.ObserveOperation(string(c.Action), string(res.Status), res.Duration)
	return res
}

// rollback restores the snapshot by reconciling it against current
// remote state through a second apply pass. A failure here is fatal; no
// second rollback is attempted.
func (e *Executor) rollback(ctx context.Context, domain string, snapshot *Snapshot, report *ApplyReport, opts Options) error {
	e.log.Warnf("rolling back to snapshot %s after %d failed operations", snapshot.ID, report.Summary.Failed)
	e.metrics.RollbackPerformed()

	desired := make([]DesiredRecord, len(snapshot.Records))
	for i, rec := range snapshot.Records {
		desired[i] = DesiredRecord{Record: rec}
	}
	current, err := e.store.List(ctx, domain)
	if err != nil {
		return NewError(ErrCodeRollback, "cannot list records for rollback").WithCause(err)
	}

	cs := Diff(domain, report.Environment, desired, current)

	// The gate approved the run being undone; re-checking it here could
	// deny deleting records that run just created and strand the zone in
	// the half-applied state.
	bare := &Executor{store: e.store, log: e.log, metrics: e.metrics, tracer: e.tracer}
	sub, err := bare.Apply(ctx, cs, Options{
		Mode:         ModeForce,
		AllowDeletes: true,
		Parallelism:  opts.Parallelism,
		OpTimeout:    opts.OpTimeout,
	})
	if err != nil {
		return NewError(ErrCodeRollback, "rollback apply failed").WithCause(err)
	}
	if sub.Summary.Failed > 0 {
		return NewError(ErrCodeRollback,
			fmt.Sprintf("rollback left %d operations failed; remote state may be inconsistent", sub.Summary.Failed))
	}

	for i := range report.Results {
		if report.Results[i].Status == StatusApplied {
			report.Results[i].Status = StatusRolledBack
		}
	}
	return nil
}

// permitted applies the mode and deletion policy to an action.
func permitted(action Action, opts Options) bool {
	switch action {
	case ActionCreate:
		return opts.Mode == ModeForce || opts.Mode == ModeCreateMissing
	case ActionUpdate:
		return opts.Mode == ModeForce || opts.Mode == ModeUpdateExisting
	case ActionDelete:
		return opts.Mode == ModeForce && opts.AllowDeletes
	}
	return false
}

// needsBackup reports whether the run will mutate or remove existing
// records.
func needsBackup(cs *ChangeSet, executable []bool) bool {
	for i, c := range cs.Changes {
		if !executable[i] {
			continue
		}
		if c.Action == ActionUpdate || c.Action == ActionDelete {
			return true
		}
	}
	return false
}

func anyTrue(bits []bool) bool {
	for _, b := range bits {
		if b {
			return true
		}
	}
	return false
}

func summarize(report *ApplyReport) {
	var s ReportSummary
	for _, res := range report.Results {
		switch res.Status {
		case StatusApplied:
			s.Applied++
		case StatusSkipped:
			s.Skipped++
		case StatusPlanned:
			s.Planned++
		case StatusFailed:
			s.Failed++
		case StatusRolledBack:
			s.RolledBack++
		}
	}
	report.Summary = s
}
