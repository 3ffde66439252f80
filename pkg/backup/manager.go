package backup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/provider"
	"github.com/zonecraft/zonecraft/pkg/telemetry"
)

// Manager captures, prunes, and restores snapshots. It implements
// engine.Snapshotter so the executor can capture state before mutating
// runs.
type Manager struct {
	store         *Store
	records       provider.RecordStore
	retentionDays int
	log           *telemetry.Logger
}

// NewManager creates a backup manager. retentionDays of zero disables
// pruning on capture.
func NewManager(store *Store, records provider.RecordStore, retentionDays int, log *telemetry.Logger) *Manager {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Manager{
		store:         store,
		records:       records,
		retentionDays: retentionDays,
		log:           log.Component("backup"),
	}
}

// Capture snapshots the domain's current remote records and prunes
// snapshots past the retention window.
func (m *Manager) Capture(ctx context.Context, domain, description, author string) (engine.Snapshot, error) {
	records, err := m.records.List(ctx, domain)
	if err != nil {
		return engine.Snapshot{}, engine.NewError(engine.ErrCodeApply, "cannot list records for backup").WithCause(err)
	}

	snap := engine.Snapshot{
		ID:          uuid.New().String(),
		Domain:      domain,
		Description: description,
		Author:      author,
		Records:     records,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return engine.Snapshot{}, err
	}
	m.log.Infof("captured snapshot %s for %s (%d records)", snap.ID, domain, len(records))

	if m.retentionDays > 0 {
		if pruned, err := m.Prune(ctx, domain); err != nil {
			m.log.WithError(err).Warn("retention pruning failed")
		} else if pruned > 0 {
			m.log.Infof("pruned %d snapshots past retention", pruned)
		}
	}
	return snap, nil
}

// List returns the domain's snapshots, newest first.
func (m *Manager) List(ctx context.Context, domain string) ([]engine.Snapshot, error) {
	return m.store.List(ctx, domain)
}

// Get returns one snapshot with its record payload.
func (m *Manager) Get(ctx context.Context, id string) (engine.Snapshot, error) {
	return m.store.Get(ctx, id)
}

// Delete removes one snapshot.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Prune removes snapshots older than the retention window.
func (m *Manager) Prune(ctx context.Context, domain string) (int64, error) {
	if m.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	return m.store.DeleteOlderThan(ctx, domain, cutoff)
}

// Restore reconciles current remote state back to the snapshot: the
// snapshot's records become the desired state, the difference is
// computed against the live record set, and the resulting change set
// runs through the executor. Restore is reconciliation, not replay.
func (m *Manager) Restore(ctx context.Context, exec *engine.Executor, domain, snapshotID string, opts engine.Options) (*engine.ApplyReport, error) {
	snap, err := m.store.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Domain != domain {
		return nil, engine.NewError(engine.ErrCodeValidation,
			"snapshot "+snapshotID+" belongs to domain "+snap.Domain)
	}

	current, err := m.records.List(ctx, domain)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeRollback, "cannot list records for restore").WithCause(err)
	}

	desired := make([]engine.DesiredRecord, len(snap.Records))
	for i, rec := range snap.Records {
		desired[i] = engine.DesiredRecord{Record: rec}
	}

	cs := engine.Diff(domain, "", desired, current)
	m.log.Infof("restore %s: %d changes to reach snapshot state", snapshotID, cs.Summary().Total())

	// Restoring means putting deleted records back and removing strays,
	// so the full action set must be available.
	opts.Mode = engine.ModeForce
	opts.AllowDeletes = true
	opts.BackupEnabled = false
	opts.AutoRollback = false

	return exec.Apply(ctx, cs, opts)
}
