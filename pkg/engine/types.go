package engine

import (
	"context"
	"time"

	"github.com/zonecraft/zonecraft/pkg/provider"
)

// Action describes what a change does to a remote record.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionNoop   Action = "NOOP"
)

// Status is the terminal state of a single plan operation.
type Status string

const (
	StatusPlanned    Status = "PLANNED"
	StatusApplied    Status = "APPLIED"
	StatusSkipped    Status = "SKIPPED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Mode selects which change actions an apply run is allowed to perform.
type Mode string

const (
	// ModeForce performs creates, updates, and (when deletes are
	// enabled) deletes.
	ModeForce Mode = "force"
	// ModeCreateMissing performs only creates; updates and deletes are
	// skipped.
	ModeCreateMissing Mode = "create-missing"
	// ModeUpdateExisting performs only updates; creates and deletes are
	// skipped.
	ModeUpdateExisting Mode = "update-existing"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeForce, ModeCreateMissing, ModeUpdateExisting:
		return Mode(s), nil
	}
	return "", NewError(ErrCodeValidation, "unknown apply mode: "+s)
}

// Change is a single planned mutation of the remote record set.
type Change struct {
	Action Action `json:"action" yaml:"action"`

	// Record is the desired state for CREATE and UPDATE, and the remote
	// record for DELETE and NOOP.
	Record provider.Record `json:"record" yaml:"record"`

	// Previous is the matched remote record for UPDATE, DELETE, and
	// NOOP; nil for CREATE. Its ID drives store calls.
	Previous *provider.Record `json:"previous,omitempty" yaml:"previous,omitempty"`

	// RecordID is the template-local identifier, when the record came
	// from a template. Dependency edges reference these.
	RecordID  string   `json:"record_id,omitempty" yaml:"record_id,omitempty"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Path locates the source record in the template for diagnostics,
	// e.g. "records.A[2]".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Summary counts changes by action.
type Summary struct {
	Creates int `json:"creates" yaml:"creates"`
	Updates int `json:"updates" yaml:"updates"`
	Deletes int `json:"deletes" yaml:"deletes"`
	Noops   int `json:"noops" yaml:"noops"`
}

// Total returns the number of mutating changes in the summary.
func (s Summary) Total() int {
	return s.Creates + s.Updates + s.Deletes
}

// ChangeSet is the ordered plan produced by Diff.
type ChangeSet struct {
	Domain      string    `json:"domain" yaml:"domain"`
	Environment string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	Changes     []Change  `json:"changes" yaml:"changes"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Summary tallies the change set by action.
func (cs *ChangeSet) Summary() Summary {
	var s Summary
	for _, c := range cs.Changes {
		switch c.Action {
		case ActionCreate:
			s.Creates++
		case ActionUpdate:
			s.Updates++
		case ActionDelete:
			s.Deletes++
		case ActionNoop:
			s.Noops++
		}
	}
	return s
}

// HasMutations reports whether the change set contains any non-NOOP change.
func (cs *ChangeSet) HasMutations() bool {
	return cs.Summary().Total() > 0
}

// Options control a plan execution run.
type Options struct {
	Mode         Mode
	DryRun       bool
	AllowDeletes bool
	Parallelism  int
	OpTimeout    time.Duration

	// Strict halts the run on the first failed operation instead of
	// continuing with the remainder of the level.
	Strict bool

	// AutoRollback restores the pre-apply snapshot when any operation
	// fails. Requires a Snapshotter on the executor.
	AutoRollback bool

	// BackupEnabled captures a snapshot before the first mutating call
	// when the change set contains updates or deletes.
	BackupEnabled     bool
	BackupDescription string
	BackupAuthor      string
}

// OperationResult is the outcome of one change in an apply run.
type OperationResult struct {
	Change    Change        `json:"change" yaml:"change"`
	Status    Status        `json:"status" yaml:"status"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	AppliedID string        `json:"applied_id,omitempty" yaml:"applied_id,omitempty"`
}

// ReportSummary counts operation results by status.
type ReportSummary struct {
	Applied    int `json:"applied" yaml:"applied"`
	Skipped    int `json:"skipped" yaml:"skipped"`
	Planned    int `json:"planned" yaml:"planned"`
	Failed     int `json:"failed" yaml:"failed"`
	RolledBack int `json:"rolled_back" yaml:"rolled_back"`
}

// ApplyReport is the full record of an apply run.
type ApplyReport struct {
	RunID       string            `json:"run_id" yaml:"run_id"`
	Domain      string            `json:"domain" yaml:"domain"`
	Environment string            `json:"environment,omitempty" yaml:"environment,omitempty"`
	Mode        Mode              `json:"mode" yaml:"mode"`
	DryRun      bool              `json:"dry_run" yaml:"dry_run"`
	Results     []OperationResult `json:"results" yaml:"results"`
	Summary     ReportSummary     `json:"summary" yaml:"summary"`
	SnapshotID  string            `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
	StartedAt   time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time         `json:"finished_at" yaml:"finished_at"`
}

// Succeeded reports whether the run finished with no failed operations.
func (r *ApplyReport) Succeeded() bool {
	return r.Summary.Failed == 0
}

// Snapshot is a point-in-time copy of a domain's remote records.
type Snapshot struct {
	ID          string            `json:"id" yaml:"id"`
	Domain      string            `json:"domain" yaml:"domain"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string            `json:"author,omitempty" yaml:"author,omitempty"`
	Records     []provider.Record `json:"records" yaml:"records"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
}

// Snapshotter captures domain state before mutating runs. The backup
// package provides the durable implementation.
type Snapshotter interface {
	Capture(ctx context.Context, domain, description, author string) (Snapshot, error)
}

// Gate evaluates a change set against safety policies before any
// mutation is issued. A denial carries ErrCodePolicyDenied.
type Gate interface {
	Check(ctx context.Context, cs *ChangeSet, opts Options) error
}
