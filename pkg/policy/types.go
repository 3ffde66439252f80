package policy

import (
	"encoding/json"
	"time"

	"github.com/zonecraft/zonecraft/pkg/engine"
)

// Severity ranks how seriously a violation should be treated.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do
	// not block the run.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block the run.
	SeverityError Severity = "error"
)

// Policy is a safety rule expressed in Rego.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description is a human-readable summary of what the policy
	// enforces.
	Description string `json:"description"`

	// Rego holds the policy source. Its deny rule is queried during
	// evaluation.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy participates in checks.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata carries additional policy metadata such as the source
	// file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single policy finding against a planned change or a
// plan as a whole.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Record identifies the offending record as "TYPE/name" when the
	// finding is tied to a single change.
	Record string `json:"record,omitempty"`

	// Message is the human-readable finding.
	Message string `json:"message"`

	// Severity is the finding's severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the finding was produced.
	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating all loaded policies against a
// plan.
type Result struct {
	// Allowed is false when any finding carries error severity.
	Allowed bool `json:"allowed"`

	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies names the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Input is the document handed to Rego for each evaluation.
type Input struct {
	// Change is the single change under evaluation, nil for plan-level
	// evaluation.
	Change *ChangeInput `json:"change,omitempty"`

	// Plan summarizes the whole run and is always present.
	Plan *PlanInput `json:"plan"`

	// Context carries ambient evaluation context.
	Context *Context `json:"context"`
}

// ChangeInput is the per-change slice of the policy input.
type ChangeInput struct {
	Action   string          `json:"action"`
	Record   RecordInput     `json:"record"`
	Previous *RecordInput    `json:"previous,omitempty"`
	RecordID string          `json:"record_id,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// RecordInput is the record shape exposed to Rego.
type RecordInput struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
}

// PlanInput is the plan-level slice of the policy input.
type PlanInput struct {
	Domain       string `json:"domain"`
	Environment  string `json:"environment,omitempty"`
	Mode         string `json:"mode"`
	DryRun       bool   `json:"dry_run"`
	AllowDeletes bool   `json:"allow_deletes"`
	Creates      int    `json:"creates"`
	Updates      int    `json:"updates"`
	Deletes      int    `json:"deletes"`
	Total        int    `json:"total"`
}

// Context carries ambient information for policy evaluation.
type Context struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
}

// planInput builds the plan-level input from a change set and options.
func planInput(cs *engine.ChangeSet, opts engine.Options) *PlanInput {
	sum := cs.Summary()
	return &PlanInput{
		Domain:       cs.Domain,
		Environment:  cs.Environment,
		Mode:         string(opts.Mode),
		DryRun:       opts.DryRun,
		AllowDeletes: opts.AllowDeletes,
		Creates:      sum.Creates,
		Updates:      sum.Updates,
		Deletes:      sum.Deletes,
		Total:        sum.Total(),
	}
}

// changeInput builds the per-change input from an engine change.
func changeInput(c *engine.Change) *ChangeInput {
	in := &ChangeInput{
		Action: string(c.Action),
		Record: RecordInput{
			Type:     c.Record.Type,
			Name:     c.Record.Name,
			Value:    c.Record.Value,
			TTL:      c.Record.TTL,
			Priority: c.Record.Priority,
		},
		RecordID: c.RecordID,
	}
	if c.Previous != nil {
		in.Previous = &RecordInput{
			Type:     c.Previous.Type,
			Name:     c.Previous.Name,
			Value:    c.Previous.Value,
			TTL:      c.Previous.TTL,
			Priority: c.Previous.Priority,
		}
	}
	return in
}
