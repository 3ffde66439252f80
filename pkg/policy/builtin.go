package policy

import (
	"time"
)

// BuiltinPolicies returns the safety policies compiled into the binary.
// They guard against the plan shapes most likely to take a zone down.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedRecordTypesPolicy(),
		apexGuardPolicy(),
		deletionBudgetPolicy(),
		lowTTLPolicy(),
	}
}

// protectedRecordTypesPolicy blocks deletion of delegation and
// authority records.
func protectedRecordTypesPolicy() Policy {
	return Policy{
		Name:        "protected-record-types",
		Description: "Blocks deletion of NS and SOA records",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "delegation"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package zonecraft.policies.protected

import rego.v1

protected_types := {"NS", "SOA"}

deny contains violation if {
	input.change
	change := input.change
	change.action == "DELETE"
	protected_types[change.record.type]
	violation := {
		"message": sprintf("deleting %s record '%s' is not allowed", [change.record.type, change.record.name]),
		"severity": "error",
		"record": sprintf("%s/%s", [change.record.type, change.record.name]),
	}
}
`,
	}
}

// apexGuardPolicy blocks deletion of address records at the zone apex.
func apexGuardPolicy() Policy {
	return Policy{
		Name:        "apex-guard",
		Description: "Blocks deletion of A and AAAA records at the zone apex",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "apex"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package zonecraft.policies.apex

import rego.v1

address_types := {"A", "AAAA"}

apex_names contains "@"

apex_names contains name if {
	name := input.plan.domain
}

deny contains violation if {
	input.change
	change := input.change
	change.action == "DELETE"
	address_types[change.record.type]
	apex_names[change.record.name]
	violation := {
		"message": sprintf("deleting apex %s record for %s is not allowed", [change.record.type, input.plan.domain]),
		"severity": "error",
		"record": sprintf("%s/%s", [change.record.type, change.record.name]),
	}
}
`,
	}
}

// deletionBudgetPolicy caps how much of a plan may consist of deletes.
func deletionBudgetPolicy() Policy {
	return Policy{
		Name:        "deletion-budget",
		Description: "Blocks plans that delete more than 25 records or where deletes outnumber all other changes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "budget"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package zonecraft.policies.budget

import rego.v1

max_deletes := 25

deny contains violation if {
	not input.change
	input.plan.deletes > max_deletes
	violation := {
		"message": sprintf("plan deletes %d records, budget is %d", [input.plan.deletes, max_deletes]),
		"severity": "error",
	}
}

deny contains violation if {
	not input.change
	input.plan.total > 4
	input.plan.deletes * 2 > input.plan.total
	violation := {
		"message": sprintf("plan is mostly deletions (%d of %d changes)", [input.plan.deletes, input.plan.total]),
		"severity": "error",
	}
}
`,
	}
}

// lowTTLPolicy flags records created or updated with very short TTLs.
func lowTTLPolicy() Policy {
	return Policy{
		Name:        "low-ttl",
		Description: "Warns when a record is written with a TTL below 30 seconds",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene", "ttl"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package zonecraft.policies.ttl

import rego.v1

write_actions := {"CREATE", "UPDATE"}

deny contains violation if {
	input.change
	change := input.change
	write_actions[change.action]
	change.record.ttl < 30
	violation := {
		"message": sprintf("record '%s' has TTL %d, below the recommended minimum of 30", [change.record.name, change.record.ttl]),
		"severity": "warning",
		"record": sprintf("%s/%s", [change.record.type, change.record.name]),
	}
}
`,
	}
}
