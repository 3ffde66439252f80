// Package validate performs semantic validation of resolved templates:
// per-type record checks through a dispatch table, plus cross-record
// rules for dependencies, CNAME conflicts, and MX priorities. All
// detectable problems are collected in one pass; validation never stops
// at the first failure.
package validate

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
)

// Severity classifies an issue. Warnings do not fail validation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Code     string   `json:"code" yaml:"code"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
	Path     string   `json:"path" yaml:"path"`
}

// Result aggregates every issue found in a template.
type Result struct {
	Valid  bool    `json:"valid" yaml:"valid"`
	Issues []Issue `json:"issues" yaml:"issues"`
}

// Errors returns only the error-severity issues.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// Warnings returns only the warning-severity issues.
func (r *Result) Warnings() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityWarning {
			out = append(out, is)
		}
	}
	return out
}

// checkFunc validates one record of a given type under the template's
// validation settings.
type checkFunc func(rec template.Record, settings template.ValidationSettings, path string) []Issue

// Validator checks resolved templates. TTL bounds and the TXT length
// limit come from the template's validation settings.
type Validator struct {
	checks map[string]checkFunc
}

// New creates a validator with the full per-type check table.
func New() *Validator {
	v := &Validator{}
	v.checks = map[string]checkFunc{
		"A":     checkA,
		"AAAA":  checkAAAA,
		"CNAME": checkHostnameValue,
		"NS":    checkHostnameValue,
		"MX":    checkMX,
		"TXT":   checkTXT,
		"SRV":   checkSRV,
		"CAA":   checkCAA,
		"PTR":   checkPTR,
		"SOA":   checkSOA,
	}
	return v
}

// Validate checks every record of a resolved template and the
// cross-record dependency rules.
func (v *Validator) Validate(tpl *template.Template) *Result {
	res := &Result{Valid: true}
	settings := tpl.Settings.Validation

	types := make([]string, 0, len(tpl.Records))
	for typ := range tpl.Records {
		types = append(types, typ)
	}
	sort.Strings(types)

	seenIDs := make(map[string]string)
	var depNodes []engine.DepNode

	for _, typ := range types {
		check, known := v.checks[typ]
		for i, rec := range tpl.Records[typ] {
			path := fmt.Sprintf("records.%s[%d]", typ, i)

			if !known {
				res.Issues = append(res.Issues, Issue{
					Code:     "UNKNOWN_TYPE",
					Severity: SeverityError,
					Message:  fmt.Sprintf("unsupported record type %q", typ),
					Path:     path,
				})
				continue
			}

			res.Issues = append(res.Issues, checkTTL(rec, settings, path)...)
			res.Issues = append(res.Issues, check(rec, settings, path)...)

			if rec.ID != "" {
				if prev, dup := seenIDs[rec.ID]; dup {
					res.Issues = append(res.Issues, Issue{
						Code:     "DUPLICATE_ID",
						Severity: SeverityError,
						Message:  fmt.Sprintf("record id %q already used at %s", rec.ID, prev),
						Path:     path,
					})
				} else {
					seenIDs[rec.ID] = path
				}
			}

			nodeID := rec.ID
			if nodeID == "" {
				nodeID = path
			}
			depNodes = append(depNodes, engine.DepNode{
				ID:        nodeID,
				DependsOn: rec.DependsOn,
				Path:      path,
			})
		}
	}

	res.Issues = append(res.Issues, checkDependencies(depNodes)...)
	res.Issues = append(res.Issues, checkCNAMEConflicts(tpl)...)
	res.Issues = append(res.Issues, checkMXPriorities(tpl)...)

	for _, is := range res.Issues {
		if is.Severity == SeverityError {
			res.Valid = false
			break
		}
	}
	return res
}

// checkTTL verifies the ttl field parses and lies in the configured range.
func checkTTL(rec template.Record, settings template.ValidationSettings, path string) []Issue {
	if rec.TTL.IsZero() {
		return nil
	}
	ttl, err := rec.TTL.Int()
	if err != nil {
		return []Issue{{
			Code:     "INVALID_TTL",
			Severity: SeverityError,
			Message:  fmt.Sprintf("ttl %q is not an integer", rec.TTL),
			Path:     path + ".ttl",
		}}
	}
	if ttl < settings.TTLMin || ttl > settings.TTLMax {
		return []Issue{{
			Code:     "INVALID_TTL",
			Severity: SeverityError,
			Message:  fmt.Sprintf("ttl %d outside allowed range [%d, %d]", ttl, settings.TTLMin, settings.TTLMax),
			Path:     path + ".ttl",
		}}
	}
	return nil
}

func checkA(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	ip := net.ParseIP(rec.Value)
	if ip == nil || ip.To4() == nil || !strings.Contains(rec.Value, ".") {
		return []Issue{{
			Code:     "INVALID_IP",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%q is not a valid IPv4 address", rec.Value),
			Path:     path + ".value",
		}}
	}
	return nil
}

func checkAAAA(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	ip := net.ParseIP(rec.Value)
	if ip == nil || !strings.Contains(rec.Value, ":") {
		return []Issue{{
			Code:     "INVALID_IP",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%q is not a valid IPv6 address", rec.Value),
			Path:     path + ".value",
		}}
	}
	return nil
}

func checkHostnameValue(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	if !validHostname(rec.Value) {
		return []Issue{{
			Code:     "INVALID_HOSTNAME",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%q is not a valid hostname", rec.Value),
			Path:     path + ".value",
		}}
	}
	return nil
}

func checkMX(rec template.Record, settings template.ValidationSettings, path string) []Issue {
	issues := checkHostnameValue(rec, settings, path)
	if rec.Priority == nil {
		issues = append(issues, Issue{
			Code:     "INVALID_PRIORITY",
			Severity: SeverityError,
			Message:  "MX record requires a priority",
			Path:     path + ".priority",
		})
	} else if *rec.Priority < 0 || *rec.Priority > 65535 {
		issues = append(issues, Issue{
			Code:     "INVALID_PRIORITY",
			Severity: SeverityError,
			Message:  fmt.Sprintf("priority %d outside [0, 65535]", *rec.Priority),
			Path:     path + ".priority",
		})
	}
	return issues
}

func checkTXT(rec template.Record, settings template.ValidationSettings, path string) []Issue {
	limit := settings.MaxTXTLength
	if limit <= 0 {
		limit = 2048
	}
	if len(rec.Value) > limit {
		return []Issue{{
			Code:     "TXT_TOO_LONG",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("TXT value length %d exceeds provider limit %d", len(rec.Value), limit),
			Path:     path + ".value",
		}}
	}
	return nil
}

func checkSRV(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	tokens := strings.Fields(rec.Value)
	if len(tokens) != 4 {
		return []Issue{{
			Code:     "INVALID_SRV",
			Severity: SeverityError,
			Message:  fmt.Sprintf("SRV value must be \"priority weight port target\", got %d tokens", len(tokens)),
			Path:     path + ".value",
		}}
	}
	var issues []Issue
	names := []string{"priority", "weight", "port"}
	for i, field := range names {
		n, err := strconv.Atoi(tokens[i])
		if err != nil || n < 0 || n > 65535 {
			issues = append(issues, Issue{
				Code:     "INVALID_SRV",
				Severity: SeverityError,
				Message:  fmt.Sprintf("SRV %s %q outside [0, 65535]", field, tokens[i]),
				Path:     path + ".value",
			})
		}
	}
	if !validHostname(tokens[3]) {
		issues = append(issues, Issue{
			Code:     "INVALID_SRV",
			Severity: SeverityError,
			Message:  fmt.Sprintf("SRV target %q is not a valid hostname", tokens[3]),
			Path:     path + ".value",
		})
	}
	return issues
}

var caaPattern = regexp.MustCompile(`^(\d+)\s+(\S+)\s+"(.*)"$`)

func checkCAA(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	m := caaPattern.FindStringSubmatch(rec.Value)
	if m == nil {
		return []Issue{{
			Code:     "INVALID_CAA",
			Severity: SeverityError,
			Message:  `CAA value must be '<flag> <tag> "<value>"'`,
			Path:     path + ".value",
		}}
	}
	var issues []Issue
	if flag, err := strconv.Atoi(m[1]); err != nil || flag < 0 || flag > 255 {
		issues = append(issues, Issue{
			Code:     "INVALID_CAA",
			Severity: SeverityError,
			Message:  fmt.Sprintf("CAA flag %q outside [0, 255]", m[1]),
			Path:     path + ".value",
		})
	}
	switch m[2] {
	case "issue", "issuewild", "iodef":
	default:
		issues = append(issues, Issue{
			Code:     "INVALID_CAA",
			Severity: SeverityError,
			Message:  fmt.Sprintf("CAA tag %q must be issue, issuewild, or iodef", m[2]),
			Path:     path + ".value",
		})
	}
	return issues
}

func checkPTR(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	name := strings.TrimSuffix(rec.Name, ".")
	if !strings.HasSuffix(name, "in-addr.arpa") && !strings.HasSuffix(name, "ip6.arpa") {
		return []Issue{{
			Code:     "INVALID_PTR_NAME",
			Severity: SeverityError,
			Message:  "PTR name must end in in-addr.arpa or ip6.arpa",
			Path:     path + ".name",
		}}
	}
	return nil
}

func checkSOA(rec template.Record, _ template.ValidationSettings, path string) []Issue {
	tokens := strings.Fields(rec.Value)
	if len(tokens) < 5 {
		return []Issue{{
			Code:     "INVALID_SOA",
			Severity: SeverityError,
			Message:  "SOA value must end with five numeric fields (serial refresh retry expire minimum)",
			Path:     path + ".value",
		}}
	}
	var issues []Issue
	for _, tok := range tokens[len(tokens)-5:] {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 {
			issues = append(issues, Issue{
				Code:     "INVALID_SOA",
				Severity: SeverityError,
				Message:  fmt.Sprintf("SOA field %q must be a non-negative integer", tok),
				Path:     path + ".value",
			})
		}
	}
	return issues
}

// checkDependencies verifies depends_on references resolve and that the
// induced graph is acyclic.
func checkDependencies(nodes []engine.DepNode) []Issue {
	if len(nodes) == 0 {
		return nil
	}
	graph := engine.BuildGraph(nodes)

	var issues []Issue
	for _, ref := range graph.MissingReferences() {
		issues = append(issues, Issue{
			Code:     engine.ErrCodeDependencyRef,
			Severity: SeverityError,
			Message:  fmt.Sprintf("record %q depends on unknown record %q", ref.From, ref.Target),
			Path:     ref.Path,
		})
	}
	if _, cycle := graph.Levels(); cycle != nil {
		issues = append(issues, Issue{
			Code:     engine.ErrCodeDependencyCycle,
			Severity: SeverityError,
			Message:  "dependency cycle involving records: " + strings.Join(cycle, ", "),
			Path:     "records",
		})
	}
	return issues
}

// checkCNAMEConflicts flags a CNAME sharing its name with any other
// record; DNS forbids CNAME coexistence at a node.
func checkCNAMEConflicts(tpl *template.Template) []Issue {
	names := make(map[string][]string)
	for typ, recs := range tpl.Records {
		for i, rec := range recs {
			names[rec.Name] = append(names[rec.Name], fmt.Sprintf("%s:records.%s[%d]", typ, typ, i))
		}
	}
	var issues []Issue
	for i, rec := range tpl.Records["CNAME"] {
		if len(names[rec.Name]) > 1 {
			issues = append(issues, Issue{
				Code:     "CNAME_CONFLICT",
				Severity: SeverityError,
				Message:  fmt.Sprintf("CNAME %q coexists with other records at the same name", rec.Name),
				Path:     fmt.Sprintf("records.CNAME[%d]", i),
			})
		}
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues
}

// checkMXPriorities warns when two MX records at the same name share a
// priority.
func checkMXPriorities(tpl *template.Template) []Issue {
	seen := make(map[string]bool)
	var issues []Issue
	for i, rec := range tpl.Records["MX"] {
		if rec.Priority == nil {
			continue
		}
		key := fmt.Sprintf("%s/%d", rec.Name, *rec.Priority)
		if seen[key] {
			issues = append(issues, Issue{
				Code:     "DUPLICATE_MX_PRIORITY",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("MX %q has duplicate priority %d", rec.Name, *rec.Priority),
				Path:     fmt.Sprintf("records.MX[%d]", i),
			})
			continue
		}
		seen[key] = true
	}
	return issues
}

var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9_]([a-zA-Z0-9_-]*[a-zA-Z0-9_])?$`)

// validHostname checks DNS hostname syntax: labels of at most 63
// characters, 253 total, no leading or trailing hyphen per label.
func validHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return true
}
