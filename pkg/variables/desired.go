package variables

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/provider"
)

// defaultTTL applies when neither the record nor the ttl variable
// provides one.
const defaultTTL = 3600

// DesiredRecords flattens the resolved template into the desired state
// the diff engine consumes. Records missing a ttl fall back to the ttl
// variable, then to the default.
func (r *Resolved) DesiredRecords() ([]engine.DesiredRecord, error) {
	fallback := defaultTTL
	if raw, ok := r.Values["ttl"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, engine.NewError(engine.ErrCodeValidation,
				fmt.Sprintf("ttl variable %q is not an integer", raw)).WithPath("variables.ttl")
		}
		fallback = n
	}

	types := make([]string, 0, len(r.Template.Records))
	for typ := range r.Template.Records {
		types = append(types, typ)
	}
	sort.Strings(types)

	var out []engine.DesiredRecord
	for _, typ := range types {
		for i, rec := range r.Template.Records[typ] {
			path := fmt.Sprintf("records.%s[%d]", typ, i)

			ttl := fallback
			if !rec.TTL.IsZero() {
				n, err := rec.TTL.Int()
				if err != nil {
					return nil, engine.NewError(engine.ErrCodeValidation,
						fmt.Sprintf("ttl %q is not an integer", rec.TTL)).WithPath(path + ".ttl")
				}
				ttl = n
			}

			var priority *int
			if rec.Priority != nil {
				p := *rec.Priority
				priority = &p
			}

			out = append(out, engine.DesiredRecord{
				Record: provider.Record{
					Type:     typ,
					Name:     rec.Name,
					Value:    rec.Value,
					TTL:      ttl,
					Priority: priority,
				},
				TemplateID: rec.ID,
				DependsOn:  rec.DependsOn,
				Path:       path,
			})
		}
	}
	return out, nil
}
