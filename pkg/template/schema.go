package template

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/zonecraft/zonecraft/pkg/engine"
)

// templateSchema is the structural contract every loaded template must
// satisfy after shape normalization. Record values stay loose strings
// because they may still contain ${variable} references at this stage.
const templateSchema = `
#Record: {
	id?:          string & =~"^[a-zA-Z0-9._-]+$"
	type:         string & =~"^[A-Z]+$"
	name:         string
	value:        string
	ttl?:         int | string
	priority?:    int
	weight?:      int
	port?:        int
	depends_on?:  [...string]
	condition?:   string
	description?: string
}

#Environment: {
	variables?: {[string]: string | int | bool}
	records?:   {[string]: [...#Record]}
}

#Template: {
	metadata: {
		name?:        string
		version:      string
		description?: string
		author?:      string
		tags?:        [...string]
	}
	inherit?:      [...string]
	variables?:    {[string]: string | int | bool}
	records:       {[string]: [...#Record]}
	environments?: {[string]: #Environment}
	settings?: {
		backup?: {
			enabled?:        bool
			directory?:      string
			retention_days?: int & >=0
		}
		rollback?: {
			enabled?:     bool
			automatic?:   bool
			max_changes?: int & >=0
		}
		validation?: {
			strict?:         bool
			ttl_min?:        int & >=0
			ttl_max?:        int & >=0
			max_txt_length?: int & >=0
		}
	}
}
`

// schemaChecker validates normalized template documents against the
// compiled CUE schema.
type schemaChecker struct {
	ctx    *cue.Context
	schema cue.Value
}

func newSchemaChecker() *schemaChecker {
	ctx := cuecontext.New()
	return &schemaChecker{
		ctx:    ctx,
		schema: ctx.CompileString(templateSchema).LookupPath(cue.ParsePath("#Template")),
	}
}

// Check unifies the document with the template schema and reports the
// first structural violation.
func (sc *schemaChecker) Check(doc interface{}) error {
	val := sc.ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return engine.NewError(engine.ErrCodeSchema, "cannot encode template document").WithCause(err)
	}

	unified := sc.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		detail := cueerrors.Details(err, nil)
		return engine.NewError(engine.ErrCodeSchema, "template does not match schema: "+detail)
	}
	return nil
}
