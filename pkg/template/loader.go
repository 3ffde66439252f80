package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zonecraft/zonecraft/pkg/engine"
)

// recordTypes are the DNS record types recognized as canonical group keys.
var recordTypes = map[string]bool{
	"A": true, "AAAA": true, "CNAME": true, "MX": true, "TXT": true,
	"SRV": true, "CAA": true, "NS": true, "SOA": true, "PTR": true,
}

// Loader parses template files into the canonical model. It accepts the
// historical alternate shapes (custom_vars wrappers, purpose-grouped
// records) and normalizes them, resolves inherit chains, and checks the
// result against the CUE schema. It performs no variable substitution
// and no semantic record validation.
type Loader struct {
	schema   *schemaChecker
	validate *validator.Validate
}

// NewLoader creates a template loader.
func NewLoader() *Loader {
	return &Loader{
		schema:   newSchemaChecker(),
		validate: validator.New(),
	}
}

// Load reads and parses the template at path, following inherit chains
// relative to the file's directory.
func (l *Loader) Load(path string) (*Template, error) {
	return l.load(path, make(map[string]bool))
}

// LoadLocal parses the template at path without resolving its inherit
// chain or filling settings defaults. This is the writable form: Save
// on the result preserves the document's own sections instead of the
// flattened merge.
func (l *Loader) LoadLocal(path string) (*Template, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeSchema, "cannot resolve template path").WithPath(path).WithCause(err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewError(engine.ErrCodeNotFound, "template file not found").WithPath(path)
		}
		return nil, engine.NewError(engine.ErrCodeParse, "cannot read template file").WithPath(path).WithCause(err)
	}
	t, err := l.parseDoc(data, filepath.Dir(abs), path, make(map[string]bool), false)
	if err != nil {
		return nil, err
	}
	t.Path = path
	return t, nil
}

// Parse parses raw template bytes. Inherited parents are resolved
// relative to baseDir.
func (l *Loader) Parse(data []byte, baseDir string) (*Template, error) {
	return l.parseDoc(data, baseDir, "", make(map[string]bool), true)
}

func (l *Loader) load(path string, visiting map[string]bool) (*Template, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeSchema, "cannot resolve template path").WithPath(path).WithCause(err)
	}
	if visiting[abs] {
		return nil, engine.NewError(engine.ErrCodeSchema, "inherit cycle detected").WithPath(path)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewError(engine.ErrCodeNotFound, "template file not found").WithPath(path)
		}
		return nil, engine.NewError(engine.ErrCodeParse, "cannot read template file").WithPath(path).WithCause(err)
	}

	t, err := l.parseDoc(data, filepath.Dir(abs), path, visiting, true)
	if err != nil {
		return nil, err
	}
	t.Path = path
	return t, nil
}

// rawTemplate is the permissive decode target used before shape
// normalization. Variables are kept as nodes so both flat scalars and
// {value, description} wrappers can be handled.
type rawTemplate struct {
	Metadata     Metadata                  `yaml:"metadata"`
	Inherit      StringList                `yaml:"inherit"`
	Variables    yaml.Node                 `yaml:"variables"`
	CustomVars   yaml.Node                 `yaml:"custom_vars"`
	Records      map[string][]Record       `yaml:"records"`
	Environments map[string]rawEnvironment `yaml:"environments"`
	Settings     *rawSettings              `yaml:"settings"`
}

// rawSettings keeps sections as pointers so a document writing only
// one section does not zero out the others.
type rawSettings struct {
	Backup     *BackupSettings     `yaml:"backup"`
	Rollback   *RollbackSettings   `yaml:"rollback"`
	Validation *ValidationSettings `yaml:"validation"`
}

type rawEnvironment struct {
	Variables  yaml.Node           `yaml:"variables"`
	CustomVars yaml.Node           `yaml:"custom_vars"`
	Records    map[string][]Record `yaml:"records"`
}

func (l *Loader) parseDoc(data []byte, baseDir, path string, visiting map[string]bool, resolve bool) (*Template, error) {
	// A first pass into a generic map separates serialization errors
	// from shape errors.
	var probe map[string]interface{}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, engine.NewError(engine.ErrCodeParse, "malformed template document").WithPath(path).WithCause(err)
	}
	if probe == nil {
		return nil, engine.NewError(engine.ErrCodeSchema, "template document is empty").WithPath(path)
	}
	if _, ok := probe["metadata"]; !ok {
		return nil, engine.NewError(engine.ErrCodeSchema, "missing required section: metadata").WithPath(path)
	}

	var raw rawTemplate
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, engine.NewError(engine.ErrCodeSchema, "template section has wrong shape").WithPath(path).WithCause(err)
	}

	if raw.Records == nil && len(raw.Inherit) == 0 {
		if node, ok := probe["records"]; ok {
			return nil, engine.NewError(engine.ErrCodeSchema,
				fmt.Sprintf("records must be a mapping of groups, got %T", node)).WithPath(path)
		}
		return nil, engine.NewError(engine.ErrCodeSchema, "missing required section: records").WithPath(path)
	}

	t := &Template{
		Metadata: raw.Metadata,
		Inherit:  raw.Inherit,
	}

	vars, err := normalizeVariables(&raw.Variables, path)
	if err != nil {
		return nil, err
	}
	custom, err := normalizeVariables(&raw.CustomVars, path)
	if err != nil {
		return nil, err
	}
	for k, v := range custom {
		vars[k] = v
	}
	if len(vars) > 0 {
		t.Variables = vars
	}

	t.Records, err = normalizeRecords(raw.Records, path)
	if err != nil {
		return nil, err
	}

	if len(raw.Environments) > 0 {
		t.Environments = make(map[string]Environment, len(raw.Environments))
		for name, rawEnv := range raw.Environments {
			envVars, err := normalizeVariables(&rawEnv.Variables, path)
			if err != nil {
				return nil, err
			}
			envCustom, err := normalizeVariables(&rawEnv.CustomVars, path)
			if err != nil {
				return nil, err
			}
			for k, v := range envCustom {
				envVars[k] = v
			}
			envRecs, err := normalizeRecords(rawEnv.Records, path)
			if err != nil {
				return nil, err
			}
			t.Environments[name] = Environment{Variables: envVars, Records: envRecs}
		}
	}

	if raw.Settings != nil {
		if raw.Settings.Backup != nil {
			t.Settings.Backup = *raw.Settings.Backup
			t.settingsSet.backup = true
		}
		if raw.Settings.Rollback != nil {
			t.Settings.Rollback = *raw.Settings.Rollback
			t.settingsSet.rollback = true
		}
		if raw.Settings.Validation != nil {
			t.Settings.Validation = *raw.Settings.Validation
			t.settingsSet.validation = true
		}
	}

	if !resolve {
		if err := l.validate.Struct(t); err != nil {
			return nil, engine.NewError(engine.ErrCodeSchema, "template failed structural validation").WithPath(path).WithCause(err)
		}
		return t, nil
	}

	// Resolve inheritance before schema checks so that a child that
	// only overrides variables still validates as a complete template.
	if len(t.Inherit) > 0 {
		var base *Template
		for _, parent := range t.Inherit {
			parentPath := parent
			if !filepath.IsAbs(parentPath) {
				parentPath = filepath.Join(baseDir, parentPath)
			}
			pt, err := l.load(parentPath, visiting)
			if err != nil {
				return nil, err
			}
			base = merge(base, pt)
		}
		t = merge(base, t)
		t.Inherit = nil
	}

	applySettingsDefaults(t)

	if err := l.validate.Struct(t); err != nil {
		return nil, engine.NewError(engine.ErrCodeSchema, "template failed structural validation").WithPath(path).WithCause(err)
	}
	if err := l.schema.Check(t); err != nil {
		if e, ok := err.(*engine.Error); ok {
			return nil, e.WithPath(path)
		}
		return nil, err
	}
	return t, nil
}

// normalizeVariables flattens a variables mapping. Values may be plain
// scalars or {value: ..., description: ...} wrapper objects.
func normalizeVariables(node *yaml.Node, path string) (map[string]string, error) {
	out := make(map[string]string)
	if node.Kind == 0 || node.Kind == yaml.ScalarNode && node.Value == "" {
		return out, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, engine.NewError(engine.ErrCodeSchema,
			fmt.Sprintf("variables must be a mapping (line %d)", node.Line)).WithPath(path)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		val := node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			out[key.Value] = val.Value
		case yaml.MappingNode:
			wrapped := false
			for j := 0; j+1 < len(val.Content); j += 2 {
				if val.Content[j].Value == "value" && val.Content[j+1].Kind == yaml.ScalarNode {
					out[key.Value] = val.Content[j+1].Value
					wrapped = true
					break
				}
			}
			if !wrapped {
				return nil, engine.NewError(engine.ErrCodeSchema,
					fmt.Sprintf("variable %q: wrapper object has no scalar value field (line %d)", key.Value, val.Line)).WithPath(path)
			}
		default:
			return nil, engine.NewError(engine.ErrCodeSchema,
				fmt.Sprintf("variable %q must be a scalar or wrapper object (line %d)", key.Value, val.Line)).WithPath(path)
		}
	}
	return out, nil
}

// normalizeRecords regroups records by DNS type. Group keys that are
// record types stamp their type onto entries; any other key is a
// purpose group whose entries must carry an explicit type.
func normalizeRecords(groups map[string][]Record, path string) (map[string][]Record, error) {
	if groups == nil {
		return nil, nil
	}
	out := make(map[string][]Record, len(groups))
	for key, recs := range groups {
		keyType := strings.ToUpper(key)
		typed := recordTypes[keyType]
		for i, rec := range recs {
			switch {
			case rec.Type != "":
				rec.Type = strings.ToUpper(rec.Type)
			case typed:
				rec.Type = keyType
			default:
				return nil, engine.NewError(engine.ErrCodeSchema,
					fmt.Sprintf("records.%s[%d]: group key is not a record type and entry has no type field", key, i)).WithPath(path)
			}
			out[rec.Type] = append(out[rec.Type], rec)
		}
	}
	return out, nil
}

// applySettingsDefaults fills the sections a document did not write
// with defaults, and numeric zeros inside written sections.
func applySettingsDefaults(t *Template) {
	def := DefaultSettings()
	if !t.settingsSet.backup {
		t.Settings.Backup = def.Backup
	}
	if !t.settingsSet.rollback {
		t.Settings.Rollback = def.Rollback
	}
	if !t.settingsSet.validation {
		t.Settings.Validation = def.Validation
	}
	if t.Settings.Backup.RetentionDays == 0 {
		t.Settings.Backup.RetentionDays = def.Backup.RetentionDays
	}
	if t.Settings.Validation.TTLMin == 0 {
		t.Settings.Validation.TTLMin = def.Validation.TTLMin
	}
	if t.Settings.Validation.TTLMax == 0 {
		t.Settings.Validation.TTLMax = def.Validation.TTLMax
	}
	if t.Settings.Validation.MaxTXTLength == 0 {
		t.Settings.Validation.MaxTXTLength = def.Validation.MaxTXTLength
	}
}

// merge overlays child on top of base. Variables override per name,
// records per record id; records without ids accumulate.
func merge(base, child *Template) *Template {
	if base == nil {
		return child.Clone()
	}
	out := base.Clone()

	if child.Metadata.Version != "" {
		out.Metadata.Version = child.Metadata.Version
	}
	if child.Metadata.Name != "" {
		out.Metadata.Name = child.Metadata.Name
	}
	if child.Metadata.Description != "" {
		out.Metadata.Description = child.Metadata.Description
	}
	if child.Metadata.Author != "" {
		out.Metadata.Author = child.Metadata.Author
	}
	if len(child.Metadata.Tags) > 0 {
		out.Metadata.Tags = append([]string(nil), child.Metadata.Tags...)
	}

	if len(child.Variables) > 0 {
		if out.Variables == nil {
			out.Variables = make(map[string]string)
		}
		for k, v := range child.Variables {
			out.Variables[k] = v
		}
	}

	out.Records = OverlayRecords(out.Records, child.Records)

	if len(child.Environments) > 0 {
		if out.Environments == nil {
			out.Environments = make(map[string]Environment)
		}
		for name, env := range child.Environments {
			baseEnv := out.Environments[name]
			if len(env.Variables) > 0 {
				if baseEnv.Variables == nil {
					baseEnv.Variables = make(map[string]string)
				}
				for k, v := range env.Variables {
					baseEnv.Variables[k] = v
				}
			}
			baseEnv.Records = OverlayRecords(baseEnv.Records, env.Records)
			out.Environments[name] = baseEnv
		}
	}

	if child.settingsSet.backup {
		out.Settings.Backup = child.Settings.Backup
		out.settingsSet.backup = true
	}
	if child.settingsSet.rollback {
		out.Settings.Rollback = child.Settings.Rollback
		out.settingsSet.rollback = true
	}
	if child.settingsSet.validation {
		out.Settings.Validation = child.Settings.Validation
		out.settingsSet.validation = true
	}
	return out
}

// OverlayRecords overlays child records on base. A child record whose id
// matches a base record replaces it in place; all others append.
func OverlayRecords(base, child map[string][]Record) map[string][]Record {
	if len(child) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string][]Record)
	}
	for typ, recs := range child {
		for _, rec := range recs {
			if rec.ID != "" && replaceByID(base, rec) {
				continue
			}
			base[typ] = append(base[typ], rec)
		}
	}
	return base
}

func replaceByID(groups map[string][]Record, rec Record) bool {
	for typ, recs := range groups {
		for i := range recs {
			if recs[i].ID == rec.ID {
				if typ == rec.Type {
					recs[i] = rec
					return true
				}
				// Type changed; move the record to its new group.
				groups[typ] = append(recs[:i], recs[i+1:]...)
				groups[rec.Type] = append(groups[rec.Type], rec)
				return true
			}
		}
	}
	return false
}

// Marshal renders a template in the canonical shape.
func Marshal(t *Template) ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeInternal, "cannot marshal template").WithCause(err)
	}
	return data, nil
}

// Save writes a template to path in the canonical shape.
func Save(t *Template, path string) error {
	data, err := Marshal(t)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return engine.NewError(engine.ErrCodeInternal, "cannot write template file").WithPath(path).WithCause(err)
	}
	return nil
}
