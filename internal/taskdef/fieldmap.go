package taskdef

import (
	"fmt"

	"kidscreen/internal/model"
)

// FieldRef maps one canonical field name to its source-specific identifiers
// (a form-API QID on the primary side, a survey export column on the
// secondary side).
type FieldRef struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// FieldMap is the static field-name translation table. Required names must
// be present with both source identifiers; loading fails fast otherwise.
type FieldMap struct {
	Required []string            `yaml:"required"`
	Fields   map[string]FieldRef `yaml:"fields"`
}

func (m FieldMap) validate() error {
	required := m.Required
	if len(required) == 0 {
		required = []string{model.FieldStudentID, model.FieldSessionKey}
	}
	for _, name := range required {
		ref, ok := m.Fields[name]
		if !ok {
			return fmt.Errorf("field map missing required field %q", name)
		}
		if ref.Primary == "" || ref.Secondary == "" {
			return fmt.Errorf("field map entry %q missing a source identifier", name)
		}
	}
	return nil
}

// Index returns source-identifier -> canonical-name for one source kind.
func (m FieldMap) Index(kind model.SourceKind) map[string]string {
	idx := make(map[string]string, len(m.Fields))
	for canonical, ref := range m.Fields {
		switch kind {
		case model.SourcePrimary:
			if ref.Primary != "" {
				idx[ref.Primary] = canonical
			}
		case model.SourceSecondary:
			if ref.Secondary != "" {
				idx[ref.Secondary] = canonical
			}
		}
	}
	return idx
}

// Translate rewrites a raw field mapping into canonical names. Fields with
// no mapping entry pass through under their native name.
func (m FieldMap) Translate(kind model.SourceKind, raw map[string]string) map[string]string {
	idx := m.Index(kind)
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		if canonical, ok := idx[name]; ok {
			out[canonical] = value
			continue
		}
		out[name] = value
	}
	return out
}
