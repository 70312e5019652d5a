package engine

// FieldType drives accuracy validation in the quality scorer.
type FieldType string

// Supported field value types.
const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
	FieldTypeURL    FieldType = "url"
)

// TransformOp names one step in a field's transform pipeline. The set is
// closed: templates stay declarative, never executable.
type TransformOp string

// Supported transform operations.
const (
	TransformTrim          TransformOp = "trim"
	TransformRegexReplace  TransformOp = "regex_replace"
	TransformCast          TransformOp = "cast"
	TransformNormalizeUnit TransformOp = "normalize_unit"
	TransformLower         TransformOp = "lower"
	TransformUpper         TransformOp = "upper"
)

// Transform is one pure transformation applied to an extracted value.
type Transform struct {
	Op      TransformOp `json:"op" mapstructure:"op"`
	Pattern string      `json:"pattern,omitempty" mapstructure:"pattern"`
	Replace string      `json:"replace,omitempty" mapstructure:"replace"`
	Cast    FieldType   `json:"cast,omitempty" mapstructure:"cast"`
	Unit    string      `json:"unit,omitempty" mapstructure:"unit"`
}

// FieldSpec maps one output field to a selector and transform pipeline.
type FieldSpec struct {
	Name       string      `json:"name" mapstructure:"name"`
	Selector   string      `json:"selector" mapstructure:"selector"`
	Attr       string      `json:"attr,omitempty" mapstructure:"attr"`
	Type       FieldType   `json:"type,omitempty" mapstructure:"type"`
	Required   bool        `json:"required" mapstructure:"required"`
	Transforms []Transform `json:"transforms,omitempty" mapstructure:"transforms"`
}

// Template is a versioned, ordered extraction template. Templates referenced
// by a finished run are immutable; edits create a new version.
type Template struct {
	ID      string      `json:"id" mapstructure:"id"`
	Version int         `json:"version" mapstructure:"version"`
	Fields  []FieldSpec `json:"fields" mapstructure:"fields"`
}

// RequiredFields returns the names of required fields in template order.
func (t Template) RequiredFields() []string {
	var names []string
	for _, f := range t.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}
