package binding

import "sort"

// Role is the io role of a variable inside its owning scope.
type Role string

const (
	RoleInput    Role = "input"
	RoleOutput   Role = "output"
	RoleInternal Role = "internal"
)

// IsValid checks if the role is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleInput, RoleOutput, RoleInternal:
		return true
	default:
		return false
	}
}

// Schema describes the shape of an asset value.
type Schema struct {
	Type        string            `json:"type" yaml:"type"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	IsArray     bool              `json:"is_array,omitempty" yaml:"is_array,omitempty"`
	Optional    bool              `json:"optional,omitempty" yaml:"optional,omitempty"`
	Fields      map[string]Schema `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Asset is a named, schema-typed value. A nil Value means the value is absent.
type Asset struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Schema   Schema `json:"schema" yaml:"schema"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
	Role     Role   `json:"role,omitempty" yaml:"role,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// HasValue reports whether a value is attached to the asset.
func (a Asset) HasValue() bool {
	return a.Value != nil
}

// Clone returns a copy of the asset whose value shares nothing with the original.
func (a Asset) Clone() Asset {
	out := a
	out.Value = DeepCopy(a.Value)
	out.Schema = a.Schema.clone()
	return out
}

func (s Schema) clone() Schema {
	out := s
	if s.Fields != nil {
		out.Fields = make(map[string]Schema, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v.clone()
		}
	}
	return out
}

// State is the set of variables of one scope (a Hop state or a Chain state), keyed by name.
type State map[string]Asset

// NewState builds a state from a list of assets. Later duplicates replace earlier ones.
func NewState(assets ...Asset) State {
	s := make(State, len(assets))
	for _, a := range assets {
		s[a.Name] = a.Clone()
	}
	return s
}

// Clone deep copies the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Get returns the variable with the given name.
func (s State) Get(name string) (Asset, bool) {
	a, ok := s[name]
	return a, ok
}

// Value returns the value of a variable, or nil when the variable is absent.
func (s State) Value(name string) any {
	return s[name].Value
}

// Names returns the variable names in sorted order.
func (s State) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Assets returns the variables sorted by name.
func (s State) Assets() []Asset {
	out := make([]Asset, 0, len(s))
	for _, name := range s.Names() {
		out = append(out, s[name].Clone())
	}
	return out
}

// Values flattens the state into a name to value map.
func (s State) Values() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = DeepCopy(v.Value)
	}
	return out
}

// DeepCopy copies maps and slices recursively. Scalars are returned as-is.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = DeepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = DeepCopy(vv)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, vv := range t {
			out[k] = vv
		}
		return out
	default:
		return v
	}
}

// InferSchema derives a schema from a raw value. Used when a result creates a new variable.
func InferSchema(v any) Schema {
	switch t := v.(type) {
	case nil:
		return Schema{Type: "any", Optional: true}
	case string:
		return Schema{Type: "string"}
	case bool:
		return Schema{Type: "boolean"}
	case int, int32, int64, float32, float64:
		return Schema{Type: "number"}
	case []any:
		item := Schema{Type: "any"}
		if len(t) > 0 {
			item = InferSchema(t[0])
		}
		item.IsArray = true
		return item
	case []string:
		return Schema{Type: "string", IsArray: true}
	case map[string]any:
		fields := make(map[string]Schema, len(t))
		for k, vv := range t {
			fields[k] = InferSchema(vv)
		}
		return Schema{Type: "object", Fields: fields}
	default:
		return Schema{Type: "any"}
	}
}
