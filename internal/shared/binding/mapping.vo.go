package binding

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// MappingKind is the wire tag of a mapping.
type MappingKind string

const (
	KindLiteral    MappingKind = "literal"
	KindAssetField MappingKind = "asset_field"
	KindDiscard    MappingKind = "discard"
)

// Mapping describes how a step parameter is supplied or how a step result is consumed.
// The set of implementations is closed: Literal, AssetField and Discard.
type Mapping interface {
	Kind() MappingKind
	isMapping()
}

// Literal supplies a constant value.
type Literal struct {
	Value any
}

// AssetField reads or writes a state variable, optionally through a dotted path.
type AssetField struct {
	StateAsset string
	Path       string
}

// Discard drops a result value.
type Discard struct{}

func (Literal) Kind() MappingKind    { return KindLiteral }
func (AssetField) Kind() MappingKind { return KindAssetField }
func (Discard) Kind() MappingKind    { return KindDiscard }

func (Literal) isMapping()    {}
func (AssetField) isMapping() {}
func (Discard) isMapping()    {}

// Mappings maps parameter or result names to their mapping.
type Mappings map[string]Mapping

// Names returns the mapped names in sorted order.
func (m Mappings) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateParameters checks a parameter mapping: every declared parameter must be mapped
// exactly once and discard is not allowed.
func (m Mappings) ValidateParameters(declared []string) error {
	for name, mapping := range m {
		if mapping == nil {
			return &ValidationError{Field: "parameter_mapping." + name, Reason: "mapping is empty"}
		}
		if _, ok := mapping.(Discard); ok {
			return &ValidationError{Field: "parameter_mapping." + name, Reason: "discard is only valid for results"}
		}
		if af, ok := mapping.(AssetField); ok && af.StateAsset == "" {
			return &ValidationError{Field: "parameter_mapping." + name, Reason: "state_asset is required"}
		}
	}
	for _, name := range declared {
		if _, ok := m[name]; !ok {
			return &ValidationError{Field: "parameter_mapping." + name, Reason: "parameter is not mapped"}
		}
	}
	return nil
}

// ValidateResults checks a result mapping: literal is not allowed.
func (m Mappings) ValidateResults(declared []string) error {
	for name, mapping := range m {
		if mapping == nil {
			return &ValidationError{Field: "result_mapping." + name, Reason: "mapping is empty"}
		}
		if _, ok := mapping.(Literal); ok {
			return &ValidationError{Field: "result_mapping." + name, Reason: "literal is only valid for parameters"}
		}
		if af, ok := mapping.(AssetField); ok && af.StateAsset == "" {
			return &ValidationError{Field: "result_mapping." + name, Reason: "state_asset is required"}
		}
	}
	for _, name := range declared {
		if _, ok := m[name]; !ok {
			return &ValidationError{Field: "result_mapping." + name, Reason: "result is not mapped"}
		}
	}
	return nil
}

// Clone copies the mappings, deep copying literal values.
func (m Mappings) Clone() Mappings {
	if m == nil {
		return nil
	}
	out := make(Mappings, len(m))
	for k, v := range m {
		if lit, ok := v.(Literal); ok {
			out[k] = Literal{Value: DeepCopy(lit.Value)}
			continue
		}
		out[k] = v
	}
	return out
}

// MappingToRaw converts a mapping to its wire shape.
func MappingToRaw(m Mapping) map[string]any {
	switch t := m.(type) {
	case Literal:
		return map[string]any{"type": string(KindLiteral), "value": t.Value}
	case AssetField:
		raw := map[string]any{"type": string(KindAssetField), "state_asset": t.StateAsset}
		if t.Path != "" {
			raw["path"] = t.Path
		}
		return raw
	case Discard:
		return map[string]any{"type": string(KindDiscard)}
	default:
		return nil
	}
}

// MappingFromRaw decodes a mapping from its wire shape.
func MappingFromRaw(raw map[string]any) (Mapping, error) {
	kind, _ := raw["type"].(string)
	switch MappingKind(kind) {
	case KindLiteral:
		value, ok := raw["value"]
		if !ok {
			return nil, &ValidationError{Field: "value", Reason: "literal mapping requires a value"}
		}
		return Literal{Value: value}, nil
	case KindAssetField:
		asset, _ := raw["state_asset"].(string)
		if asset == "" {
			return nil, &ValidationError{Field: "state_asset", Reason: "asset_field mapping requires state_asset"}
		}
		path := ""
		if p, ok := raw["path"]; ok && p != nil {
			s, ok := p.(string)
			if !ok {
				return nil, &ValidationError{Field: "path", Reason: "path must be a string"}
			}
			path = s
		}
		return AssetField{StateAsset: asset, Path: path}, nil
	case KindDiscard:
		return Discard{}, nil
	case "":
		return nil, &ValidationError{Field: "type", Reason: "mapping type is required"}
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown mapping type %q", kind)}
	}
}

// MappingsFromRaw decodes a whole name to mapping table.
func MappingsFromRaw(raw map[string]any) (Mappings, error) {
	out := make(Mappings, len(raw))
	for name, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, &ValidationError{Field: name, Reason: "mapping must be an object"}
		}
		m, err := MappingFromRaw(obj)
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Field = name + "." + ve.Field
			}
			return nil, err
		}
		out[name] = m
	}
	return out, nil
}

func (m Mappings) MarshalJSON() ([]byte, error) {
	raw := make(map[string]map[string]any, len(m))
	for k, v := range m {
		raw[k] = MappingToRaw(v)
	}
	return json.Marshal(raw)
}

func (m *Mappings) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid mapping table: %v", err)}
	}
	decoded, err := MappingsFromRaw(raw)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

func (m Mappings) MarshalYAML() (any, error) {
	raw := make(map[string]map[string]any, len(m))
	for k, v := range m {
		raw[k] = MappingToRaw(v)
	}
	return raw, nil
}

func (m *Mappings) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid mapping table: %v", err)}
	}
	decoded, err := MappingsFromRaw(raw)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
