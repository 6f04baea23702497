package binding

import (
	"strconv"
	"strings"
)

// ResolveInputs computes parameter values from the mappings against state.
// The state is never modified.
func ResolveInputs(mappings Mappings, state State) (map[string]any, error) {
	values := make(map[string]any, len(mappings))
	for _, name := range mappings.Names() {
		switch m := mappings[name].(type) {
		case Literal:
			values[name] = DeepCopy(m.Value)
		case AssetField:
			asset, ok := state[m.StateAsset]
			if !ok {
				return nil, &UnresolvedAssetError{Asset: m.StateAsset, Parameter: name}
			}
			values[name] = DeepCopy(ReadPath(asset.Value, m.Path))
		case Discard:
			return nil, &ValidationError{Field: "parameter_mapping." + name, Reason: "discard is only valid for results"}
		default:
			return nil, &ValidationError{Field: "parameter_mapping." + name, Reason: "mapping is empty"}
		}
	}
	return values, nil
}

// ApplyResults writes raw results into a copy of state following the result mappings.
// Results absent from the raw map are skipped.
func ApplyResults(mappings Mappings, results map[string]any, state State) (State, error) {
	next := state.Clone()
	for _, name := range mappings.Names() {
		raw, present := results[name]
		switch m := mappings[name].(type) {
		case Discard:
			continue
		case AssetField:
			if !present {
				continue
			}
			asset, exists := next[m.StateAsset]
			if !exists {
				asset = Asset{Name: m.StateAsset, ID: m.StateAsset, Role: RoleInternal}
			}
			value := DeepCopy(raw)
			if m.Path == "" {
				asset.Value = value
			} else {
				asset.Value = WritePath(asset.Value, m.Path, value)
			}
			if !exists {
				asset.Schema = InferSchema(asset.Value)
			}
			next[m.StateAsset] = asset
		case Literal:
			return nil, &ValidationError{Field: "result_mapping." + name, Reason: "literal is only valid for parameters"}
		default:
			return nil, &ValidationError{Field: "result_mapping." + name, Reason: "mapping is empty"}
		}
	}
	return next, nil
}

// ReadPath reads a dotted path from a value. Missing segments yield nil.
func ReadPath(value any, path string) any {
	if path == "" {
		return value
	}
	current := value
	for _, segment := range strings.Split(path, ".") {
		switch t := current.(type) {
		case map[string]any:
			next, ok := t[segment]
			if !ok {
				return nil
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil
			}
			current = t[idx]
		default:
			return nil
		}
	}
	return current
}

// WritePath returns a copy of root with value stored at the dotted path.
// Intermediate objects are created when missing; non-object intermediates are replaced.
func WritePath(root any, path string, value any) any {
	segments := strings.Split(path, ".")
	obj, ok := DeepCopy(root).(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	current := obj
	for i, segment := range segments {
		if i == len(segments)-1 {
			current[segment] = value
			break
		}
		child, ok := current[segment].(map[string]any)
		if !ok {
			child = map[string]any{}
			current[segment] = child
		}
		current = child
	}
	return obj
}
