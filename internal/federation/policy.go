package federation

import (
	"reflect"
	"slices"
)

// MetadataPolicy maps a metadata section name to per-field operator sets, as
// issued by a superior in an entity statement.
type MetadataPolicy map[string]map[string]PolicyOperators

// PolicyOperators is the set of operators a policy may apply to one field.
type PolicyOperators struct {
	Value      any   `json:"value,omitempty"`
	Add        any   `json:"add,omitempty"`
	Default    any   `json:"default,omitempty"`
	SubsetOf   []any `json:"subset_of,omitempty"`
	SupersetOf []any `json:"superset_of,omitempty"`
	OneOf      []any `json:"one_of,omitempty"`
}

// Apply applies the policy to a deep copy of metadata and returns the copy.
// Sections or fields the policy names but the metadata lacks are left
// untouched, except for default which fills absent fields in.
//
// Operators run in a fixed order: add, value, default, subset_of,
// superset_of, one_of. The order matters, an added value can still be
// filtered out by a later narrowing operator.
func (policy MetadataPolicy) Apply(metadata map[string]any) map[string]any {
	metadata = deepCopy(metadata)
	for parentField, fieldPolicies := range policy {
		section, ok := metadata[parentField].(map[string]any)
		if !ok {
			continue
		}
		for childField, ops := range fieldPolicies {
			ops.apply(section, childField)
		}
	}
	return metadata
}

func (ops PolicyOperators) apply(section map[string]any, field string) {
	if ops.Add != nil {
		values, _ := section[field].([]any)
		section[field] = append(values, ops.Add)
	}

	if ops.Value != nil {
		section[field] = ops.Value
	}

	if ops.Default != nil {
		if _, ok := section[field]; !ok {
			section[field] = ops.Default
		}
	}

	if ops.SubsetOf != nil {
		if !intersects(asSlice(section[field]), ops.SubsetOf) {
			delete(section, field)
		}
	}

	if ops.SupersetOf != nil {
		if !covers(asSlice(section[field]), ops.SupersetOf) {
			delete(section, field)
		}
	}

	if ops.OneOf != nil {
		if !deepContains(ops.OneOf, section[field]) {
			delete(section, field)
		}
	}
}

// intersects reports whether values shares at least one element with allowed.
func intersects(values, allowed []any) bool {
	return slices.ContainsFunc(values, func(v any) bool {
		return deepContains(allowed, v)
	})
}

// covers reports whether values contains every element of required.
func covers(values, required []any) bool {
	for _, r := range required {
		if !deepContains(values, r) {
			return false
		}
	}
	return true
}

func deepContains(values []any, target any) bool {
	return slices.ContainsFunc(values, func(v any) bool {
		return reflect.DeepEqual(v, target)
	})
}

func asSlice(value any) []any {
	if values, ok := value.([]any); ok {
		return values
	}
	return nil
}

// deepCopy clones a JSON-shaped value so policy application never mutates
// the verified entity configuration.
func deepCopy(metadata map[string]any) map[string]any {
	return copyValue(metadata).(map[string]any)
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(v))
		for key, val := range v {
			clone[key] = copyValue(val)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for i, val := range v {
			clone[i] = copyValue(val)
		}
		return clone
	default:
		return v
	}
}
