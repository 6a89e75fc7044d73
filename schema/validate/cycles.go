package validate

import "github.com/serialexp/binschema/schema"

// checkCircularDependencies rejects a type graph where a composite directly
// contains itself with no array/optional indirection in between — that
// shape has no finite encoding and no base case to terminate decoding.
// Containment through an array or optional is excluded: an empty array or
// an absent optional breaks the recursion at runtime, so A containing
// array<A> is a legitimate recursive structure (a list), not a cycle.
func (v *validator) checkCircularDependencies() {
	for typeName := range v.schema.Types {
		if cyclePath := v.findCircularDependency(typeName, map[string]bool{}); cyclePath != nil {
			v.fail(schema.CodeCircularDependency, typeName, "", "unconditional type cycle: %v", cyclePath)
		}
	}
}

// findCircularDependency performs a DFS over direct (non-array,
// non-optional) type containment starting at typeName, returning the cycle
// path if one revisits a type already on the current path.
func (v *validator) findCircularDependency(typeName string, onPath map[string]bool) []string {
	if onPath[typeName] {
		return []string{typeName}
	}
	def := v.schema.Lookup(typeName)
	if def == nil || !def.IsComposite() {
		return nil
	}
	onPath[typeName] = true
	defer delete(onPath, typeName)

	for _, f := range def.Composite.Sequence {
		for _, ref := range directTypeRefs(f.Type) {
			if path := v.findCircularDependency(ref, onPath); path != nil {
				return append([]string{typeName}, path...)
			}
		}
	}
	return nil
}

// directTypeRefs returns the type names t contains unconditionally and
// without array/optional indirection: a plain TypeRefType, or (recursively)
// the variant types of an embedded union/choice, since a union/choice field
// is itself always present once its own field is reached.
func directTypeRefs(t schema.FieldType) []string {
	switch ft := t.(type) {
	case schema.TypeRefType:
		return []string{ft.Name}
	case schema.UnionType:
		var out []string
		for _, variant := range ft.Variants {
			out = append(out, variant.TypeName)
		}
		return out
	case schema.ChoiceType:
		var out []string
		for _, variant := range ft.Variants {
			out = append(out, variant.TypeName)
		}
		return out
	case schema.BackReferenceType:
		return []string{ft.TargetType}
	default:
		return nil
	}
}
