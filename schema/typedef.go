package schema

// TypeDef is one of two shapes (spec.md §3.2): a Composite (an ordered
// sequence of fields plus optional positioned Instances) or an Alias (a
// single field-type description referenced by name wherever a type-name
// appears, e.g. `type MyInt = uint16`).
type TypeDef struct {
	// Generic template parameter, e.g. "T" for a type declared as G<T>.
	// Empty for non-generic types.
	TypeParam string

	Composite *CompositeType
	Alias     *AliasType
}

// IsComposite reports whether this TypeDef is a composite (struct-like) type.
func (t *TypeDef) IsComposite() bool { return t.Composite != nil }

// CompositeType is an ordered sequence of named fields, plus optional
// positioned Instances decoded out of sequence (spec.md §3.2, §4.3).
type CompositeType struct {
	Sequence  []Field
	Instances []Instance
}

// AliasType wraps a single FieldType so it can be referenced by a type name.
type AliasType struct {
	Type FieldType
}

// Instance is a positioned field: its value lives at a byte offset derived
// from an earlier field rather than at the current stream position, the way
// a Kaitai-Struct "instance" or an ELF/PE section-table entry works. Pos
// names a field (in the same composite) that holds the absolute byte offset
// (relative to the containing message's start) at which Type begins.
type Instance struct {
	Name string
	Pos  string // field-path naming the offset-holding field
	Type FieldType
}
