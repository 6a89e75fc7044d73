package validate

import "github.com/serialexp/binschema/schema"

// checkTypeTable walks every declared type and its field tree, applying the
// structural, referential, field-ordering, computed-field, union,
// back-reference, optional, string, and choice rule categories of spec.md
// §4.2 in one pass.
func (v *validator) checkTypeTable() {
	if len(v.schema.Types) == 0 {
		v.fail(schema.CodeUnknownType, "<schema>", "", "schema declares no types")
		return
	}
	for typeName, def := range v.schema.Types {
		if def == nil {
			continue
		}
		switch {
		case def.IsComposite():
			v.checkComposite(typeName, def.Composite)
		case def.Alias != nil:
			v.checkFieldType(typeName, "<alias>", def.Alias.Type, map[string]bool{})
		default:
			v.fail(schema.CodeUnknownType, typeName, "", "type is neither a composite nor an alias")
		}
	}
}

func (v *validator) checkComposite(typeName string, c *schema.CompositeType) {
	allNames := map[string]bool{}
	for _, f := range c.Sequence {
		if f.Name != "" {
			allNames[f.Name] = true
		}
	}

	declared := map[string]bool{}
	for i, f := range c.Sequence {
		if f.Const != nil && f.Computed != nil {
			v.fail(schema.CodeComputedTypeMismatch, typeName, f.Name, "field has both a const value and a computed rule")
		}
		if f.Conditional != nil {
			v.checkPathRefs(typeName, f.Name, identifiersOf(f.Conditional), declared)
		}
		if f.Computed != nil {
			v.checkComputed(typeName, f.Name, f.Computed, declared, allNames, c.Sequence, i)
		}
		if f.Type != nil {
			v.checkFieldType(typeName, f.Name, f.Type, declared)
		}
		if f.Name != "" {
			declared[f.Name] = true
		}
	}
	for _, inst := range c.Instances {
		if inst.Pos == "" {
			v.fail(schema.CodeBadReference, typeName, inst.Name, "instance has no position field")
		} else if !declared[inst.Pos] {
			v.fail(schema.CodeBadReference, typeName, inst.Name,
				"instance %q's position field %q is not declared earlier in the sequence", inst.Name, inst.Pos)
		}
		if inst.Type != nil {
			v.checkFieldType(typeName, inst.Name, inst.Type, declared)
		}
	}
}

// checkPathRefs validates the bare (no "../", no "_root.") identifiers an
// expression or path references against fields declared earlier in the same
// composite. Ascended/rooted references are resolved at encode/decode time,
// where the full containment stack is available; flagging them here would
// require re-deriving that stack statically for every call site.
func (v *validator) checkPathRefs(typeName, field string, names []string, declared map[string]bool) {
	for _, n := range names {
		if n == "value" {
			continue // the field's own pending value, meaningful only inside a when-predicate
		}
		if !declared[n] {
			v.fail(schema.CodeFieldOrder, typeName, field, "references %q, which is not declared earlier in the sequence", n)
		}
	}
}

func identifiersOf(e *schema.Expr) []string {
	if e == nil {
		return nil
	}
	return e.Identifiers()
}

func (v *validator) checkComputed(typeName, field string, c schema.Computed, declared, allNames map[string]bool, seq []schema.Field, idx int) {
	switch comp := c.(type) {
	case schema.LengthOf:
		if comp.FromAfterField != "" {
			if !declared[comp.FromAfterField] {
				v.fail(schema.CodeFieldOrder, typeName, field, "from_after_field %q is not declared earlier in the sequence", comp.FromAfterField)
				return
			}
			v.checkNoInterveningFields(typeName, field, comp.FromAfterField, seq, idx)
			return
		}
		v.checkLocalPath(typeName, field, comp.Target, declared)
	case schema.Crc32Of:
		v.checkLocalPath(typeName, field, comp.Target, declared)
	case schema.PositionOf:
		v.checkPositionOfTarget(typeName, field, comp.Target, allNames)
	case schema.SumOfSizes:
		for _, t := range comp.Targets {
			v.checkLocalPath(typeName, field, t, declared)
		}
	case schema.SumOfTypeSizes:
		v.checkLocalPath(typeName, field, comp.Target, declared)
		if comp.ElementType == "" {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "sum_of_type_sizes has no element type to match")
		}
	default:
		v.fail(schema.CodeComputedTypeMismatch, typeName, field, "unrecognized computed-field kind %T", c)
	}
}

// checkNoInterveningFields rejects a from_after_field whose referenced field
// has an ordinary (non-computed, non-const) field between it and the length
// field itself: that field's bytes would fall inside the span
// length_of(from_after_field) measures AND be encoded by its own sequence
// entry, double-counting it (spec.md §4.2 item 3).
func (v *validator) checkNoInterveningFields(typeName, field, fromAfterField string, seq []schema.Field, idx int) {
	refIdx := -1
	for i, f := range seq {
		if f.Name == fromAfterField {
			refIdx = i
			break
		}
	}
	if refIdx < 0 {
		return // already reported by the declared-earlier check above
	}
	for k := refIdx + 1; k < idx; k++ {
		f := seq[k]
		if f.Computed == nil && f.Const == nil {
			v.fail(schema.CodeFieldOrder, typeName, field,
				"from_after_field %q leaves field %q between it and the length field, which would double-count %q's bytes", fromAfterField, f.Name, f.Name)
		}
	}
}

// checkPositionOfTarget allows position_of (uniquely among computed-field
// kinds) to target a field declared later in the same sequence: the engine
// resolves a forward reference via a deferred patch once the target is
// actually walked (spec.md §4.2 item 3). Only a plain sibling name is
// checked here; an ascended/rooted/selector target is resolved at
// encode/decode time against the live containment stack.
func (v *validator) checkPositionOfTarget(typeName, field string, p schema.Path, allNames map[string]bool) {
	if p.Root || p.Ascend > 0 || p.Selector != nil || len(p.Segments) == 0 {
		return
	}
	if !allNames[p.Segments[0]] {
		v.fail(schema.CodeFieldOrder, typeName, field, "position_of references %q, which is not a field of this type", p.Raw())
	}
}

func (v *validator) checkLocalPath(typeName, field string, p schema.Path, declared map[string]bool) {
	if p.Root || p.Ascend > 0 || len(p.Segments) == 0 {
		return // resolved at runtime against the live containment stack
	}
	if !declared[p.Segments[0]] {
		v.fail(schema.CodeFieldOrder, typeName, field, "references %q, which is not declared earlier in the sequence", p.Raw())
	}
}

func (v *validator) checkFieldType(typeName, field string, t schema.FieldType, declared map[string]bool) {
	switch ft := t.(type) {
	case schema.IntegerType:
		if ft.Width != 8 && ft.Width != 16 && ft.Width != 32 && ft.Width != 64 {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "integer width %d is not one of 8/16/32/64", ft.Width)
		}
	case schema.FloatType:
		if ft.Width != 32 && ft.Width != 64 {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "float width %d is not 32 or 64", ft.Width)
		}
	case schema.BitType:
		if ft.Size < 1 || ft.Size > 64 {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "bit size %d is out of range 1..64", ft.Size)
		}
	case schema.BitfieldType:
		v.checkBitfield(typeName, field, ft)
	case schema.VarlengthType:
		switch ft.Encoding {
		case schema.VarlengthDER, schema.VarlengthLEB128, schema.VarlengthEBML, schema.VarlengthVLQ:
		default:
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "unknown varlength encoding %q", ft.Encoding)
		}
	case schema.StringType:
		v.checkString(typeName, field, ft, declared)
	case schema.ArrayType:
		v.checkArray(typeName, field, ft, declared)
	case schema.OptionalType:
		v.checkOptional(typeName, field, ft, declared)
	case schema.UnionType:
		v.checkUnion(typeName, field, ft, declared)
	case schema.BackReferenceType:
		v.checkBackReference(typeName, field, ft)
	case schema.ChoiceType:
		v.checkChoice(typeName, field, ft)
	case schema.TypeRefType:
		v.checkTypeRef(typeName, field, ft)
	case schema.PaddingType:
		if ft.Bits <= 0 {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "padding must be a positive number of bits")
		}
	default:
		v.fail(schema.CodeComputedTypeMismatch, typeName, field, "unrecognized field type %T", t)
	}
}

func (v *validator) checkBitfield(typeName, field string, ft schema.BitfieldType) {
	if ft.Size < 0 {
		v.fail(schema.CodeComputedTypeMismatch, typeName, field, "bitfield has a negative size %d", ft.Size)
		return
	}
	used := make([]bool, ft.Size)
	names := map[string]bool{}
	for _, sub := range ft.Fields {
		if names[sub.Name] {
			v.fail(schema.CodeDuplicateField, typeName, field, "bitfield subfield %q declared more than once", sub.Name)
		}
		names[sub.Name] = true
		if sub.Offset < 0 || sub.Size <= 0 || sub.Offset+sub.Size > ft.Size {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field,
				"bitfield subfield %q (offset %d, size %d) does not fit within %d bits", sub.Name, sub.Offset, sub.Size, ft.Size)
			continue
		}
		for i := sub.Offset; i < sub.Offset+sub.Size; i++ {
			if used[i] {
				v.fail(schema.CodeComputedTypeMismatch, typeName, field, "bitfield subfield %q overlaps another subfield at bit %d", sub.Name, i)
			}
			used[i] = true
		}
	}
}

func (v *validator) checkString(typeName, field string, ft schema.StringType, declared map[string]bool) {
	switch ft.Kind {
	case schema.StringFixed:
		if ft.Length <= 0 {
			v.fail(schema.CodeStringShape, typeName, field, "fixed string has non-positive length %d", ft.Length)
		}
	case schema.StringLengthPrefixed:
		if ft.LengthType == "" {
			v.fail(schema.CodeStringShape, typeName, field, "length_prefixed string has no length_type")
		}
	case schema.StringNullTerminated:
	case schema.StringFieldReferenced:
		if ft.LengthField == "" {
			v.fail(schema.CodeStringShape, typeName, field, "field_referenced string has no length_field")
		} else if !declared[ft.LengthField] {
			v.fail(schema.CodeFieldOrder, typeName, field, "length_field %q is not declared earlier in the sequence", ft.LengthField)
		}
	default:
		v.fail(schema.CodeStringShape, typeName, field, "unknown string kind %q", ft.Kind)
	}
	if ft.Const != nil && ft.Kind != schema.StringFixed {
		v.fail(schema.CodeStringShape, typeName, field, "a const value is only legal on a fixed string")
	}
	switch ft.Encoding {
	case schema.EncodingUTF8, schema.EncodingASCII, "":
	default:
		v.fail(schema.CodeStringShape, typeName, field, "unknown string encoding %q", ft.Encoding)
	}
}

func (v *validator) checkArray(typeName, field string, ft schema.ArrayType, declared map[string]bool) {
	if ft.Items.Type != nil {
		v.checkFieldType(typeName, field+".items", ft.Items.Type, declared)
	}
	switch ft.Kind {
	case schema.ArrayFixed:
		if ft.Length < 0 {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "fixed array has a negative length %d", ft.Length)
		}
	case schema.ArrayLengthPrefixed, schema.ArrayByteLengthPrefixed:
		if ft.LengthType == "" {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "%s array has no length_type", ft.Kind)
		}
		if ft.LengthType == "varlength" {
			switch ft.LengthEncoding {
			case schema.VarlengthDER, schema.VarlengthLEB128, schema.VarlengthEBML, schema.VarlengthVLQ:
			default:
				v.fail(schema.CodeComputedTypeMismatch, typeName, field, "array length_type is varlength but length_encoding %q is unknown", ft.LengthEncoding)
			}
		}
	case schema.ArrayNullTerminated:
	case schema.ArrayFieldReferenced:
		if ft.LengthField == "" {
			v.fail(schema.CodeComputedTypeMismatch, typeName, field, "field_referenced array has no length_field")
		} else if !declared[ft.LengthField] {
			v.fail(schema.CodeFieldOrder, typeName, field, "length_field %q is not declared earlier in the sequence", ft.LengthField)
		}
	default:
		v.fail(schema.CodeComputedTypeMismatch, typeName, field, "unknown array kind %q", ft.Kind)
	}
}

func (v *validator) checkOptional(typeName, field string, ft schema.OptionalType, declared map[string]bool) {
	if ft.Value == nil {
		v.fail(schema.CodeOptionalShape, typeName, field, "optional has no wrapped value type")
		return
	}
	if _, nested := ft.Value.(schema.OptionalType); nested {
		v.fail(schema.CodeOptionalShape, typeName, field, "optional<optional<T>> is not allowed")
	}
	if _, isBit := ft.Value.(schema.BitType); isBit {
		v.fail(schema.CodeOptionalShape, typeName, field, "optional<bit> is not allowed")
	}
	v.checkFieldType(typeName, field+".value", ft.Value, declared)
}

func (v *validator) checkUnion(typeName, field string, ft schema.UnionType, declared map[string]bool) {
	switch ft.Discriminator.Kind {
	case schema.DiscriminatorPeek:
		switch ft.Discriminator.PeekWidth {
		case "uint8", "uint16", "uint32":
		default:
			v.fail(schema.CodeUnionShape, typeName, field, "unknown peek width %q", ft.Discriminator.PeekWidth)
		}
	case schema.DiscriminatorField:
		if ft.Discriminator.FieldPath == "" {
			v.fail(schema.CodeUnionShape, typeName, field, "field discriminator has no field path")
		} else if !declared[firstSegment(ft.Discriminator.FieldPath)] {
			v.fail(schema.CodeFieldOrder, typeName, field, "discriminator field %q is not declared earlier in the sequence", ft.Discriminator.FieldPath)
		}
	default:
		v.fail(schema.CodeUnionShape, typeName, field, "unknown discriminator kind %q", ft.Discriminator.Kind)
	}

	if len(ft.Variants) == 0 {
		v.fail(schema.CodeUnionShape, typeName, field, "union has no variants")
		return
	}
	fallbackSeen := false
	for _, variant := range ft.Variants {
		if fallbackSeen {
			v.fail(schema.CodeUnionShape, typeName, field, "fallback variant must be last, but %q follows it", variant.TypeName)
		}
		if variant.IsFallback {
			fallbackSeen = true
			if variant.When != nil {
				v.fail(schema.CodeUnionShape, typeName, field, "fallback variant %q must not also carry a when-predicate", variant.TypeName)
			}
		} else if variant.When == nil {
			// A non-fallback variant with no predicate is only sound for a
			// peek/field-value-equality match resolved elsewhere (codegen
			// metadata); the core engine requires either a predicate or fallback.
			v.fail(schema.CodeUnionShape, typeName, field, "variant %q has no when-predicate and is not the fallback", variant.TypeName)
		}
		if v.schema.Lookup(variant.TypeName) == nil {
			v.fail(schema.CodeBadReference, typeName, field, "variant type %q is not declared", variant.TypeName)
		}
	}
	if ft.ByteBudget != nil && !declared[ft.ByteBudget.Field] {
		v.fail(schema.CodeFieldOrder, typeName, field, "byte_budget field %q is not declared earlier in the sequence", ft.ByteBudget.Field)
	}
}

func (v *validator) checkBackReference(typeName, field string, ft schema.BackReferenceType) {
	var storageBits int
	switch ft.Storage {
	case "uint8":
		storageBits = 8
	case "uint16":
		storageBits = 16
	case "uint32":
		storageBits = 32
	default:
		v.fail(schema.CodeBackReferenceShape, typeName, field, "unknown back_reference storage %q", ft.Storage)
		return
	}
	if storageBits > 8 && ft.Endianness == nil {
		v.fail(schema.CodeBackReferenceShape, typeName, field, "multi-byte back_reference storage requires an explicit endianness")
	}
	maxMask := uint64(1)<<uint(storageBits) - 1
	if ft.OffsetMask > maxMask {
		v.fail(schema.CodeBackReferenceShape, typeName, field, "offset_mask 0x%X exceeds the %d-bit storage width", ft.OffsetMask, storageBits)
	}
	switch ft.OffsetFrom {
	case schema.FromMessageStart, schema.FromCurrentPosition:
	default:
		v.fail(schema.CodeBackReferenceShape, typeName, field, "unknown offset_from %q", ft.OffsetFrom)
	}
	if v.schema.Lookup(ft.TargetType) == nil {
		v.fail(schema.CodeBadReference, typeName, field, "back_reference target type %q is not declared", ft.TargetType)
	}
}

func (v *validator) checkChoice(typeName, field string, ft schema.ChoiceType) {
	if len(ft.Variants) == 0 {
		v.fail(schema.CodeChoiceShape, typeName, field, "choice has no variants")
		return
	}
	tags := map[int64]string{}
	for _, variant := range ft.Variants {
		if v.schema.Lookup(variant.TypeName) == nil {
			v.fail(schema.CodeBadReference, typeName, field, "choice variant type %q is not declared", variant.TypeName)
		}
		if prior, dup := tags[variant.Tag]; dup {
			v.fail(schema.CodeChoiceShape, typeName, field, "choice tag %d used by both %q and %q", variant.Tag, prior, variant.TypeName)
		}
		tags[variant.Tag] = variant.TypeName
	}
}

func (v *validator) checkTypeRef(typeName, field string, ft schema.TypeRefType) {
	def := v.schema.Lookup(ft.Name)
	if def == nil {
		v.fail(schema.CodeUnknownType, typeName, field, "referenced type %q is not declared", ft.Name)
		return
	}
	if len(ft.TypeArgs) > 0 && def.TypeParam == "" {
		v.fail(schema.CodeUnknownType, typeName, field, "type %q is not generic but is instantiated with type arguments", ft.Name)
	}
	if len(ft.TypeArgs) == 0 && def.TypeParam != "" {
		v.fail(schema.CodeUnknownType, typeName, field, "generic type %q requires a type argument", ft.Name)
	}
}

func firstSegment(dotted string) string {
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			return dotted[:i]
		}
	}
	return dotted
}
