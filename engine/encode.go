package engine

import (
	"fmt"

	"github.com/serialexp/binschema/runtime"
	"github.com/serialexp/binschema/schema"
)

// Encode walks typeName's field tree against value and returns the wire
// bytes. value is a nested map[string]interface{}/[]interface{}/primitive
// tree shaped like the schema: a composite is a map keyed by field name, an
// array is a []interface{}, a scalar is the matching Go numeric/string/bool
// type. A union/choice element is a map additionally carrying "__type" set
// to the chosen variant's type name.
func Encode(s *schema.Schema, typeName string, value map[string]interface{}, opts EngineOptions) ([]byte, error) {
	return EncodeWithEvents(s, typeName, value, opts, nil)
}

// EncodeWithEvents is Encode plus a per-field recording hook: onField, if
// non-nil, is called once per sequence field and instance encoded, with its
// absolute byte range, in the order each field finishes encoding (a nested
// field's event comes before the event of the composite that contains it). The annotate package is built
// entirely on this hook.
func EncodeWithEvents(s *schema.Schema, typeName string, value map[string]interface{}, opts EngineOptions, onField func(FieldEvent)) ([]byte, error) {
	enc := runtime.NewBitStreamEncoder(s.Config.BitOrder)
	c := newCtx(s, opts)
	c.onField = onField
	if err := c.encodeNamedType(enc, typeName, value, ""); err != nil {
		return nil, err
	}
	return enc.Finish(), nil
}

// encodeNamedType encodes a value of the schema type named typeName,
// dispatching to a composite or alias definition. Every composite encoded
// this way registers its position in c.compressionDict under its own type
// name, whether it was reached directly, through a union/choice variant, an
// array element, or a plain type reference — not just the first occurrence
// reached via a back-reference field — so a back-reference anywhere else in
// the message can point at it (spec.md §8 S2).
func (c *ctx) encodeNamedType(enc *runtime.BitStreamEncoder, typeName string, value interface{}, path string) error {
	def := c.schema.Lookup(typeName)
	if def == nil {
		return encodeErr(path, typeName, fmt.Errorf("unknown type"))
	}
	if def.IsComposite() {
		m, ok := value.(map[string]interface{})
		if !ok {
			return encodeErr(path, typeName, fmt.Errorf("expected a composite value, got %T", value))
		}
		start := enc.Position()
		if err := c.encodeComposite(enc, typeName, def.Composite, m, path); err != nil {
			return err
		}
		if key, err := canonicalKey(typeName, m); err == nil {
			if _, seen := c.compressionDict[key]; !seen {
				c.compressionDict[key] = start
			}
		}
		return nil
	}
	return c.encodeFieldType(enc, def.Alias.Type, value, path)
}

// pendingPatch is a reserved-but-not-yet-known length_of(from_after_field)
// slot: encodeComposite writes zero bytes as wide as the length field's
// integer type at field declaration time and backfills the true value once the rest of the
// sequence has been encoded (content-first emission, spec.md §3.4).
type pendingPatch struct {
	offset         int
	width          int
	signed         bool
	endianness     runtime.Endianness
	fromAfterField string
	extraOffset    int
}

// posPatch is a reserved-but-not-yet-known position_of slot: a position_of
// field whose target is declared later in the same composite's sequence
// writes a placeholder here and back-fills it once that later field is
// actually walked (spec.md §4.2 item 3's forward-reference allowance).
type posPatch struct {
	offset     int
	width      int
	signed     bool
	endianness runtime.Endianness
	target     string
}

func (c *ctx) encodeComposite(enc *runtime.BitStreamEncoder, typeName string, comp *schema.CompositeType, value map[string]interface{}, path string) error {
	c.pushParent(value)
	defer c.popParent()
	fieldStart := c.pushFieldStarts()
	defer c.popFieldStarts()

	if len(c.parents) == 1 {
		c.messageStart = enc.Position()
	}

	fieldByteLen := map[string]int{}
	fieldEndAbs := map[string]int{}
	var patches []pendingPatch
	var posPatches []posPatch

	for _, f := range comp.Sequence {
		fieldPath := joinPath(path, f.Name)

		if f.Conditional != nil {
			present, err := f.Conditional.EvalBool(c.exprLookup(nil))
			if err != nil {
				return encodeErr(fieldPath, typeName, fmt.Errorf("conditional: %w", err))
			}
			if !present {
				continue
			}
		}

		start := enc.Position()
		fieldStart[f.Name] = start

		switch {
		case f.Computed != nil:
			if lenOf, ok := f.Computed.(schema.LengthOf); ok && lenOf.FromAfterField != "" {
				width, signed, endian, err := integerShape(f.Type)
				if err != nil {
					return encodeErr(fieldPath, typeName, fmt.Errorf("length_of(from_after_field) requires an integer field: %w", err))
				}
				placeholder := make([]byte, width/8)
				if err := enc.WriteBytes(placeholder); err != nil {
					return encodeErr(fieldPath, typeName, err)
				}
				patches = append(patches, pendingPatch{
					offset: start, width: width / 8, signed: signed, endianness: endian,
					fromAfterField: lenOf.FromAfterField, extraOffset: lenOf.Offset,
				})
				fieldEndAbs[f.Name] = enc.Position()
				fieldByteLen[f.Name] = width / 8
				c.emitFieldEvent(fieldPath, f.Type, start, fieldEndAbs[f.Name])
				continue
			}
			if posOf, ok := f.Computed.(schema.PositionOf); ok && isForwardPositionTarget(posOf.Target, fieldStart) {
				width, signed, endian, err := integerShape(f.Type)
				if err != nil {
					return encodeErrCode(fieldPath, typeName, EncodeNonComputablePosition, fmt.Errorf("position_of forward reference requires an integer field: %w", err))
				}
				placeholder := make([]byte, width/8)
				if err := enc.WriteBytes(placeholder); err != nil {
					return encodeErr(fieldPath, typeName, err)
				}
				posPatches = append(posPatches, posPatch{
					offset: start, width: width / 8, signed: signed, endianness: endian,
					target: posOf.Target.Segments[0],
				})
				fieldEndAbs[f.Name] = enc.Position()
				fieldByteLen[f.Name] = width / 8
				c.emitFieldEvent(fieldPath, f.Type, start, fieldEndAbs[f.Name])
				continue
			}
			computedVal, err := c.computeValue(f.Computed, fieldByteLen, typeName)
			if err != nil {
				return encodeErrCode(fieldPath, typeName, positionErrorCode(f.Computed), err)
			}
			if err := c.encodeFieldType(enc, f.Type, computedVal, fieldPath); err != nil {
				return err
			}
			value[f.Name] = computedVal
		case f.Const != nil:
			if err := c.encodeFieldType(enc, f.Type, f.Const, fieldPath); err != nil {
				return err
			}
		default:
			v, ok := value[f.Name]
			if !ok {
				return encodeErrCode(fieldPath, typeName, EncodeMissingRequired, fmt.Errorf("missing required field"))
			}
			if err := c.encodeFieldType(enc, f.Type, v, fieldPath); err != nil {
				return err
			}
		}

		fieldEndAbs[f.Name] = enc.Position()
		fieldByteLen[f.Name] = fieldEndAbs[f.Name] - start
		c.emitFieldEvent(fieldPath, f.Type, start, fieldEndAbs[f.Name])
	}

	for _, p := range patches {
		contentStart, ok := fieldEndAbs[p.fromAfterField]
		if !ok {
			return encodeErr(path, typeName, fmt.Errorf("from_after_field %q never encoded", p.fromAfterField))
		}
		length := uint64(enc.Position()-contentStart) + uint64(p.extraOffset)
		if err := enc.PatchBytes(p.offset, intToBytes(p.width*8, p.signed, p.endianness, length)); err != nil {
			return encodeErr(path, typeName, err)
		}
	}

	for _, p := range posPatches {
		targetStart, ok := fieldStart[p.target]
		if !ok {
			return encodeErrCode(path, typeName, EncodeNonComputablePosition, fmt.Errorf("position_of target %q was never encoded", p.target))
		}
		rel := uint64(targetStart - c.messageStart)
		if err := enc.PatchBytes(p.offset, intToBytes(p.width*8, p.signed, p.endianness, rel)); err != nil {
			return encodeErr(path, typeName, err)
		}
	}

	for _, inst := range comp.Instances {
		instPath := joinPath(path, inst.Name)
		instVal, ok := value[inst.Name]
		if !ok {
			return encodeErrCode(instPath, typeName, EncodeMissingRequired, fmt.Errorf("missing required instance value"))
		}
		instStart := enc.Position()
		offset := instStart - c.messageStart
		if err := c.encodeFieldType(enc, inst.Type, instVal, instPath); err != nil {
			return err
		}
		c.emitFieldEvent(instPath, inst.Type, instStart, enc.Position())
		posType, ok := findSequenceField(comp, inst.Pos)
		if !ok {
			return encodeErr(instPath, typeName, fmt.Errorf("position field %q not found", inst.Pos))
		}
		width, signed, endian, err := integerShape(posType)
		if err != nil {
			return encodeErr(instPath, typeName, fmt.Errorf("instance position field must be an integer: %w", err))
		}
		posOffset, ok := fieldStart[inst.Pos]
		if !ok {
			return encodeErr(instPath, typeName, fmt.Errorf("position field %q was never written", inst.Pos))
		}
		if err := enc.PatchBytes(posOffset, intToBytes(width, signed, endian, uint64(offset))); err != nil {
			return encodeErr(instPath, typeName, err)
		}
		value[inst.Pos] = uint64(offset)
	}

	return nil
}

// positionErrorCode classifies a computeValue failure by the computed-field
// kind that produced it, so encodeComposite's generic error path still
// surfaces the spec.md §7 code for position_of specifically.
func positionErrorCode(comp schema.Computed) EncodeErrorCode {
	if _, ok := comp.(schema.PositionOf); ok {
		return EncodeNonComputablePosition
	}
	return EncodeErrorUnspecified
}

func findSequenceField(comp *schema.CompositeType, name string) (schema.FieldType, bool) {
	for _, f := range comp.Sequence {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}

func integerShape(t schema.FieldType) (width int, signed bool, endian runtime.Endianness, err error) {
	it, ok := t.(schema.IntegerType)
	if !ok {
		return 0, false, runtime.BigEndian, fmt.Errorf("field type %s is not an integer", schema.KindOf(t))
	}
	e := runtime.BigEndian
	if it.Endianness != nil {
		e = *it.Endianness
	}
	return it.Width, it.Signed, e, nil
}

func intToBytes(width int, signed bool, endian runtime.Endianness, value uint64) []byte {
	n := width / 8
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var shift int
		if endian == runtime.BigEndian {
			shift = (n - 1 - i) * 8
		} else {
			shift = i * 8
		}
		out[i] = byte(value >> uint(shift))
	}
	return out
}

// encodeFieldType encodes value against a single field-type shape.
func (c *ctx) encodeFieldType(enc *runtime.BitStreamEncoder, t schema.FieldType, value interface{}, path string) error {
	switch ft := t.(type) {
	case schema.IntegerType:
		return c.encodeInteger(enc, ft, value, path)
	case schema.FloatType:
		return c.encodeFloat(enc, ft, value, path)
	case schema.BitType:
		u, err := asUint64(value)
		if err != nil {
			return encodeErr(path, "bit", err)
		}
		enc.WriteBits(u, ft.Size)
		return nil
	case schema.BitfieldType:
		return c.encodeBitfield(enc, ft, value, path)
	case schema.VarlengthType:
		u, err := asUint64(value)
		if err != nil {
			return encodeErr(path, "varlength", err)
		}
		return c.encodeVarlength(enc, ft.Encoding, u, path)
	case schema.StringType:
		return c.encodeString(enc, ft, value, path)
	case schema.ArrayType:
		return c.encodeArray(enc, ft, value, path)
	case schema.OptionalType:
		return c.encodeOptional(enc, ft, value, path)
	case schema.UnionType:
		return c.encodeUnion(enc, ft, value, path)
	case schema.BackReferenceType:
		return c.encodeBackReference(enc, ft, value, path)
	case schema.ChoiceType:
		return c.encodeChoice(enc, ft, value, path)
	case schema.TypeRefType:
		return c.encodeNamedType(enc, ft.Name, value, path)
	case schema.PaddingType:
		enc.WriteBits(0, ft.Bits)
		return nil
	default:
		return encodeErr(path, schema.KindOf(t), fmt.Errorf("unsupported field type"))
	}
}

func (c *ctx) encodeInteger(enc *runtime.BitStreamEncoder, ft schema.IntegerType, value interface{}, path string) error {
	endian := runtime.BigEndian
	if ft.Endianness != nil {
		endian = *ft.Endianness
	} else {
		endian = c.schema.Config.Endianness
	}
	u, err := asUint64(value)
	if err != nil {
		return encodeErr(path, "integer", err)
	}
	switch ft.Width {
	case 8:
		enc.WriteUint8(uint8(u))
	case 16:
		enc.WriteUint16(uint16(u), endian)
	case 32:
		enc.WriteUint32(uint32(u), endian)
	case 64:
		enc.WriteUint64(u, endian)
	default:
		return encodeErr(path, "integer", fmt.Errorf("unsupported integer width %d", ft.Width))
	}
	return nil
}

func (c *ctx) encodeFloat(enc *runtime.BitStreamEncoder, ft schema.FloatType, value interface{}, path string) error {
	endian := runtime.BigEndian
	if ft.Endianness != nil {
		endian = *ft.Endianness
	} else {
		endian = c.schema.Config.Endianness
	}
	f, err := asFloat64(value)
	if err != nil {
		return encodeErr(path, "float", err)
	}
	switch ft.Width {
	case 32:
		enc.WriteFloat32(float32(f), endian)
	case 64:
		enc.WriteFloat64(f, endian)
	default:
		return encodeErr(path, "float", fmt.Errorf("unsupported float width %d", ft.Width))
	}
	return nil
}

func (c *ctx) encodeBitfield(enc *runtime.BitStreamEncoder, ft schema.BitfieldType, value interface{}, path string) error {
	m, ok := value.(map[string]interface{})
	if !ok {
		return encodeErr(path, "bitfield", fmt.Errorf("expected a map of subfield values, got %T", value))
	}
	var packed uint64
	for _, sub := range ft.Fields {
		v, ok := m[sub.Name]
		if !ok {
			return encodeErr(joinPath(path, sub.Name), "bitfield", fmt.Errorf("missing subfield"))
		}
		u, err := asUint64(v)
		if err != nil {
			return encodeErr(joinPath(path, sub.Name), "bitfield", err)
		}
		mask := (uint64(1) << uint(sub.Size)) - 1
		packed |= (u & mask) << uint(sub.Offset)
	}
	enc.WriteBits(packed, ft.Size)
	return nil
}

func (c *ctx) encodeVarlength(enc *runtime.BitStreamEncoder, kind schema.VarlengthEncoding, u uint64, path string) error {
	switch kind {
	case schema.VarlengthDER:
		enc.WriteVarlengthDER(u)
	case schema.VarlengthLEB128:
		enc.WriteVarlengthLEB128(u)
	case schema.VarlengthEBML:
		enc.WriteVarlengthEBML(u)
	case schema.VarlengthVLQ:
		enc.WriteVarlengthVLQ(u)
	default:
		return encodeErr(path, "varlength", fmt.Errorf("unknown varlength encoding %q", kind))
	}
	return nil
}

func varlengthSize(kind schema.VarlengthEncoding, u uint64) int {
	switch kind {
	case schema.VarlengthDER:
		return runtime.VarlengthDERSize(u)
	case schema.VarlengthLEB128:
		return runtime.VarlengthLEB128Size(u)
	case schema.VarlengthEBML:
		return runtime.VarlengthEBMLSize(u)
	case schema.VarlengthVLQ:
		return runtime.VarlengthVLQSize(u)
	default:
		return 0
	}
}

func (c *ctx) encodeString(enc *runtime.BitStreamEncoder, ft schema.StringType, value interface{}, path string) error {
	s, ok := value.(string)
	if !ok {
		return encodeErr(path, "string", fmt.Errorf("expected a string, got %T", value))
	}
	data := []byte(s)
	switch ft.Kind {
	case schema.StringFixed:
		if len(data) != ft.Length {
			return encodeErrCode(path, "string", EncodeArityMismatch, fmt.Errorf("fixed string length %d does not match declared length %d", len(data), ft.Length))
		}
		return enc.WriteBytes(data)
	case schema.StringLengthPrefixed:
		if err := c.encodeLengthTag(enc, ft.LengthType, "", uint64(len(data)), path); err != nil {
			return err
		}
		return enc.WriteBytes(data)
	case schema.StringNullTerminated:
		if err := enc.WriteBytes(data); err != nil {
			return err
		}
		enc.WriteUint8(0)
		return nil
	case schema.StringFieldReferenced:
		return enc.WriteBytes(data)
	default:
		return encodeErr(path, "string", fmt.Errorf("unknown string kind %q", ft.Kind))
	}
}

func (c *ctx) encodeLengthTag(enc *runtime.BitStreamEncoder, lengthType string, varlenEnc schema.VarlengthEncoding, n uint64, path string) error {
	switch lengthType {
	case "uint8":
		enc.WriteUint8(uint8(n))
	case "uint16":
		enc.WriteUint16(uint16(n), c.schema.Config.Endianness)
	case "uint32":
		enc.WriteUint32(uint32(n), c.schema.Config.Endianness)
	case "uint64":
		enc.WriteUint64(n, c.schema.Config.Endianness)
	case "varlength":
		if varlenEnc == "" {
			varlenEnc = schema.VarlengthLEB128
		}
		return c.encodeVarlength(enc, varlenEnc, n, path)
	default:
		return encodeErr(path, "length", fmt.Errorf("unknown length type %q", lengthType))
	}
	return nil
}

func (c *ctx) encodeArray(enc *runtime.BitStreamEncoder, ft schema.ArrayType, value interface{}, path string) error {
	items, ok := value.([]interface{})
	if !ok {
		return encodeErr(path, "array", fmt.Errorf("expected an array, got %T", value))
	}

	switch ft.Kind {
	case schema.ArrayFixed:
		if len(items) != ft.Length {
			return encodeErrCode(path, "array", EncodeArityMismatch, fmt.Errorf("array has %d elements, expected %d", len(items), ft.Length))
		}
	case schema.ArrayLengthPrefixed:
		if err := c.encodeLengthTag(enc, ft.LengthType, ft.LengthEncoding, uint64(len(items)), path); err != nil {
			return err
		}
	case schema.ArrayByteLengthPrefixed:
		byteLen, err := c.measureArrayByteLength(ft, items, path)
		if err != nil {
			return err
		}
		if err := c.encodeLengthTag(enc, ft.LengthType, ft.LengthEncoding, uint64(byteLen), path); err != nil {
			return err
		}
	}

	prevIter := c.arrayIterations[ft.Items.Name]
	iter := &arrayIteration{items: items, fieldName: ft.Items.Name}
	c.arrayIterations[ft.Items.Name] = iter
	defer func() { c.arrayIterations[ft.Items.Name] = prevIter }()

	for i, item := range items {
		iter.index = i
		elemStart := enc.Position()
		if err := c.encodeFieldType(enc, ft.Items.Type, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
		c.trackElementStart(lastPathSegment(path), item, elemStart)
	}

	switch ft.Kind {
	case schema.ArrayNullTerminated:
		if _, isTerminal := c.lastIsTerminalVariant(items, ft.TerminalVariants); !isTerminal {
			enc.WriteUint8(0)
		}
	}
	return nil
}

func (c *ctx) lastIsTerminalVariant(items []interface{}, terminalVariants []string) (string, bool) {
	if len(items) == 0 || len(terminalVariants) == 0 {
		return "", false
	}
	m, ok := items[len(items)-1].(map[string]interface{})
	if !ok {
		return "", false
	}
	tag, _ := m["__type"].(string)
	for _, tv := range terminalVariants {
		if tv == tag {
			return tag, true
		}
	}
	return "", false
}

// measureArrayByteLength computes the wire byte length of an array's
// elements without committing them, for a byte_length_prefixed array whose
// length tag precedes the element bytes. The scratch encoder's positions
// have nothing to do with the real message, so compressionDict is saved and
// restored around the measurement pass to keep a back-reference elsewhere in
// the message from resolving against a bogus scratch-relative offset, and
// onField is detached so the measurement pass reports no field events.
func (c *ctx) measureArrayByteLength(ft schema.ArrayType, items []interface{}, path string) (int, error) {
	savedDict := c.compressionDict
	c.compressionDict = map[string]int{}
	defer func() { c.compressionDict = savedDict }()
	savedOnField := c.onField
	c.onField = nil
	defer func() { c.onField = savedOnField }()

	scratch := runtime.NewBitStreamEncoder(c.schema.Config.BitOrder)
	for i, item := range items {
		if err := c.encodeFieldType(scratch, ft.Items.Type, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return 0, err
		}
	}
	return len(scratch.Finish()), nil
}

func (c *ctx) encodeOptional(enc *runtime.BitStreamEncoder, ft schema.OptionalType, value interface{}, path string) error {
	present := value != nil
	switch ft.PresenceType {
	case schema.PresenceBit:
		if present {
			enc.WriteBit(1)
		} else {
			enc.WriteBit(0)
		}
	default:
		if present {
			enc.WriteUint8(1)
		} else {
			enc.WriteUint8(0)
		}
	}
	if !present {
		return nil
	}
	return c.encodeFieldType(enc, ft.Value, value, path)
}

func (c *ctx) encodeUnion(enc *runtime.BitStreamEncoder, ft schema.UnionType, value interface{}, path string) error {
	m, ok := value.(map[string]interface{})
	if !ok {
		return encodeErr(path, "union", fmt.Errorf("expected a tagged map, got %T", value))
	}
	tag, _ := m["__type"].(string)
	if tag == "" {
		return encodeErr(path, "union", fmt.Errorf("union value is missing __type"))
	}

	if ft.Discriminator.Kind == schema.DiscriminatorPeek {
		// A peek discriminator reads ahead without consuming bytes (spec.md
		// §3.4): the chosen variant's own encoding supplies whatever leading
		// bytes the peek inspects. No separate discriminator byte is written.
		if variant := c.findVariant(ft.Variants, tag); variant == nil {
			return encodeErrCode(path, "union", EncodeUnknownVariant, fmt.Errorf("no variant matches type %q", tag))
		}
		return c.encodeNamedType(enc, tag, m, path)
	}

	if c.findVariant(ft.Variants, tag) == nil {
		return encodeErrCode(path, "union", EncodeUnknownVariant, fmt.Errorf("no variant matches type %q", tag))
	}

	// DiscriminatorField: the tag value itself is an ordinary field earlier in
	// the containing composite's sequence, already written by the time this
	// union field is reached.
	return c.encodeNamedType(enc, tag, m, path)
}

func (c *ctx) findVariant(variants []schema.Variant, typeName string) *schema.Variant {
	for i := range variants {
		if variants[i].TypeName == typeName {
			return &variants[i]
		}
	}
	return nil
}

func (c *ctx) encodeChoice(enc *runtime.BitStreamEncoder, ft schema.ChoiceType, value interface{}, path string) error {
	m, ok := value.(map[string]interface{})
	if !ok {
		return encodeErr(path, "choice", fmt.Errorf("expected a tagged map, got %T", value))
	}
	tag, _ := m["__type"].(string)
	return c.encodeNamedType(enc, tag, m, path)
}

// encodeBackReference always emits a pointer: the target must already have
// been encoded, somewhere earlier in the message, as a plain occurrence of
// ft.TargetType (spec.md §3.3, §8 S2) — there is no inline/first-occurrence
// fallback, since decode never branches on the wire form either.
func (c *ctx) encodeBackReference(enc *runtime.BitStreamEncoder, ft schema.BackReferenceType, value interface{}, path string) error {
	m, ok := value.(map[string]interface{})
	if !ok {
		return encodeErr(path, "back_reference", fmt.Errorf("expected a tagged map, got %T", value))
	}
	key, err := canonicalKey(ft.TargetType, m)
	if err != nil {
		return encodeErr(path, "back_reference", err)
	}

	offset, seen := c.compressionDict[key]
	if !seen {
		return encodeErrCode(path, "back_reference", EncodeNonComputablePosition,
			fmt.Errorf("no prior occurrence of %s found to point at", ft.TargetType))
	}

	endian := runtime.BigEndian
	if ft.Endianness != nil {
		endian = *ft.Endianness
	}
	var origin int
	switch ft.OffsetFrom {
	case schema.FromMessageStart:
		origin = c.messageStart
	case schema.FromCurrentPosition:
		origin = enc.Position()
	}
	rel := uint64(offset - origin)
	if rel&^ft.OffsetMask != 0 {
		return encodeErrCode(path, "back_reference", EncodeOutOfRange,
			fmt.Errorf("relative offset %d does not fit in mask %#x", rel, ft.OffsetMask))
	}
	// Bits outside the offset mask (if any) are conventionally set so a
	// containing union's peek discriminator can tell a pointer apart from an
	// inline occurrence of the same target type (the DNS 0b11 marker, spec.md
	// §8 S2); decode itself no longer inspects them.
	markerBits := storageFullMask(ft.Storage) &^ ft.OffsetMask
	tagged := (rel & ft.OffsetMask) | markerBits
	return c.writeBackReferenceStorage(enc, ft.Storage, endian, tagged, path)
}

func storageFullMask(storage string) uint64 {
	switch storage {
	case "uint8":
		return 0xFF
	case "uint16":
		return 0xFFFF
	case "uint32":
		return 0xFFFFFFFF
	default:
		return 0
	}
}

func (c *ctx) writeBackReferenceStorage(enc *runtime.BitStreamEncoder, storage string, endian runtime.Endianness, u uint64, path string) error {
	switch storage {
	case "uint8":
		enc.WriteUint8(uint8(u))
	case "uint16":
		enc.WriteUint16(uint16(u), endian)
	case "uint32":
		enc.WriteUint32(uint32(u), endian)
	default:
		return encodeErr(path, "back_reference", fmt.Errorf("unknown storage width %q", storage))
	}
	return nil
}

// canonicalKey builds a stable string key for a back-reference dictionary,
// grounded on the DNS label-compression example's use of the decoded label
// text as the dictionary key. The key is qualified by typeName so two
// different types that happen to encode the same content (e.g. an empty
// struct) don't collide in the shared dictionary.
func canonicalKey(typeName string, m map[string]interface{}) (string, error) {
	if s, ok := m["name"].(string); ok {
		return typeName + "\x00" + s, nil
	}
	return typeName + "\x00" + fmt.Sprintf("%v", m), nil
}

func asUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case int32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case int16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case int8:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot interpret %T as an integer", v)
	}
}

func asFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("cannot interpret %T as a float", v)
	}
}
