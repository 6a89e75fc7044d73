package engine

import (
	"fmt"

	"github.com/serialexp/binschema/runtime"
	"github.com/serialexp/binschema/schema"
)

// Decode walks typeName's field tree against data and returns the decoded
// value tree in the same shape Encode accepts. It returns an error rather
// than panicking on any malformed input, including truncated streams and
// union values that match no variant.
func Decode(s *schema.Schema, typeName string, data []byte, opts EngineOptions) (map[string]interface{}, error) {
	dec := runtime.NewBitStreamDecoder(data, s.Config.BitOrder)
	c := newCtx(s, opts)
	v, err := c.decodeNamedType(dec, typeName, "")
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, decodeErr("", typeName, fmt.Errorf("top-level type %q is not a composite", typeName))
	}
	return m, nil
}

func (c *ctx) decodeNamedType(dec *runtime.BitStreamDecoder, typeName string, path string) (interface{}, error) {
	def := c.schema.Lookup(typeName)
	if def == nil {
		return nil, decodeErr(path, typeName, fmt.Errorf("unknown type"))
	}
	if def.IsComposite() {
		return c.decodeComposite(dec, typeName, def.Composite, path)
	}
	return c.decodeFieldType(dec, def.Alias.Type, path)
}

func (c *ctx) decodeComposite(dec *runtime.BitStreamDecoder, typeName string, comp *schema.CompositeType, path string) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	c.pushParent(m)
	defer c.popParent()
	fieldStart := c.pushFieldStarts()
	defer c.popFieldStarts()

	if len(c.parents) == 1 {
		c.messageStart = dec.Position()
	}

	fieldByteLen := map[string]int{}

	for _, f := range comp.Sequence {
		fieldPath := joinPath(path, f.Name)

		if f.Conditional != nil {
			present, err := f.Conditional.EvalBool(c.exprLookup(nil))
			if err != nil {
				return nil, decodeErr(fieldPath, typeName, fmt.Errorf("conditional: %w", err))
			}
			if !present {
				continue
			}
		}

		start := dec.Position()
		fieldStart[f.Name] = start

		v, err := c.decodeFieldType(dec, f.Type, fieldPath)
		if err != nil {
			return nil, err
		}

		if f.Const != nil {
			if !valuesEqual(v, f.Const) {
				return nil, decodeErrCode(fieldPath, typeName, DecodeConstMismatch, fmt.Errorf("const field decoded %v, expected %v", v, f.Const))
			}
		}

		if f.Computed != nil {
			if lenOf, ok := f.Computed.(schema.LengthOf); ok && lenOf.FromAfterField != "" {
				m[f.Name] = v
				fieldByteLen[f.Name] = dec.Position() - start
				continue
			}
			if c.opts.StrictLengths {
				expect, err := c.computeValue(f.Computed, fieldByteLen, typeName)
				if err == nil && !valuesEqual(v, expect) {
					return nil, decodeErr(fieldPath, typeName, fmt.Errorf("computed field decoded %v, re-derived %v", v, expect))
				}
			}
		}

		m[f.Name] = v
		fieldByteLen[f.Name] = dec.Position() - start
	}

	for _, inst := range comp.Instances {
		offsetVal, ok := m[inst.Pos]
		if !ok {
			return nil, decodeErr(joinPath(path, inst.Name), typeName, fmt.Errorf("instance position field %q not decoded", inst.Pos))
		}
		offset, err := asUint64(offsetVal)
		if err != nil {
			return nil, decodeErr(joinPath(path, inst.Name), typeName, err)
		}
		dec.PushPosition()
		dec.Seek(c.messageStart + int(offset))
		v, err := c.decodeFieldType(dec, inst.Type, joinPath(path, inst.Name))
		dec.PopPosition()
		if err != nil {
			return nil, err
		}
		m[inst.Name] = v
	}

	return m, nil
}

func valuesEqual(a, b interface{}) bool {
	au, aerr := asUint64(a)
	bu, berr := asUint64(b)
	if aerr == nil && berr == nil {
		return au == bu
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func (c *ctx) decodeFieldType(dec *runtime.BitStreamDecoder, t schema.FieldType, path string) (interface{}, error) {
	switch ft := t.(type) {
	case schema.IntegerType:
		return c.decodeInteger(dec, ft, path)
	case schema.FloatType:
		return c.decodeFloat(dec, ft, path)
	case schema.BitType:
		u, err := dec.ReadBits(ft.Size)
		if err != nil {
			return nil, decodeErr(path, "bit", err)
		}
		return u, nil
	case schema.BitfieldType:
		return c.decodeBitfield(dec, ft, path)
	case schema.VarlengthType:
		u, err := c.decodeVarlength(dec, ft.Encoding, path)
		if err != nil {
			return nil, err
		}
		return u, nil
	case schema.StringType:
		return c.decodeString(dec, ft, path)
	case schema.ArrayType:
		return c.decodeArray(dec, ft, path)
	case schema.OptionalType:
		return c.decodeOptional(dec, ft, path)
	case schema.UnionType:
		return c.decodeUnion(dec, ft, path)
	case schema.BackReferenceType:
		return c.decodeBackReference(dec, ft, path)
	case schema.ChoiceType:
		return c.decodeChoice(dec, ft, path)
	case schema.TypeRefType:
		return c.decodeNamedType(dec, ft.Name, path)
	case schema.PaddingType:
		if _, err := dec.ReadBits(ft.Bits); err != nil {
			return nil, decodeErr(path, "padding", err)
		}
		return nil, nil
	default:
		return nil, decodeErr(path, schema.KindOf(t), fmt.Errorf("unsupported field type"))
	}
}

func (c *ctx) decodeInteger(dec *runtime.BitStreamDecoder, ft schema.IntegerType, path string) (interface{}, error) {
	endian := c.schema.Config.Endianness
	if ft.Endianness != nil {
		endian = *ft.Endianness
	}
	switch ft.Width {
	case 8:
		if ft.Signed {
			v, err := dec.ReadInt8()
			return int64(v), decodeErr(path, "integer", err)
		}
		v, err := dec.ReadUint8()
		return uint64(v), decodeErr(path, "integer", err)
	case 16:
		if ft.Signed {
			v, err := dec.ReadInt16(endian)
			return int64(v), decodeErr(path, "integer", err)
		}
		v, err := dec.ReadUint16(endian)
		return uint64(v), decodeErr(path, "integer", err)
	case 32:
		if ft.Signed {
			v, err := dec.ReadInt32(endian)
			return int64(v), decodeErr(path, "integer", err)
		}
		v, err := dec.ReadUint32(endian)
		return uint64(v), decodeErr(path, "integer", err)
	case 64:
		if ft.Signed {
			v, err := dec.ReadInt64(endian)
			return v, decodeErr(path, "integer", err)
		}
		v, err := dec.ReadUint64(endian)
		return v, decodeErr(path, "integer", err)
	default:
		return nil, decodeErr(path, "integer", fmt.Errorf("unsupported integer width %d", ft.Width))
	}
}

func (c *ctx) decodeFloat(dec *runtime.BitStreamDecoder, ft schema.FloatType, path string) (interface{}, error) {
	endian := c.schema.Config.Endianness
	if ft.Endianness != nil {
		endian = *ft.Endianness
	}
	switch ft.Width {
	case 32:
		v, err := dec.ReadFloat32(endian)
		if err != nil {
			return nil, decodeErr(path, "float", err)
		}
		return float64(v), nil
	case 64:
		v, err := dec.ReadFloat64(endian)
		if err != nil {
			return nil, decodeErr(path, "float", err)
		}
		return v, nil
	default:
		return nil, decodeErr(path, "float", fmt.Errorf("unsupported float width %d", ft.Width))
	}
}

func (c *ctx) decodeBitfield(dec *runtime.BitStreamDecoder, ft schema.BitfieldType, path string) (interface{}, error) {
	packed, err := dec.ReadBits(ft.Size)
	if err != nil {
		return nil, decodeErr(path, "bitfield", err)
	}
	out := map[string]interface{}{}
	for _, sub := range ft.Fields {
		mask := (uint64(1) << uint(sub.Size)) - 1
		out[sub.Name] = (packed >> uint(sub.Offset)) & mask
	}
	return out, nil
}

func (c *ctx) decodeVarlength(dec *runtime.BitStreamDecoder, kind schema.VarlengthEncoding, path string) (uint64, error) {
	var u uint64
	var err error
	switch kind {
	case schema.VarlengthDER:
		u, err = dec.ReadVarlengthDER()
	case schema.VarlengthLEB128:
		u, err = dec.ReadVarlengthLEB128()
	case schema.VarlengthEBML:
		u, err = dec.ReadVarlengthEBML()
	case schema.VarlengthVLQ:
		u, err = dec.ReadVarlengthVLQ()
	default:
		return 0, decodeErr(path, "varlength", fmt.Errorf("unknown varlength encoding %q", kind))
	}
	if err != nil {
		return 0, decodeErr(path, "varlength", err)
	}
	return u, nil
}

func (c *ctx) decodeString(dec *runtime.BitStreamDecoder, ft schema.StringType, path string) (interface{}, error) {
	switch ft.Kind {
	case schema.StringFixed:
		b, err := dec.ReadBytes(ft.Length)
		if err != nil {
			return nil, decodeErr(path, "string", err)
		}
		return string(b), nil
	case schema.StringLengthPrefixed:
		n, err := c.readLengthTag(dec, ft.LengthType, "", path)
		if err != nil {
			return nil, err
		}
		b, err := dec.ReadBytes(int(n))
		if err != nil {
			return nil, decodeErr(path, "string", err)
		}
		return string(b), nil
	case schema.StringNullTerminated:
		var out []byte
		for {
			b, err := dec.ReadUint8()
			if err != nil {
				return nil, decodeErr(path, "string", err)
			}
			if b == 0 {
				break
			}
			out = append(out, b)
		}
		return string(out), nil
	case schema.StringFieldReferenced:
		n, err := c.resolveFieldReferencedLength(ft.LengthField)
		if err != nil {
			return nil, decodeErr(path, "string", err)
		}
		b, err := dec.ReadBytes(n)
		if err != nil {
			return nil, decodeErr(path, "string", err)
		}
		return string(b), nil
	default:
		return nil, decodeErr(path, "string", fmt.Errorf("unknown string kind %q", ft.Kind))
	}
}

func (c *ctx) resolveFieldReferencedLength(name string) (int, error) {
	parent := c.currentParent()
	if parent == nil {
		return 0, fmt.Errorf("no containing value to resolve length_field %q against", name)
	}
	v, ok := parent[name]
	if !ok {
		return 0, fmt.Errorf("length_field %q has not been decoded yet", name)
	}
	u, err := asUint64(v)
	if err != nil {
		return 0, err
	}
	return int(u), nil
}

func (c *ctx) readLengthTag(dec *runtime.BitStreamDecoder, lengthType string, varlenEnc schema.VarlengthEncoding, path string) (uint64, error) {
	switch lengthType {
	case "uint8":
		v, err := dec.ReadUint8()
		return uint64(v), decodeErr(path, "length", err)
	case "uint16":
		v, err := dec.ReadUint16(c.schema.Config.Endianness)
		return uint64(v), decodeErr(path, "length", err)
	case "uint32":
		v, err := dec.ReadUint32(c.schema.Config.Endianness)
		return uint64(v), decodeErr(path, "length", err)
	case "uint64":
		v, err := dec.ReadUint64(c.schema.Config.Endianness)
		return v, decodeErr(path, "length", err)
	case "varlength":
		if varlenEnc == "" {
			varlenEnc = schema.VarlengthLEB128
		}
		return c.decodeVarlength(dec, varlenEnc, path)
	default:
		return 0, decodeErr(path, "length", fmt.Errorf("unknown length type %q", lengthType))
	}
}

func (c *ctx) decodeArray(dec *runtime.BitStreamDecoder, ft schema.ArrayType, path string) (interface{}, error) {
	var count = -1
	var byteLimit = -1

	switch ft.Kind {
	case schema.ArrayFixed:
		count = ft.Length
	case schema.ArrayLengthPrefixed:
		n, err := c.readLengthTag(dec, ft.LengthType, ft.LengthEncoding, path)
		if err != nil {
			return nil, err
		}
		count = int(n)
	case schema.ArrayByteLengthPrefixed:
		n, err := c.readLengthTag(dec, ft.LengthType, ft.LengthEncoding, path)
		if err != nil {
			return nil, err
		}
		byteLimit = int(n)
	case schema.ArrayFieldReferenced:
		n, err := c.resolveFieldReferencedLength(ft.LengthField)
		if err != nil {
			return nil, decodeErr(path, "array", err)
		}
		count = n
	}

	items := []interface{}{}
	prevIter := c.arrayIterations[ft.Items.Name]
	iter := &arrayIteration{items: nil, fieldName: ft.Items.Name}
	c.arrayIterations[ft.Items.Name] = iter
	defer func() { c.arrayIterations[ft.Items.Name] = prevIter }()

	startPos := dec.Position()
	for i := 0; ; i++ {
		if count >= 0 && i >= count {
			break
		}
		if byteLimit >= 0 && dec.Position()-startPos >= byteLimit {
			break
		}
		if count < 0 && byteLimit < 0 {
			// Null-terminated: a single zero byte (or a terminal variant)
			// ends the array.
			if ft.Kind == schema.ArrayNullTerminated {
				b, err := dec.PeekUint8()
				if err == nil && b == 0 {
					dec.SkipBytes(1)
					break
				}
			} else if dec.Position() >= dec.Len() {
				break
			}
		}
		iter.index = i
		elemStart := dec.Position()
		v, err := c.decodeFieldType(dec, ft.Items.Type, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		iter.items = items
		c.trackElementStart(lastPathSegment(path), v, elemStart)
		if ft.Kind == schema.ArrayNullTerminated {
			if tag, isTerminal := c.lastIsTerminalVariant(items, ft.TerminalVariants); isTerminal {
				_ = tag
				break
			}
		}
	}
	return items, nil
}

func (c *ctx) decodeOptional(dec *runtime.BitStreamDecoder, ft schema.OptionalType, path string) (interface{}, error) {
	var present bool
	switch ft.PresenceType {
	case schema.PresenceBit:
		b, err := dec.ReadBit()
		if err != nil {
			return nil, decodeErr(path, "optional", err)
		}
		present = b != 0
	default:
		b, err := dec.ReadUint8()
		if err != nil {
			return nil, decodeErr(path, "optional", err)
		}
		present = b != 0
	}
	if !present {
		return nil, nil
	}
	return c.decodeFieldType(dec, ft.Value, path)
}

func (c *ctx) decodeUnion(dec *runtime.BitStreamDecoder, ft schema.UnionType, path string) (interface{}, error) {
	var discriminator int64
	switch ft.Discriminator.Kind {
	case schema.DiscriminatorPeek:
		endian := runtime.BigEndian
		if ft.Discriminator.PeekEndianness != nil {
			endian = *ft.Discriminator.PeekEndianness
		}
		var u uint64
		var err error
		switch ft.Discriminator.PeekWidth {
		case "uint8":
			var v uint8
			v, err = dec.PeekUint8()
			u = uint64(v)
		case "uint16":
			var v uint16
			v, err = dec.PeekUint16(endian)
			u = uint64(v)
		case "uint32":
			var v uint32
			v, err = dec.PeekUint32(endian)
			u = uint64(v)
		}
		if err != nil {
			return nil, decodeErr(path, "union", err)
		}
		discriminator = int64(u)
	case schema.DiscriminatorField:
		parent := c.currentParent()
		name := firstSegmentEngine(ft.Discriminator.FieldPath)
		v, ok := parent[name]
		if ok && name != ft.Discriminator.FieldPath {
			// "name.subname": a sub-field of an already-decoded bitfield.
			if sub, isMap := v.(map[string]interface{}); isMap {
				v, ok = sub[ft.Discriminator.FieldPath[len(name)+1:]]
			}
		}
		if !ok {
			return nil, decodeErr(path, "union", fmt.Errorf("discriminator field %q has not been decoded yet", ft.Discriminator.FieldPath))
		}
		n, err := asUint64(v)
		if err != nil {
			return nil, decodeErr(path, "union", err)
		}
		discriminator = int64(n)
	}

	lookup := c.exprLookup(map[string]int64{"value": discriminator})
	var chosen *schema.Variant
	for i := range ft.Variants {
		variant := &ft.Variants[i]
		if variant.IsFallback {
			chosen = variant
			break
		}
		if variant.When == nil {
			continue
		}
		ok, err := variant.When.EvalBool(lookup)
		if err != nil {
			return nil, decodeErr(path, "union", err)
		}
		if ok {
			chosen = variant
			break
		}
	}
	if chosen == nil {
		return nil, decodeErrCode(path, "union", DecodeUnknownVariant, fmt.Errorf("discriminator %d matches no variant", discriminator))
	}

	var budgetStart int
	var budgetLimit uint64
	hasBudget := false
	if ft.ByteBudget != nil {
		parent := c.currentParent()
		raw, ok := parent[ft.ByteBudget.Field]
		if !ok {
			return nil, decodeErr(path, "union", fmt.Errorf("byte_budget field %q has not been decoded yet", ft.ByteBudget.Field))
		}
		n, err := asUint64(raw)
		if err != nil {
			return nil, decodeErr(path, "union", err)
		}
		budgetLimit = n
		budgetStart = dec.Position()
		hasBudget = true
	}

	v, err := c.decodeNamedType(dec, chosen.TypeName, path)
	if err != nil {
		return nil, err
	}
	if hasBudget {
		if consumed := uint64(dec.Position() - budgetStart); consumed > budgetLimit {
			return nil, decodeErrCode(path, "union", DecodeByteBudgetExceeded, fmt.Errorf("variant %q consumed %d bytes, exceeding byte_budget %d", chosen.TypeName, consumed, budgetLimit))
		}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		m = map[string]interface{}{"value": v}
	}
	m["__type"] = chosen.TypeName
	if ft.Discriminator.Kind == schema.DiscriminatorPeek {
		m["__discriminator"] = uint64(discriminator)
	}
	return m, nil
}

func (c *ctx) decodeChoice(dec *runtime.BitStreamDecoder, ft schema.ChoiceType, path string) (interface{}, error) {
	var tag int64
	var err error
	if len(ft.Variants) > 0 {
		tag, err = peekChoiceTag(dec)
		if err != nil {
			return nil, decodeErr(path, "choice", err)
		}
	}
	for _, variant := range ft.Variants {
		if variant.Tag == tag {
			v, err := c.decodeNamedType(dec, variant.TypeName, path)
			if err != nil {
				return nil, err
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				m = map[string]interface{}{"value": v}
			}
			m["__type"] = variant.TypeName
			return m, nil
		}
	}
	return nil, decodeErrCode(path, "choice", DecodeUnknownVariant, fmt.Errorf("tag %d matches no variant", tag))
}

// peekChoiceTag peeks the byte that every choice variant's first field
// tags its type with, without committing to a width: choice variants are
// always tagged by a leading uint8 constant (spec.md §3.3's choice shape).
func peekChoiceTag(dec *runtime.BitStreamDecoder) (int64, error) {
	b, err := dec.PeekUint8()
	if err != nil {
		return 0, err
	}
	return int64(b), nil
}

// decodeBackReference always follows the pointer (spec.md §3.3, §4.3.2 item
// 6): storage holds a masked relative offset, never an inline fallback. A
// target outside the stream's bounds or an offset already being followed in
// this same chain fails rather than recursing or reading garbage.
func (c *ctx) decodeBackReference(dec *runtime.BitStreamDecoder, ft schema.BackReferenceType, path string) (interface{}, error) {
	endian := runtime.BigEndian
	if ft.Endianness != nil {
		endian = *ft.Endianness
	}
	var raw uint64
	var err error
	switch ft.Storage {
	case "uint8":
		var v uint8
		v, err = dec.ReadUint8()
		raw = uint64(v)
	case "uint16":
		var v uint16
		v, err = dec.ReadUint16(endian)
		raw = uint64(v)
	case "uint32":
		var v uint32
		v, err = dec.ReadUint32(endian)
		raw = uint64(v)
	default:
		return nil, decodeErr(path, "back_reference", fmt.Errorf("unknown storage width %q", ft.Storage))
	}
	if err != nil {
		return nil, decodeErr(path, "back_reference", err)
	}

	rel := raw & ft.OffsetMask
	var origin int
	switch ft.OffsetFrom {
	case schema.FromMessageStart:
		origin = c.messageStart
	case schema.FromCurrentPosition:
		origin = dec.Position()
	}
	target := origin + int(rel)
	if target < 0 || target > dec.Len() {
		return nil, decodeErrCode(path, "back_reference", DecodeOffsetOutOfBounds, fmt.Errorf("target offset %d is outside the stream (length %d)", target, dec.Len()))
	}
	if c.followingOffsets[target] {
		return nil, decodeErrCode(path, "back_reference", DecodeCircularBackReference, fmt.Errorf("back-reference at offset %d revisits an offset already being followed", target))
	}

	c.followingOffsets[target] = true
	dec.PushPosition()
	dec.Seek(target)
	v, err := c.decodeNamedType(dec, ft.TargetType, path)
	dec.PopPosition()
	delete(c.followingOffsets, target)
	return v, err
}

func firstSegmentEngine(dotted string) string {
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			return dotted[:i]
		}
	}
	return dotted
}
