package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serialexp/binschema/runtime"
	"github.com/serialexp/binschema/schema"
)

func TestEncodeDecodePrimitivesRoundTrip(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Point"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "x", Type: schema.IntegerType{Width: 16}},
		{Name: "y", Type: schema.IntegerType{Width: 16, Signed: true}},
		{Name: "scale", Type: schema.FloatType{Width: 32}},
	}}}

	value := map[string]interface{}{
		"x":     uint64(100),
		"y":     int64(-5),
		"scale": 1.5,
	}
	data, err := Encode(s, "Point", value, EngineOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x64, 0xFF, 0xFB}, data[:4])

	decoded, err := Decode(s, "Point", data, EngineOptions{})
	require.NoError(t, err)
	require.EqualValues(t, uint64(100), decoded["x"])
	require.EqualValues(t, int64(-5), decoded["y"])
	require.InDelta(t, 1.5, decoded["scale"], 0.0001)
}

func TestEncodeDecodeStringAndArrayRoundTrip(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Greeting"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "message", Type: schema.StringType{Kind: schema.StringLengthPrefixed, LengthType: "uint8", Encoding: schema.EncodingUTF8}},
		{Name: "scores", Type: schema.ArrayType{
			Items: schema.Field{Type: schema.IntegerType{Width: 16}}, Kind: schema.ArrayLengthPrefixed, LengthType: "uint8",
		}},
	}}}

	value := map[string]interface{}{
		"message": "hi",
		"scores":  []interface{}{uint64(1), uint64(2), uint64(3)},
	}
	data, err := Encode(s, "Greeting", value, EngineOptions{})
	require.NoError(t, err)

	decoded, err := Decode(s, "Greeting", data, EngineOptions{})
	require.NoError(t, err)
	require.Equal(t, "hi", decoded["message"])
	scores, ok := decoded["scores"].([]interface{})
	require.True(t, ok)
	require.Len(t, scores, 3)
	require.EqualValues(t, uint64(2), scores[1])
}

func TestEncodeDecodeBitfieldRoundTrip(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Flags"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "flags", Type: schema.BitfieldType{Size: 8, Fields: []schema.BitSubfield{
			{Name: "qr", Offset: 7, Size: 1},
			{Name: "opcode", Offset: 3, Size: 4},
			{Name: "rcode", Offset: 0, Size: 3},
		}}},
	}}}

	value := map[string]interface{}{
		"flags": map[string]interface{}{"qr": uint64(1), "opcode": uint64(2), "rcode": uint64(5)},
	}
	data, err := Encode(s, "Flags", value, EngineOptions{})
	require.NoError(t, err)
	require.Len(t, data, 1)

	decoded, err := Decode(s, "Flags", data, EngineOptions{})
	require.NoError(t, err)
	flags := decoded["flags"].(map[string]interface{})
	require.EqualValues(t, uint64(1), flags["qr"])
	require.EqualValues(t, uint64(2), flags["opcode"])
	require.EqualValues(t, uint64(5), flags["rcode"])
}

func TestEncodeDecodeOptionalRoundTrip(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Wrapper"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "value", Type: schema.OptionalType{Value: schema.IntegerType{Width: 8}}},
	}}}

	present := map[string]interface{}{"value": uint64(42)}
	data, err := Encode(s, "Wrapper", present, EngineOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 42}, data)
	decoded, err := Decode(s, "Wrapper", data, EngineOptions{})
	require.NoError(t, err)
	require.EqualValues(t, uint64(42), decoded["value"])

	absent := map[string]interface{}{"value": nil}
	data, err = Encode(s, "Wrapper", absent, EngineOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, data)
	decoded, err = Decode(s, "Wrapper", data, EngineOptions{})
	require.NoError(t, err)
	require.Nil(t, decoded["value"])
}

// discriminatedUnionSchema is S4 from spec.md §8: a peek-discriminated union
// selecting between two fixed-shape record types by a leading uint8 tag.
func discriminatedUnionSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["ARecord"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "addr", Type: schema.IntegerType{Width: 32}},
	}}}
	s.Types["CnameRecord"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "target", Type: schema.StringType{Kind: schema.StringLengthPrefixed, LengthType: "uint8", Encoding: schema.EncodingUTF8}},
	}}}
	whenA, _ := schema.ParseExpr("value == 1")
	s.Types["Message"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "record", Type: schema.UnionType{
			Discriminator: schema.Discriminator{Kind: schema.DiscriminatorPeek, PeekWidth: "uint8"},
			Variants: []schema.Variant{
				{TypeName: "ARecord", When: whenA},
				{TypeName: "CnameRecord", IsFallback: true},
			},
		}},
	}}}
	return s
}

func TestEncodeDecodeDiscriminatedUnionByPeek(t *testing.T) {
	s := discriminatedUnionSchema()

	value := map[string]interface{}{
		"record": map[string]interface{}{
			"__type": "ARecord", "addr": uint64(0x01020304),
		},
	}
	data, err := Encode(s, "Message", value, EngineOptions{})
	require.NoError(t, err)
	// A peek discriminator consumes no bytes of its own (spec.md §3.4): the
	// chosen variant's own 4-byte "addr" field supplies the leading byte the
	// peek inspects, so there is no separate discriminator byte on the wire.
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data)

	decoded, err := Decode(s, "Message", data, EngineOptions{})
	require.NoError(t, err)
	record := decoded["record"].(map[string]interface{})
	require.Equal(t, "ARecord", record["__type"])
	require.EqualValues(t, uint64(0x01020304), record["addr"])
}

func TestEncodeDecodeDiscriminatedUnionFallback(t *testing.T) {
	s := discriminatedUnionSchema()
	value := map[string]interface{}{
		"record": map[string]interface{}{
			"__type": "CnameRecord", "target": "example.com",
		},
	}
	data, err := Encode(s, "Message", value, EngineOptions{})
	require.NoError(t, err)

	decoded, err := Decode(s, "Message", data, EngineOptions{})
	require.NoError(t, err)
	record := decoded["record"].(map[string]interface{})
	require.Equal(t, "CnameRecord", record["__type"])
	require.Equal(t, "example.com", record["target"])
}

// backReferenceSchema is S2 from spec.md §8, the DNS message-compression
// shape: a Label/LabelPointer union where a pointer occurrence points back
// at a plain Label occurrence of the same union, sharing one compression
// dictionary rather than each wrapping its own private back-reference field.
func backReferenceSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["Label"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "name", Type: schema.StringType{Kind: schema.StringLengthPrefixed, LengthType: "uint8", Encoding: schema.EncodingASCII}},
	}}}
	bigEndian := runtime.BigEndian
	s.Types["LabelPointer"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "target", Type: schema.BackReferenceType{
			Storage: "uint16", OffsetMask: 0x3FFF, OffsetFrom: schema.FromMessageStart,
			TargetType: "Label", Endianness: &bigEndian,
		}},
	}}}
	// The next byte's top two bits distinguish a pointer (0b11, the DNS
	// compression marker) from a Label's own length-prefix byte (always
	// <64, so its top two bits are never both set).
	whenPointer, _ := schema.ParseExpr("(value & 0xC0) == 0xC0")
	labelOrPointer := schema.UnionType{
		Discriminator: schema.Discriminator{Kind: schema.DiscriminatorPeek, PeekWidth: "uint8"},
		Variants: []schema.Variant{
			{TypeName: "LabelPointer", When: whenPointer},
			{TypeName: "Label", IsFallback: true},
		},
	}
	s.Types["Message"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "first", Type: labelOrPointer},
		{Name: "second", Type: labelOrPointer},
	}}}
	return s
}

func TestEncodeDecodeBackReferenceCompression(t *testing.T) {
	s := backReferenceSchema()
	value := map[string]interface{}{
		"first": map[string]interface{}{"__type": "Label", "name": "com"},
		"second": map[string]interface{}{
			"__type": "LabelPointer",
			"target": map[string]interface{}{"name": "com"},
		},
	}
	data, err := Encode(s, "Message", value, EngineOptions{})
	require.NoError(t, err)
	// spec.md §8 S2's exact wire example: a 4-byte Label("com") followed by a
	// 2-byte pointer back to its start, not a second inline copy.
	require.Equal(t, []byte{0x03, 'c', 'o', 'm', 0xC0, 0x00}, data)

	decoded, err := Decode(s, "Message", data, EngineOptions{})
	require.NoError(t, err)
	first := decoded["first"].(map[string]interface{})
	second := decoded["second"].(map[string]interface{})
	require.Equal(t, "Label", first["__type"])
	require.Equal(t, "com", first["name"])
	require.Equal(t, "LabelPointer", second["__type"])
	target := second["target"].(map[string]interface{})
	require.Equal(t, "com", target["name"])
}

// lengthOfSchema is S3 from spec.md §8: a length field computed from
// everything after itself (content-first emission via a deferred patch).
func lengthOfSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["Frame"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "length", Type: schema.IntegerType{Width: 16}, Computed: schema.LengthOf{FromAfterField: "length"}},
		{Name: "kind", Type: schema.IntegerType{Width: 8}},
		{Name: "payload", Type: schema.StringType{Kind: schema.StringLengthPrefixed, LengthType: "uint8", Encoding: schema.EncodingUTF8}},
	}}}
	return s
}

func TestLengthOfFromAfterFieldContentFirstEmission(t *testing.T) {
	s := lengthOfSchema()
	value := map[string]interface{}{
		"kind":    uint64(7),
		"payload": "hello",
	}
	data, err := Encode(s, "Frame", value, EngineOptions{})
	require.NoError(t, err)
	// 1 (kind) + 1 (payload length prefix) + 5 (payload) = 7 bytes after the length field.
	require.Equal(t, []byte{0x00, 0x07}, data[:2])

	decoded, err := Decode(s, "Frame", data, EngineOptions{StrictLengths: true})
	require.NoError(t, err)
	require.EqualValues(t, uint64(7), decoded["length"])
	require.Equal(t, "hello", decoded["payload"])
}

// sumOfTypeSizesSchema is S6 from spec.md §8: a byte-count field summing the
// isolated wire size of every array element matching one variant type, where
// the array's elements are themselves a peek-discriminated union.
func sumOfTypeSizesSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["Small"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "v", Type: schema.IntegerType{Width: 8}},
	}}}
	s.Types["Big"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "v", Type: schema.IntegerType{Width: 32}},
	}}}
	whenSmall, _ := schema.ParseExpr("value == 0")
	itemType := schema.UnionType{
		Discriminator: schema.Discriminator{Kind: schema.DiscriminatorPeek, PeekWidth: "uint8"},
		Variants: []schema.Variant{
			{TypeName: "Small", When: whenSmall},
			{TypeName: "Big", IsFallback: true},
		},
	}
	s.Types["Batch"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{
			Name: "small_bytes", Type: schema.IntegerType{Width: 16},
			Computed: schema.SumOfTypeSizes{Target: schema.MustParsePath("items"), ElementType: "Small"},
		},
		{Name: "items", Type: schema.ArrayType{
			Items: schema.Field{Type: itemType}, Kind: schema.ArrayLengthPrefixed, LengthType: "uint8",
		}},
	}}}
	return s
}

func TestSumOfTypeSizesComputedField(t *testing.T) {
	s := sumOfTypeSizesSchema()
	value := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"__type": "Small", "__discriminator": uint64(0), "v": uint64(0)},
			map[string]interface{}{"__type": "Big", "__discriminator": uint64(9), "v": uint64(0x09000002)},
			map[string]interface{}{"__type": "Small", "__discriminator": uint64(0), "v": uint64(0)},
		},
	}
	data, err := Encode(s, "Batch", value, EngineOptions{})
	require.NoError(t, err)
	// The peek discriminator writes no byte of its own: each element's first
	// byte (0x00 for Small, 0x09 for Big) is what the peek reads back. Each
	// Small element is 1 byte (a single uint8 "v"); two Small elements sum to 2.
	decoded, err := Decode(s, "Batch", data, EngineOptions{})
	require.NoError(t, err)
	require.EqualValues(t, uint64(2), decoded["small_bytes"])
}

func TestCrc32OfComputedField(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Checked"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "payload", Type: schema.ArrayType{
			Items: schema.Field{Type: schema.IntegerType{Width: 8}}, Kind: schema.ArrayLengthPrefixed, LengthType: "uint8",
		}},
		{
			Name: "checksum", Type: schema.IntegerType{Width: 32},
			Computed: schema.Crc32Of{Target: schema.MustParsePath("payload")},
		},
	}}}
	value := map[string]interface{}{"payload": []interface{}{uint64(1), uint64(2), uint64(3)}}
	data, err := Encode(s, "Checked", value, EngineOptions{})
	require.NoError(t, err)
	want := runtime.CRC32([]byte{1, 2, 3})
	decoded, err := Decode(s, "Checked", data, EngineOptions{})
	require.NoError(t, err)
	require.EqualValues(t, uint64(want), decoded["checksum"])
}

// positionedInstanceSchema exercises a Kaitai-Struct-style positioned
// Instance: a header field holds the absolute byte offset of a value decoded
// out of sequence.
func positionedInstanceSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["Container"] = &schema.TypeDef{Composite: &schema.CompositeType{
		Sequence: []schema.Field{
			{Name: "body_offset", Type: schema.IntegerType{Width: 16}},
			{Name: "preamble", Type: schema.StringType{Kind: schema.StringLengthPrefixed, LengthType: "uint8", Encoding: schema.EncodingUTF8}},
		},
		Instances: []schema.Instance{
			{Name: "body", Pos: "body_offset", Type: schema.IntegerType{Width: 32}},
		},
	}}
	return s
}

func TestPositionedInstanceRoundTrip(t *testing.T) {
	s := positionedInstanceSchema()
	value := map[string]interface{}{
		"body_offset": uint64(0), // placeholder; Encode patches it to the instance's actual offset
		"preamble":    "hi",
		"body":        uint64(0xCAFEBABE),
	}
	data, err := Encode(s, "Container", value, EngineOptions{})
	require.NoError(t, err)

	decoded, err := Decode(s, "Container", data, EngineOptions{})
	require.NoError(t, err)
	require.EqualValues(t, uint64(0xCAFEBABE), decoded["body"])
	require.Equal(t, "hi", decoded["preamble"])
}

func TestConditionalFieldSkippedWhenFalse(t *testing.T) {
	cond, err := schema.ParseExpr("flag == 1")
	require.NoError(t, err)
	s := schema.NewSchema()
	s.Types["Maybe"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "flag", Type: schema.IntegerType{Width: 8}},
		{Name: "extra", Type: schema.IntegerType{Width: 8}, Conditional: cond},
	}}}

	absent := map[string]interface{}{"flag": uint64(0)}
	data, err := Encode(s, "Maybe", absent, EngineOptions{})
	require.NoError(t, err)
	require.Len(t, data, 1)

	decoded, err := Decode(s, "Maybe", data, EngineOptions{})
	require.NoError(t, err)
	_, hasExtra := decoded["extra"]
	require.False(t, hasExtra)

	present := map[string]interface{}{"flag": uint64(1), "extra": uint64(9)}
	data, err = Encode(s, "Maybe", present, EngineOptions{})
	require.NoError(t, err)
	require.Len(t, data, 2)
	decoded, err = Decode(s, "Maybe", data, EngineOptions{})
	require.NoError(t, err)
	require.EqualValues(t, uint64(9), decoded["extra"])
}

func TestDecodeErrorOnTruncatedStream(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Pair"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "a", Type: schema.IntegerType{Width: 32}},
		{Name: "b", Type: schema.IntegerType{Width: 32}},
	}}}
	_, err := Decode(s, "Pair", []byte{0, 0, 0, 1}, EngineOptions{})
	require.Error(t, err)
}
