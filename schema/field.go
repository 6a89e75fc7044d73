package schema

import "github.com/serialexp/binschema/runtime"

// Field is one named member of a composite's sequence (spec.md §3.3). Name
// is empty when a Field value is used standalone, e.g. as an array's Items
// or an Optional's wrapped value, where no name applies.
type Field struct {
	Name string
	Type FieldType

	Const       interface{} // compile-time value; mutually exclusive with Computed
	Conditional *Expr       // predicate over prior field names; nil means always present
	Computed    Computed    // derived value; mutually exclusive with Const
}

// FieldType is the sum type of every field shape a schema can declare.
// Concrete types implement it as a marker; callers exhaustively switch on
// the concrete type (schema/validate and engine both do this).
type FieldType interface {
	fieldTypeName() string
}

// IntegerType is a fixed-width signed or unsigned integer.
type IntegerType struct {
	Width      int // 8, 16, 32, 64
	Signed     bool
	Endianness *runtime.Endianness // nil => use Schema.Config.Endianness
}

func (IntegerType) fieldTypeName() string { return "integer" }

// FloatType is an IEEE-754 float32 or float64.
type FloatType struct {
	Width      int // 32 or 64
	Endianness *runtime.Endianness
}

func (FloatType) fieldTypeName() string { return "float" }

// BitType is a bare bit-packed integer of 1..64 bits, legal standalone or as
// a Bitfield sub-field.
type BitType struct {
	Size int
}

func (BitType) fieldTypeName() string { return "bit" }

// BitSubfield is one named, offset-positioned bit range inside a Bitfield.
type BitSubfield struct {
	Name   string
	Offset int
	Size   int
}

// BitfieldType is a fixed total bit width container of named bit ranges.
type BitfieldType struct {
	Size   int // total bits
	Fields []BitSubfield
}

func (BitfieldType) fieldTypeName() string { return "bitfield" }

// VarlengthEncoding names one of the four supported variable-length integer codecs.
type VarlengthEncoding string

const (
	VarlengthDER     VarlengthEncoding = "der"
	VarlengthLEB128  VarlengthEncoding = "leb128"
	VarlengthEBML    VarlengthEncoding = "ebml"
	VarlengthVLQ     VarlengthEncoding = "vlq"
)

// VarlengthType is a variable-length, non-negative integer in one of the
// four encodings of spec.md §4.1.3.
type VarlengthType struct {
	Encoding VarlengthEncoding
}

func (VarlengthType) fieldTypeName() string { return "varlength" }

// StringKind selects how a string's length is determined on the wire.
type StringKind string

const (
	StringFixed            StringKind = "fixed"             // fixed byte length
	StringLengthPrefixed    StringKind = "length_prefixed"    // an integer length precedes the bytes
	StringNullTerminated    StringKind = "null_terminated"    // a 0x00 byte terminates
	StringFieldReferenced   StringKind = "field_referenced"   // length taken from a named sibling field
)

// StringEncoding selects the text encoding used to validate/measure string bytes.
type StringEncoding string

const (
	EncodingUTF8  StringEncoding = "utf8"
	EncodingASCII StringEncoding = "ascii"
)

// StringType describes a length-delimited or terminated text field.
type StringType struct {
	Kind        StringKind
	Length      int    // StringFixed: byte length
	LengthType  string // StringLengthPrefixed: uint8/uint16/uint32/uint64
	LengthField string // StringFieldReferenced: name of the sibling holding the length
	Encoding    StringEncoding
	Const       *string // only legal on StringFixed
}

func (StringType) fieldTypeName() string { return "string" }

// ArrayKind selects how an array's element count or byte length is determined.
type ArrayKind string

const (
	ArrayFixed            ArrayKind = "fixed"
	ArrayLengthPrefixed    ArrayKind = "length_prefixed"
	ArrayNullTerminated    ArrayKind = "null_terminated"
	ArrayFieldReferenced   ArrayKind = "field_referenced"
	ArrayByteLengthPrefixed ArrayKind = "byte_length_prefixed"
)

// ArrayType is a homogeneous ordered sequence of Items-typed elements.
type ArrayType struct {
	Items Field // element field type; Items.Name is unused

	Kind ArrayKind

	Length         int               // ArrayFixed: element count
	LengthType     string            // ArrayLengthPrefixed/ArrayByteLengthPrefixed: integer width, or "varlength"
	LengthEncoding VarlengthEncoding // set when LengthType == "varlength"
	LengthField    string            // ArrayFieldReferenced: name of the sibling holding the count (or byte length for arrays of uint8)

	// TerminalVariants lists variant type-names that, when decoded from a
	// null_terminated array of a discriminated union, themselves end the
	// array without a trailing terminator byte (e.g. a DNS label pointer).
	TerminalVariants []string
}

func (ArrayType) fieldTypeName() string { return "array" }

// PresenceType selects the width of an Optional's presence flag.
type PresenceType string

const (
	PresenceUint8 PresenceType = "uint8"
	PresenceBit   PresenceType = "bit"
)

// OptionalType is a presence flag followed by Value if present. Nested
// optionals and optional<bit> are rejected by the validator.
type OptionalType struct {
	Value        FieldType
	PresenceType PresenceType // defaults to PresenceUint8
}

func (OptionalType) fieldTypeName() string { return "optional" }

// DiscriminatorKind selects how a union's tag is obtained.
type DiscriminatorKind string

const (
	DiscriminatorPeek  DiscriminatorKind = "peek"
	DiscriminatorField DiscriminatorKind = "field"
)

// Discriminator is a union's tag source: either a peek of the next bytes
// (peeked, not consumed) or the value of an earlier sibling field.
type Discriminator struct {
	Kind DiscriminatorKind

	// DiscriminatorPeek:
	PeekWidth      string // "uint8" | "uint16" | "uint32"
	PeekEndianness *runtime.Endianness

	// DiscriminatorField:
	FieldPath string // may be "name.subname" for a bitfield sub-field
}

// Variant is one arm of a discriminated union or choice.
type Variant struct {
	TypeName   string
	When       *Expr // nil marks the fallback variant; must be last
	IsFallback bool
}

// ByteBudget bounds the total bytes a union variant may consume, measured
// against an earlier numeric field.
type ByteBudget struct {
	Field string
}

// UnionType is a discriminated union: a tag followed by the variant type it selects.
type UnionType struct {
	Discriminator Discriminator
	Variants      []Variant
	ByteBudget    *ByteBudget
}

func (UnionType) fieldTypeName() string { return "union" }

// OffsetFrom selects the origin a back-reference's offset is measured from.
type OffsetFrom string

const (
	FromMessageStart    OffsetFrom = "message_start"
	FromCurrentPosition OffsetFrom = "current_position"
)

// BackReferenceType is a compression pointer: a small integer holding a
// masked offset to a previously-emitted (or yet-to-be-decoded, in the
// forward case) occurrence of TargetType.
type BackReferenceType struct {
	Storage    string // "uint8" | "uint16" | "uint32"
	OffsetMask uint64
	OffsetFrom OffsetFrom
	TargetType string
	Endianness *runtime.Endianness // required when Storage is multi-byte
}

func (BackReferenceType) fieldTypeName() string { return "back_reference" }

// ChoiceVariant is one candidate type of a Choice, tagged by the constant
// value of its own first field.
type ChoiceVariant struct {
	TypeName string
	Tag      int64
}

// ChoiceType is a discriminator-free variant selector: each candidate
// type's first field is a common tagged constant, and the decoder peeks
// that tag to dispatch without consuming a separate discriminator.
type ChoiceType struct {
	Variants []ChoiceVariant
}

func (ChoiceType) fieldTypeName() string { return "choice" }

// TypeRefType is a bare reference to another type in the schema's type
// table, optionally instantiating a generic template (`G<X>`).
type TypeRefType struct {
	Name     string
	TypeArgs []string // non-empty only for a generic instantiation
}

func (TypeRefType) fieldTypeName() string { return "type_ref" }

// PaddingType is byte/bit filler with no semantic value.
type PaddingType struct {
	Bits int
}

func (PaddingType) fieldTypeName() string { return "padding" }

// KindOf returns the stable discriminator name for a FieldType, used in
// error paths and switch defaults.
func KindOf(t FieldType) string {
	if t == nil {
		return "<nil>"
	}
	return t.fieldTypeName()
}
