package schema

// Computed is the sum type of the five computed-field kinds (spec.md §3.4).
// A Field with Computed set has no user-supplied value on encode; its value
// is derived from sibling/parent values and the current wire offset.
type Computed interface {
	computedKind() string
}

// LengthOf computes the encoded byte length of Target, or — when
// FromAfterField is set — the byte length of every field after
// FromAfterField in the containing sequence (content-first emission).
type LengthOf struct {
	Target         Path
	FromAfterField string // alternative to Target; mutually exclusive
	Encoding       string // optional, only meaningful when Target resolves to a string
	Offset         int    // optional additive offset applied to the computed length
}

func (LengthOf) computedKind() string { return "length_of" }

// Crc32Of computes the CRC-32 (IEEE, reflected) of a uint8 array Target.
type Crc32Of struct {
	Target Path
}

func (Crc32Of) computedKind() string { return "crc32_of" }

// PositionOf computes the byte offset, from the containing message's start,
// at which Target begins.
type PositionOf struct {
	Target Path
}

func (PositionOf) computedKind() string { return "position_of" }

// SumOfSizes computes the sum of the encoded byte lengths of Targets.
type SumOfSizes struct {
	Targets []Path
}

func (SumOfSizes) computedKind() string { return "sum_of_sizes" }

// SumOfTypeSizes computes the sum of the encoded byte lengths of array
// entries in Target whose variant type equals ElementType.
type SumOfTypeSizes struct {
	Target      Path
	ElementType string
}

func (SumOfTypeSizes) computedKind() string { return "sum_of_type_sizes" }
