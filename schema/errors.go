package schema

import "fmt"

// ValidationCode identifies one of the validator's rule categories (spec.md
// §4.2). Stable across versions so callers can switch on it.
type ValidationCode string

const (
	CodeUnknownType          ValidationCode = "UNKNOWN_TYPE"
	CodeDuplicateType        ValidationCode = "DUPLICATE_TYPE"
	CodeDuplicateField       ValidationCode = "DUPLICATE_FIELD"
	CodeInvalidName          ValidationCode = "INVALID_NAME"
	CodeBadReference         ValidationCode = "BAD_REFERENCE"
	CodeFieldOrder           ValidationCode = "FIELD_ORDER_VIOLATION"
	CodeComputedTypeMismatch ValidationCode = "COMPUTED_TYPE_MISMATCH"
	CodeUnionShape           ValidationCode = "UNION_SHAPE_VIOLATION"
	CodeBackReferenceShape   ValidationCode = "BACK_REFERENCE_SHAPE_VIOLATION"
	CodeOptionalShape        ValidationCode = "OPTIONAL_SHAPE_VIOLATION"
	CodeStringShape          ValidationCode = "STRING_SHAPE_VIOLATION"
	CodeCircularDependency   ValidationCode = "CIRCULAR_DEPENDENCY"
	CodeBadExpr              ValidationCode = "BAD_EXPRESSION"
	CodeChoiceShape          ValidationCode = "CHOICE_SHAPE_VIOLATION"
)

// ValidationError is a single finding from validate.Validate, always anchored
// to a type and, where applicable, a field path within it.
type ValidationError struct {
	Code  ValidationCode
	Type  string
	Field string // dotted field path within Type; empty when the finding is type-level
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Type, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Type, e.Msg)
}
