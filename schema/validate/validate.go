// Package validate statically checks a schema.Schema for the eleven rule
// categories of spec.md §4.2 before it is ever handed to engine.Encode,
// engine.Decode, or annotate.Annotate. Validation is pure: it never touches
// a byte stream, only the type table.
package validate

import (
	"fmt"
	"regexp"

	"github.com/serialexp/binschema/schema"
)

// Result is the complete set of findings from one Validate call. A schema
// with a non-empty Errors slice must never be passed to the engine.
type Result struct {
	Errors []*schema.ValidationError
}

// Valid reports whether validation found nothing wrong.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate runs every rule category against s and returns the accumulated
// findings. It never panics on a malformed schema — a malformed schema is
// exactly what it exists to report.
func Validate(s *schema.Schema) Result {
	v := &validator{schema: s}
	v.checkNameHygiene()
	v.checkTypeTable()
	v.checkCircularDependencies()
	v.checkProtocol()
	return Result{Errors: v.errs}
}

type validator struct {
	schema *schema.Schema
	errs   []*schema.ValidationError
}

func (v *validator) fail(code schema.ValidationCode, typeName, field, format string, args ...interface{}) {
	v.errs = append(v.errs, &schema.ValidationError{
		Code:  code,
		Type:  typeName,
		Field: field,
		Msg:   fmt.Sprintf(format, args...),
	})
}
