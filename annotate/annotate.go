// Package annotate implements the wire-format annotator (spec.md §4.4): it
// re-encodes a value tree while recording each field's byte range, then
// emits a flat list of labeled byte ranges describing what produced every
// byte of the message: the top-level fields' ranges are gap-free and
// non-overlapping, and nested fields' ranges lie inside them.
package annotate

import (
	"fmt"
	"sort"

	"github.com/serialexp/binschema/engine"
	"github.com/serialexp/binschema/schema"
)

// Bitfield is one named sub-range, in bits, within a "bitfield"-kind Annotation.
type Bitfield struct {
	Name       string
	BitOffset  int
	BitSize    int
	TotalWidth int
}

// Annotation labels one byte range of an encoded message with the field
// path and field kind that produced it.
type Annotation struct {
	Offset      int
	Length      int
	Path        string
	Kind        string
	Description string
	Bitfields   []Bitfield
}

// Result is the full annotated encoding: the wire bytes plus their
// labeled ranges, in ascending offset order. The top-level (undotted-path)
// ranges cover every byte exactly once; nested ranges lie inside them.
type Result struct {
	Bytes       []byte
	Annotations []Annotation
}

// Annotate encodes value as typeName and labels every byte range it
// produced, at every nesting level: a field that is itself a composite,
// union, or choice gets one Annotation spanning its
// full range AND its inner fields get their own (dotted-path) Annotations
// within that range. It returns an error if encoding fails, or if the
// type's direct (depth-1) fields don't fully and exactly cover the encoded
// bytes — every byte must belong to exactly one top-level field, a
// consequence of the engine always encoding fields of one composite
// strictly in sequence.
func Annotate(s *schema.Schema, typeName string, value map[string]interface{}) (*Result, error) {
	var events []engine.FieldEvent
	data, err := engine.EncodeWithEvents(s, typeName, value, engine.EngineOptions{}, func(ev engine.FieldEvent) {
		events = append(events, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Start < events[j].Start })

	annotations := make([]Annotation, 0, len(events))
	for _, ev := range events {
		a := Annotation{
			Offset:      ev.Start,
			Length:      ev.End - ev.Start,
			Path:        ev.Path,
			Kind:        ev.TypeKind,
			Description: describe(ev),
		}
		for _, bf := range ev.Bitfields {
			a.Bitfields = append(a.Bitfields, Bitfield{
				Name: bf.Name, BitOffset: bf.BitOffset, BitSize: bf.BitSize, TotalWidth: bf.TotalWidth,
			})
		}
		annotations = append(annotations, a)
	}

	if len(annotations) > 0 {
		if err := checkCoverage(topLevel(annotations), len(data)); err != nil {
			return nil, fmt.Errorf("annotate: %w", err)
		}
	}

	return &Result{Bytes: data, Annotations: annotations}, nil
}

// topLevel returns the direct (depth-1, undotted path) annotations, the
// ones guaranteed to partition the message with no gaps or overlaps.
func topLevel(annotations []Annotation) []Annotation {
	var out []Annotation
	for _, a := range annotations {
		if !containsDot(a.Path) {
			out = append(out, a)
		}
	}
	return out
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}

func describe(ev engine.FieldEvent) string {
	if ev.Path == "" {
		return fmt.Sprintf("%s (%d bytes)", ev.TypeKind, ev.End-ev.Start)
	}
	return fmt.Sprintf("%s: %s (%d bytes)", ev.Path, ev.TypeKind, ev.End-ev.Start)
}

// checkCoverage verifies the annotation list is sorted, gap-free, and
// non-overlapping, and spans exactly [0, total).
func checkCoverage(annotations []Annotation, total int) error {
	cursor := 0
	for _, a := range annotations {
		if a.Offset < cursor {
			return fmt.Errorf("overlapping annotation at offset %d (%s)", a.Offset, a.Path)
		}
		if a.Offset > cursor {
			return fmt.Errorf("gap of %d bytes before offset %d (%s)", a.Offset-cursor, a.Offset, a.Path)
		}
		cursor = a.Offset + a.Length
	}
	if cursor != total {
		return fmt.Errorf("annotations cover %d of %d bytes", cursor, total)
	}
	return nil
}
