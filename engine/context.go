// Package engine is the schema-directed, interpreted encoder/decoder
// (spec.md §4.3): given a validated schema.Schema and a type name, it walks
// the type's field tree against a runtime.BitStreamEncoder/Decoder, the way
// a generated encode/decode pair would, except the field tree itself is the
// program.
//
// Encode takes a Go value tree (nested map[string]interface{} /
// []interface{} / primitives); Decode produces the same shape back out.
package engine

import (
	"fmt"

	"github.com/serialexp/binschema/schema"
)

// EngineOptions tunes optional runtime behavior documented as Open Question
// decisions in SPEC_FULL.md §E.
type EngineOptions struct {
	// Debug is carried on the per-call context; no engine code reads it, so
	// it changes neither the output nor any logging.
	Debug bool

	// StrictLengths re-derives computed fields on decode and errors if the
	// wire value disagrees, instead of trusting the wire value outright
	// (SPEC_FULL.md §E.1). length_of(from_after_field) fields are not
	// re-derived, and a field whose re-derivation itself fails is accepted
	// as decoded.
	StrictLengths bool
}

// arrayIteration tracks the element currently being walked within one array
// field, so a sibling back-reference or correlation selector
// (first<T>/last<T>/corresponding<T>) can resolve against it.
type arrayIteration struct {
	items     []interface{}
	index     int
	fieldName string
}

// ctx is the per-call walk state shared by the encoder and decoder: the
// parents/array-iteration stacks needed by path resolution and selectors,
// plus the extra bookkeeping computed fields and back-references need.
type ctx struct {
	schema *schema.Schema
	opts   EngineOptions

	// parents holds one entry per composite currently being walked,
	// outermost first, so a path like "../name" or "_root.name" can be
	// resolved by walking up the stack.
	parents []map[string]interface{}

	// arrayIterations is keyed by the array field's name and holds the most
	// recently entered iteration frame for that name, mirroring the
	// teacher's ArrayIteration map in runtime/context.go.
	arrayIterations map[string]*arrayIteration

	// fieldStartStack holds one map per composite currently being walked,
	// parallel to parents: fieldStartStack[i] records the byte offset each of
	// that composite's own named fields began at, as an absolute stream
	// position (position_of subtracts messageStart when it reads one).
	// position_of reads the top of this stack; an ascended/rooted
	// position_of target indexes further down it.
	fieldStartStack []map[string]int

	// positionTracks records, for an array field named by its own (not its
	// element's) name, the start offset of every element walked so far, so a
	// position_of [first<T>]/[last<T>]/[corresponding<T>] selector can
	// resolve an absolute byte offset instead of just a decoded value.
	positionTracks map[string]*positionTrack

	// typeOccurrence is allocated per call, keyed by type name; no selector
	// or other engine code reads or writes it.
	typeOccurrence map[string][]interface{}

	// compressionDict maps an already-emitted target type's canonical
	// content key (typeName + its content string) to the absolute byte
	// offset it was first written at, the DNS-message-compression pattern
	// from benchmarks/go-compare/binschema/dns_message.go. Every composite
	// encoded through encodeNamedType registers itself here, not just the
	// ones reached via a back-reference field, so a back-reference can point
	// at a plain sibling occurrence of its target type.
	compressionDict map[string]int

	// followingOffsets is the set of absolute byte offsets a back-reference
	// chain is currently in the middle of resolving, used to reject a
	// pointer that revisits an offset already being followed instead of
	// recursing forever.
	followingOffsets map[int]bool

	// messageStart is the absolute byte offset of the outermost Encode/Decode
	// call, the origin position_of and offset_from=message_start measure from.
	messageStart int

	// onField, when set, is called once per sequence field (and instance)
	// encoded, with its absolute byte range, in the order each field finishes
	// (a nested field before the composite containing it). The annotate
	// package supplies this to build the wire-format annotation list without
	// duplicating the field walk.
	onField func(FieldEvent)
}

// FieldEvent is one field's byte range from a single Encode call.
// annotate.Annotate consumes these to build labeled byte ranges.
type FieldEvent struct {
	Path      string
	TypeKind  string
	Start     int
	End       int
	Bitfields []BitfieldEvent // populated when TypeKind == "bitfield"
}

// BitfieldEvent is one named sub-range within a FieldEvent of kind "bitfield".
type BitfieldEvent struct {
	Name        string
	BitOffset   int
	BitSize     int
	TotalWidth  int
}

func newCtx(s *schema.Schema, opts EngineOptions) *ctx {
	return &ctx{
		schema:           s,
		opts:             opts,
		arrayIterations:  map[string]*arrayIteration{},
		positionTracks:   map[string]*positionTrack{},
		typeOccurrence:   map[string][]interface{}{},
		compressionDict:  map[string]int{},
		followingOffsets: map[int]bool{},
	}
}

// positionTrack is the per-array-field bookkeeping positionTracks holds.
type positionTrack struct {
	items  []interface{}
	starts []int
}

// pushFieldStarts enters a new composite level, returning the map the
// caller should record this level's field-start offsets into.
func (c *ctx) pushFieldStarts() map[string]int {
	m := map[string]int{}
	c.fieldStartStack = append(c.fieldStartStack, m)
	return m
}

func (c *ctx) popFieldStarts() {
	c.fieldStartStack = c.fieldStartStack[:len(c.fieldStartStack)-1]
}

// fieldStartAt returns the byte-start map ascend levels up from the
// composite currently being walked (0 = the current one), mirroring how
// resolvePath indexes c.parents.
func (c *ctx) fieldStartAt(ascend int) map[string]int {
	idx := len(c.fieldStartStack) - 1 - ascend
	if idx < 0 || idx >= len(c.fieldStartStack) {
		return nil
	}
	return c.fieldStartStack[idx]
}

func (c *ctx) rootFieldStarts() map[string]int {
	if len(c.fieldStartStack) == 0 {
		return nil
	}
	return c.fieldStartStack[0]
}

// trackElementStart is called once per array element walked, recording its
// start offset under the array field's own name (not its element type's)
// for position_of selector resolution.
func (c *ctx) trackElementStart(fieldName string, item interface{}, start int) {
	if fieldName == "" {
		return
	}
	t := c.positionTracks[fieldName]
	if t == nil {
		t = &positionTrack{}
		c.positionTracks[fieldName] = t
	}
	t.items = append(t.items, item)
	t.starts = append(t.starts, start)
}

// emitFieldEvent reports one field's wire byte range to c.onField, if a
// recorder is attached. t may be nil for an instance whose Type wasn't set.
func (c *ctx) emitFieldEvent(path string, t schema.FieldType, start, end int) {
	if c.onField == nil {
		return
	}
	ev := FieldEvent{Path: path, TypeKind: schema.KindOf(t), Start: start, End: end}
	if bf, ok := t.(schema.BitfieldType); ok {
		for _, sub := range bf.Fields {
			ev.Bitfields = append(ev.Bitfields, BitfieldEvent{
				Name: sub.Name, BitOffset: sub.Offset, BitSize: sub.Size, TotalWidth: bf.Size,
			})
		}
	}
	c.onField(ev)
}

func (c *ctx) pushParent(v map[string]interface{}) { c.parents = append(c.parents, v) }
func (c *ctx) popParent()                          { c.parents = c.parents[:len(c.parents)-1] }

func (c *ctx) currentParent() map[string]interface{} {
	if len(c.parents) == 0 {
		return nil
	}
	return c.parents[len(c.parents)-1]
}

func (c *ctx) rootParent() map[string]interface{} {
	if len(c.parents) == 0 {
		return nil
	}
	return c.parents[0]
}

// resolvePath resolves a schema.Path against the current containment stack,
// returning the raw field value (before any selector is applied).
func (c *ctx) resolvePath(p schema.Path) (interface{}, error) {
	var frame map[string]interface{}
	switch {
	case p.Root:
		frame = c.rootParent()
	case p.Ascend > 0:
		idx := len(c.parents) - 1 - p.Ascend
		if idx < 0 {
			return nil, fmt.Errorf("path %q ascends past the outermost containing type", p.Raw())
		}
		frame = c.parents[idx]
	default:
		frame = c.currentParent()
	}
	if frame == nil {
		return nil, fmt.Errorf("path %q has no containing value to resolve against", p.Raw())
	}
	var cur interface{} = frame
	for i, seg := range p.Segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q: segment %q is not a composite value", p.Raw(), seg)
		}
		val, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("path %q: field %q not found", p.Raw(), seg)
		}
		cur = val
		_ = i
	}
	if p.Selector != nil {
		return c.applySelector(cur, *p.Selector)
	}
	return cur, nil
}

// applySelector picks one element out of an array value by variant type,
// matching the [first<T>]/[last<T>]/[corresponding<T>] path suffix (spec.md
// §3.4, §4.3.4).
func (c *ctx) applySelector(v interface{}, sel schema.Selector) (interface{}, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("selector [%s<%s>] applied to a non-array value", sel.Kind, sel.Type)
	}
	matches := func(item interface{}) bool {
		m, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		tag, ok := m["__type"].(string)
		return ok && tag == sel.Type
	}
	switch sel.Kind {
	case schema.SelectFirst:
		for _, it := range items {
			if matches(it) {
				return it, nil
			}
		}
	case schema.SelectLast:
		for i := len(items) - 1; i >= 0; i-- {
			if matches(items[i]) {
				return items[i], nil
			}
		}
	case schema.SelectCorresponding:
		it := c.arrayIterations[sel.Type]
		if it == nil {
			return nil, fmt.Errorf("no active array iteration to correlate against for corresponding<%s>", sel.Type)
		}
		if it.index >= len(items) {
			return nil, fmt.Errorf("corresponding<%s> index %d out of range", sel.Type, it.index)
		}
		return items[it.index], nil
	}
	return nil, fmt.Errorf("no array element of type %q matched selector %q", sel.Type, sel.Kind)
}

// exprLookup returns a Lookup that resolves a name to an integer for Expr
// evaluation: first the pending "value" of the field under evaluation
// (supplied by the caller via extra), then a sibling in the current composite.
func (c *ctx) exprLookup(extra map[string]int64) schema.Lookup {
	return func(name string) (int64, bool) {
		if extra != nil {
			if v, ok := extra[name]; ok {
				return v, true
			}
		}
		parent := c.currentParent()
		if parent == nil {
			return 0, false
		}
		raw, ok := parent[name]
		if !ok {
			return 0, false
		}
		return toInt64(raw)
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case int8:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
