package engine

import (
	"fmt"

	"github.com/serialexp/binschema/runtime"
	"github.com/serialexp/binschema/schema"
)

// computeValue derives the wire value for a non-from_after_field computed
// field (schema.LengthOf with FromAfterField set is handled separately in
// encodeComposite, since it requires a deferred patch). fieldByteLen holds
// the encoded byte length of every sibling field walked so far in the
// current composite, the fast path used whenever Target is a plain sibling
// name.
func (c *ctx) computeValue(comp schema.Computed, fieldByteLen map[string]int, typeName string) (interface{}, error) {
	switch v := comp.(type) {
	case schema.LengthOf:
		n, err := c.measureTargetLength(v.Target, fieldByteLen)
		if err != nil {
			return nil, fmt.Errorf("length_of: %w", err)
		}
		return uint64(n + v.Offset), nil

	case schema.Crc32Of:
		data, err := c.targetBytes(v.Target)
		if err != nil {
			return nil, fmt.Errorf("crc32_of: %w", err)
		}
		return uint64(runtime.CRC32(data)), nil

	case schema.PositionOf:
		pos, err := c.resolvePositionOf(v.Target)
		if err != nil {
			return nil, fmt.Errorf("position_of: %w", err)
		}
		return uint64(pos), nil

	case schema.SumOfSizes:
		var total int
		for _, t := range v.Targets {
			n, err := c.measureTargetLength(t, fieldByteLen)
			if err != nil {
				return nil, fmt.Errorf("sum_of_sizes: %w", err)
			}
			total += n
		}
		return uint64(total), nil

	case schema.SumOfTypeSizes:
		return c.sumOfTypeSizes(v)

	default:
		return nil, fmt.Errorf("unrecognized computed-field kind %T", comp)
	}
}

// measureTargetLength resolves the encoded byte length Target refers to,
// preferring the exact wire length recorded during this composite's own
// field walk and otherwise estimating from the live value tree.
func (c *ctx) measureTargetLength(p schema.Path, fieldByteLen map[string]int) (int, error) {
	if len(p.Segments) == 1 && p.Ascend == 0 && !p.Root && p.Selector == nil {
		if n, ok := fieldByteLen[p.Segments[0]]; ok {
			return n, nil
		}
	}
	raw, err := c.resolvePath(p)
	if err != nil {
		return 0, err
	}
	return valueByteLength(raw)
}

func (c *ctx) targetBytes(p schema.Path) ([]byte, error) {
	raw, err := c.resolvePath(p)
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case []interface{}:
		out := make([]byte, len(v))
		for i, e := range v {
			u, err := asUint64(e)
			if err != nil {
				return nil, err
			}
			out[i] = byte(u)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot interpret %T as a byte array", raw)
	}
}

func valueByteLength(v interface{}) (int, error) {
	switch x := v.(type) {
	case []byte:
		return len(x), nil
	case string:
		return len(x), nil
	case []interface{}:
		return len(x), nil
	default:
		return 0, fmt.Errorf("cannot estimate byte length of %T", v)
	}
}

// resolvePositionOf computes the byte offset, relative to messageStart, that
// p refers to: a plain sibling name in the composite currently being walked
// (or an ascended/rooted one), or a [first<T>]/[last<T>]/[corresponding<T>]
// selector into a tracked array field.
func (c *ctx) resolvePositionOf(p schema.Path) (int, error) {
	if p.Selector != nil {
		return c.resolveSelectorPosition(p)
	}
	if len(p.Segments) != 1 {
		return 0, fmt.Errorf("cannot resolve position of %q: only a single-segment sibling or selector target is supported", p.Raw())
	}
	var starts map[string]int
	switch {
	case p.Root:
		starts = c.rootFieldStarts()
	case p.Ascend > 0:
		starts = c.fieldStartAt(p.Ascend)
	default:
		starts = c.fieldStartAt(0)
	}
	if starts == nil {
		return 0, fmt.Errorf("no containing field to resolve %q against", p.Raw())
	}
	start, ok := starts[p.Segments[0]]
	if !ok {
		return 0, fmt.Errorf("cannot resolve position of %q", p.Raw())
	}
	return start - c.messageStart, nil
}

func (c *ctx) resolveSelectorPosition(p schema.Path) (int, error) {
	if len(p.Segments) != 1 {
		return 0, fmt.Errorf("selector position_of target %q must name a single array field", p.Raw())
	}
	track := c.positionTracks[p.Segments[0]]
	if track == nil {
		return 0, fmt.Errorf("no array iteration recorded for %q", p.Raw())
	}
	switch p.Selector.Kind {
	case schema.SelectFirst:
		for i, item := range track.items {
			if variantTypeOf(item) == p.Selector.Type {
				return track.starts[i] - c.messageStart, nil
			}
		}
	case schema.SelectLast:
		for i := len(track.items) - 1; i >= 0; i-- {
			if variantTypeOf(track.items[i]) == p.Selector.Type {
				return track.starts[i] - c.messageStart, nil
			}
		}
	case schema.SelectCorresponding:
		iter := c.arrayIterations[p.Selector.Type]
		if iter == nil || iter.index >= len(track.starts) {
			return 0, fmt.Errorf("no active array iteration to correlate %q against", p.Raw())
		}
		return track.starts[iter.index] - c.messageStart, nil
	}
	return 0, fmt.Errorf("no element of type %q matched selector in %q", p.Selector.Type, p.Raw())
}

func variantTypeOf(v interface{}) string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	tag, _ := m["__type"].(string)
	return tag
}

// isForwardPositionTarget reports whether p is a plain sibling name that
// hasn't been walked yet in the composite currently being encoded — the
// case spec.md §4.2 item 3 allows position_of (uniquely among computed
// kinds) to target, resolved via a deferred patch once the target field is
// actually reached.
func isForwardPositionTarget(p schema.Path, starts map[string]int) bool {
	if p.Root || p.Ascend > 0 || p.Selector != nil || len(p.Segments) != 1 {
		return false
	}
	_, known := starts[p.Segments[0]]
	return !known
}

// sumOfTypeSizes re-encodes each matching array element in isolation to
// measure its wire size, since individual array-element byte lengths aren't
// tracked the way named sibling fields are.
func (c *ctx) sumOfTypeSizes(v schema.SumOfTypeSizes) (interface{}, error) {
	raw, err := c.resolvePath(v.Target)
	if err != nil {
		return nil, fmt.Errorf("sum_of_type_sizes: %w", err)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("sum_of_type_sizes: target is not an array")
	}
	savedDict := c.compressionDict
	c.compressionDict = map[string]int{}
	defer func() { c.compressionDict = savedDict }()
	savedOnField := c.onField
	c.onField = nil
	defer func() { c.onField = savedOnField }()

	var total int
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if tag, _ := m["__type"].(string); tag != v.ElementType {
			continue
		}
		scratch := runtime.NewBitStreamEncoder(c.schema.Config.BitOrder)
		if err := c.encodeNamedType(scratch, v.ElementType, m, ""); err != nil {
			return nil, fmt.Errorf("sum_of_type_sizes: %w", err)
		}
		total += len(scratch.Finish())
	}
	return uint64(total), nil
}
