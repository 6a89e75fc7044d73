package annotate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serialexp/binschema/schema"
)

func nestedSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["Point"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "x", Type: schema.IntegerType{Width: 16}},
		{Name: "y", Type: schema.IntegerType{Width: 16}},
	}}}
	s.Types["Flags"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "flags", Type: schema.BitfieldType{Size: 8, Fields: []schema.BitSubfield{
			{Name: "urgent", Offset: 7, Size: 1},
			{Name: "kind", Offset: 0, Size: 3},
		}}},
	}}}
	s.Types["Packet"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "version", Type: schema.IntegerType{Width: 8}},
		{Name: "origin", Type: schema.TypeRefType{Name: "Point"}},
		{Name: "header", Type: schema.TypeRefType{Name: "Flags"}},
		{Name: "checksum", Type: schema.IntegerType{Width: 8}},
	}}}
	return s
}

func TestAnnotateCoversWholeMessageAtTopLevel(t *testing.T) {
	s := nestedSchema()
	value := map[string]interface{}{
		"version": uint64(1),
		"origin":  map[string]interface{}{"x": uint64(10), "y": uint64(20)},
		"header":  map[string]interface{}{"flags": map[string]interface{}{"urgent": uint64(1), "kind": uint64(1)}},
		"checksum": uint64(0xFF),
	}
	result, err := Annotate(s, "Packet", value)
	require.NoError(t, err)
	require.Equal(t, 7, len(result.Bytes))

	top := topLevel(result.Annotations)
	require.Len(t, top, 4)
	require.Equal(t, "version", top[0].Path)
	require.Equal(t, "origin", top[1].Path)
	require.Equal(t, "header", top[2].Path)
	require.Equal(t, "checksum", top[3].Path)

	require.Equal(t, 0, top[0].Offset)
	require.Equal(t, 1, top[1].Offset)
	require.Equal(t, 5, top[2].Offset)
	require.Equal(t, 6, top[3].Offset)
	require.Equal(t, 7, top[3].Offset+top[3].Length)
}

func TestAnnotateNestedFieldsGetDottedPaths(t *testing.T) {
	s := nestedSchema()
	value := map[string]interface{}{
		"version":  uint64(1),
		"origin":   map[string]interface{}{"x": uint64(10), "y": uint64(20)},
		"header":   map[string]interface{}{"flags": map[string]interface{}{"urgent": uint64(1), "kind": uint64(1)}},
		"checksum": uint64(0xFF),
	}
	result, err := Annotate(s, "Packet", value)
	require.NoError(t, err)

	var xPath, yPath *Annotation
	for i := range result.Annotations {
		a := &result.Annotations[i]
		switch a.Path {
		case "origin.x":
			xPath = a
		case "origin.y":
			yPath = a
		}
	}
	require.NotNil(t, xPath)
	require.NotNil(t, yPath)
	require.Equal(t, 1, xPath.Offset)
	require.Equal(t, 3, yPath.Offset)
	require.Equal(t, "integer", xPath.Kind)
}

func TestAnnotateBitfieldSubRanges(t *testing.T) {
	s := nestedSchema()
	value := map[string]interface{}{
		"version":  uint64(1),
		"origin":   map[string]interface{}{"x": uint64(10), "y": uint64(20)},
		"header":   map[string]interface{}{"flags": map[string]interface{}{"urgent": uint64(1), "kind": uint64(1)}},
		"checksum": uint64(0xFF),
	}
	result, err := Annotate(s, "Packet", value)
	require.NoError(t, err)

	var flagsAnn *Annotation
	for i := range result.Annotations {
		if result.Annotations[i].Path == "header.flags" {
			flagsAnn = &result.Annotations[i]
		}
	}
	require.NotNil(t, flagsAnn)
	require.Equal(t, "bitfield", flagsAnn.Kind)
	require.Len(t, flagsAnn.Bitfields, 2)
	require.Equal(t, "urgent", flagsAnn.Bitfields[0].Name)
	require.Equal(t, 7, flagsAnn.Bitfields[0].BitOffset)
	require.Equal(t, 1, flagsAnn.Bitfields[0].BitSize)
	require.Equal(t, "kind", flagsAnn.Bitfields[1].Name)
	require.Equal(t, 0, flagsAnn.Bitfields[1].BitOffset)
	require.Equal(t, 3, flagsAnn.Bitfields[1].BitSize)
}

func TestAnnotateRejectsNothingForFlatSchema(t *testing.T) {
	s := schema.NewSchema()
	s.Types["Pair"] = &schema.TypeDef{Composite: &schema.CompositeType{Sequence: []schema.Field{
		{Name: "a", Type: schema.IntegerType{Width: 8}},
		{Name: "b", Type: schema.IntegerType{Width: 8}},
	}}}
	result, err := Annotate(s, "Pair", map[string]interface{}{"a": uint64(1), "b": uint64(2)})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, result.Bytes)
	require.Len(t, result.Annotations, 2)
}
