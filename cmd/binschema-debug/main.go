// Command binschema-debug hand-builds a small schema, encodes a value,
// decodes the bytes back, and prints the wire-format annotation for it —
// a scratch harness for poking at the interpreted engine by hand.
package main

import (
	"fmt"
	"log"

	"github.com/serialexp/binschema/annotate"
	"github.com/serialexp/binschema/engine"
	"github.com/serialexp/binschema/schema"
)

func buildSchema() *schema.Schema {
	s := schema.NewSchema()
	s.Types["Greeting"] = &schema.TypeDef{
		Composite: &schema.CompositeType{
			Sequence: []schema.Field{
				{Name: "version", Type: schema.IntegerType{Width: 8, Signed: false}},
				{
					Name: "message",
					Type: schema.StringType{
						Kind:       schema.StringLengthPrefixed,
						LengthType: "uint16",
						Encoding:   schema.EncodingUTF8,
					},
				},
				{
					Name: "scores",
					Type: schema.ArrayType{
						Items: schema.Field{Type: schema.IntegerType{Width: 16, Signed: false}},
						Kind:  schema.ArrayLengthPrefixed,
						LengthType: "uint8",
					},
				},
			},
		},
	}
	return s
}

func main() {
	s := buildSchema()

	value := map[string]interface{}{
		"version": uint64(1),
		"message": "hello",
		"scores":  []interface{}{uint64(10), uint64(20), uint64(30)},
	}

	data, err := engine.Encode(s, "Greeting", value, engine.EngineOptions{})
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Printf("encoded %d bytes: % x\n", len(data), data)

	decoded, err := engine.Decode(s, "Greeting", data, engine.EngineOptions{})
	if err != nil {
		log.Fatalf("decode: %v", err)
	}
	fmt.Printf("decoded: %+v\n", decoded)

	result, err := annotate.Annotate(s, "Greeting", value)
	if err != nil {
		log.Fatalf("annotate: %v", err)
	}
	for _, a := range result.Annotations {
		fmt.Printf("  [%3d,%3d) %-10s %s\n", a.Offset, a.Offset+a.Length, a.Kind, a.Description)
	}
}
