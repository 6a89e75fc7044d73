// Package schema is the typed, validated in-memory description of a wire
// format: a type table, optional schema-level configuration, and an
// optional protocol descriptor binding message codes to payload types.
//
// Every exported shape here mirrors a data-model term in spec.md §3. The
// package has no behavior beyond construction and lookup — validation
// lives in schema/validate, encoding/decoding in the engine package.
package schema

import "github.com/serialexp/binschema/runtime"

// Config carries schema-wide defaults. Any field may be overridden per-field
// where the field kind allows it (integers and back-references carry their
// own endianness; bit order is schema-global only).
type Config struct {
	Endianness runtime.Endianness
	BitOrder   runtime.BitOrder
}

// DefaultConfig returns big-endian, MSB-first — the wire-format defaults
// used throughout spec.md's scenarios when a schema omits config.
func DefaultConfig() Config {
	return Config{Endianness: runtime.BigEndian, BitOrder: runtime.MSBFirst}
}

// Schema is a complete, loaded (but not yet validated) wire-format
// description: validate.Validate must run successfully before Schema is
// passed to engine.Encode/Decode or annotate.Annotate.
type Schema struct {
	Config   Config
	Types    map[string]*TypeDef // type-name -> definition; order is insignificant, names are unique by construction
	Protocol *Protocol
}

// NewSchema returns an empty schema with default config and an empty type table.
func NewSchema() *Schema {
	return &Schema{Config: DefaultConfig(), Types: map[string]*TypeDef{}}
}

// Lookup returns the TypeDef registered under name, or nil if absent.
func (s *Schema) Lookup(name string) *TypeDef {
	return s.Types[name]
}

// Direction is the flow direction of a protocol Message.
type Direction string

const (
	ClientToServer Direction = "client_to_server"
	ServerToClient Direction = "server_to_client"
	Bidirectional  Direction = "bidirectional"
)

// Message binds a protocol message code to a payload type.
type Message struct {
	Code        uint64 // unique within a direction (checked by schema/validate)
	Name        string
	Direction   Direction
	PayloadType string
}

// Protocol is the optional protocol descriptor: a header type, optional
// framing fields, and the ordered list of messages a stream may carry.
type Protocol struct {
	Name                 string
	Version              string
	HeaderType           string
	SizeField             string // optional: name of a header field carrying payload size
	DiscriminatorPath     string // optional: path to the field selecting message type
	Messages              []Message
	Groups                []string // optional named message groupings; names only, no further structure required by the core
}
