// Package testfixture loads JSON5 value/wire-bytes fixtures for test suites;
// no test in this module imports it. The BigInt-string and bit-array
// conveniences these fixtures rely on are re-pointed at hand-constructed
// schema.Schema values instead of a generated-code test harness.
package testfixture

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aeolun/json5"
)

// Suite is a named group of Cases sharing one bit order, loaded from a
// single *.fixture.json5 file.
type Suite struct {
	Name      string `json:"name"`
	BitOrder  string `json:"bit_order,omitempty"`
	Cases     []Case `json:"cases"`
}

// Case is one value<->bytes round-trip expectation, or an expected failure.
type Case struct {
	Description         string      `json:"description"`
	Value               interface{} `json:"value"`
	DecodedValue        interface{} `json:"decoded_value,omitempty"`
	Bytes               []byte      `json:"bytes"`
	Bits                []int       `json:"bits,omitempty"`
	Error               *string     `json:"error,omitempty"`
	ShouldErrorOnEncode  bool       `json:"should_error_on_encode,omitempty"`
	ShouldErrorOnDecode  bool       `json:"should_error_on_decode,omitempty"`
}

// Load reads and parses a single fixture file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file %s: %w", path, err)
	}
	var suite Suite
	if err := json5.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file %s: %w", path, err)
	}
	if suite.BitOrder == "" {
		suite.BitOrder = "msb_first"
	}
	suite.Cases = processBigIntInCases(suite.Cases)
	suite.Cases = convertBitsToBytes(suite.Cases, suite.BitOrder)
	return &suite, nil
}

// LoadAll reads every *.fixture.json5 file under rootDir, recursively.
func LoadAll(rootDir string) ([]*Suite, error) {
	var suites []*Suite
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".fixture.json5") {
			suite, err := Load(path)
			if err != nil {
				return err
			}
			suites = append(suites, suite)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suites, nil
}

func processBigIntInCases(cases []Case) []Case {
	for i := range cases {
		cases[i].Value = processBigIntValue(cases[i].Value)
		if cases[i].DecodedValue != nil {
			cases[i].DecodedValue = processBigIntValue(cases[i].DecodedValue)
		}
	}
	return cases
}

// processBigIntValue converts a trailing-"n" BigInt string (e.g. "12345n",
// the same convention the original TypeScript test fixtures use for values
// too large for a JSON number) into a Go int64/uint64.
func processBigIntValue(val interface{}) interface{} {
	switch v := val.(type) {
	case string:
		if strings.HasSuffix(v, "n") {
			numStr := strings.TrimSuffix(v, "n")
			if num, err := strconv.ParseInt(numStr, 10, 64); err == nil {
				return num
			}
			if num, err := strconv.ParseUint(numStr, 10, 64); err == nil {
				return num
			}
		}
		return v
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for k, inner := range v {
			result[k] = processBigIntValue(inner)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, elem := range v {
			result[i] = processBigIntValue(elem)
		}
		return result
	default:
		return v
	}
}

func convertBitsToBytes(cases []Case, bitOrder string) []Case {
	for i := range cases {
		if len(cases[i].Bits) > 0 && len(cases[i].Bytes) == 0 {
			cases[i].Bytes = bitsToBytes(cases[i].Bits, bitOrder)
		}
	}
	return cases
}

// bitsToBytes packs a bit array into bytes respecting bit order: MSB-first
// puts bit 0 of the array at position 7 of the first byte, LSB-first at
// position 0.
func bitsToBytes(bits []int, bitOrder string) []byte {
	if len(bits) == 0 {
		return []byte{}
	}
	numBytes := (len(bits) + 7) / 8
	out := make([]byte, numBytes)
	for i, bit := range bits {
		if bit == 0 {
			continue
		}
		byteIdx := i / 8
		var bitIdx int
		if bitOrder == "lsb_first" {
			bitIdx = i % 8
		} else {
			bitIdx = 7 - (i % 8)
		}
		out[byteIdx] |= 1 << uint(bitIdx)
	}
	return out
}
