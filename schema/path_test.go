package schema

import "testing"

func TestParsePathPlain(t *testing.T) {
	p, err := ParsePath("length")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if p.Root || p.Ascend != 0 || len(p.Segments) != 1 || p.Segments[0] != "length" {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if p.Raw() != "length" {
		t.Fatalf("Raw() = %q, want %q", p.Raw(), "length")
	}
}

func TestParsePathAscendAndRoot(t *testing.T) {
	p, err := ParsePath("../../count")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if p.Ascend != 2 || p.Segments[0] != "count" {
		t.Fatalf("unexpected parse: %+v", p)
	}

	root, err := ParsePath("_root.header.length")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if !root.Root || len(root.Segments) != 2 || root.Segments[1] != "length" {
		t.Fatalf("unexpected parse: %+v", root)
	}
}

func TestParsePathSelector(t *testing.T) {
	p, err := ParsePath("records[first<ARecord>]")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if p.Selector == nil || p.Selector.Kind != SelectFirst || p.Selector.Type != "ARecord" {
		t.Fatalf("unexpected selector: %+v", p.Selector)
	}
	if p.Raw() != "records[first<ARecord>]" {
		t.Fatalf("Raw() = %q", p.Raw())
	}
}

func TestParsePathRejectsMalformedSelector(t *testing.T) {
	if _, err := ParsePath("records[first<]"); err == nil {
		t.Fatalf("expected error for malformed selector")
	}
	if _, err := ParsePath("records[nope<X>]"); err == nil {
		t.Fatalf("expected error for unknown selector kind")
	}
}

func TestParsePathRejectsEmptySegment(t *testing.T) {
	if _, err := ParsePath("a..b"); err == nil {
		t.Fatalf("expected error for empty path segment")
	}
	if _, err := ParsePath("../"); err == nil {
		t.Fatalf("expected error for ascend with no field name")
	}
}
