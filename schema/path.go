package schema

import (
	"fmt"
	"strings"
)

// SelectorKind names one of the three array-element selectors usable as the
// final component of a computed-field path (spec.md §3.4).
type SelectorKind string

const (
	SelectFirst         SelectorKind = "first"
	SelectLast          SelectorKind = "last"
	SelectCorresponding SelectorKind = "corresponding"
)

// Selector picks one element out of an array field by variant type.
type Selector struct {
	Kind SelectorKind
	Type string // the T in first<T>/last<T>/corresponding<T>
}

// Path is a parsed computed-field/discriminator-field reference: `name`,
// `a.b`, `../name`, `../../name`, `_root.name`, and any of those with a
// trailing `[first<T>]`/`[last<T>]`/`[corresponding<T>]` selector on the
// final segment.
type Path struct {
	Root     bool     // "_root." prefix: ascend to the outermost encode/decode call's value
	Ascend   int       // number of "../" prefixes: ascend that many containment levels
	Segments []string  // dot-separated field names, innermost last
	Selector *Selector // optional, attaches to the final segment
}

// Raw reconstructs the original path syntax, used in error messages.
func (p Path) Raw() string {
	var b strings.Builder
	if p.Root {
		b.WriteString("_root.")
	}
	for i := 0; i < p.Ascend; i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(p.Segments, "."))
	if p.Selector != nil {
		fmt.Fprintf(&b, "[%s<%s>]", p.Selector.Kind, p.Selector.Type)
	}
	return b.String()
}

// ParsePath parses a computed-field path expression.
func ParsePath(s string) (Path, error) {
	var p Path
	rest := s

	if strings.HasPrefix(rest, "_root.") {
		p.Root = true
		rest = strings.TrimPrefix(rest, "_root.")
	} else {
		for strings.HasPrefix(rest, "../") {
			p.Ascend++
			rest = strings.TrimPrefix(rest, "../")
		}
	}

	if rest == "" {
		return Path{}, fmt.Errorf("empty path after ascend/root prefix in %q", s)
	}

	// Split off a trailing selector, e.g. "arr[first<Label>]".
	if open := strings.IndexByte(rest, '['); open >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return Path{}, fmt.Errorf("malformed selector in path %q", s)
		}
		selExpr := rest[open+1 : len(rest)-1]
		rest = rest[:open]

		ltIdx := strings.IndexByte(selExpr, '<')
		if ltIdx < 0 || !strings.HasSuffix(selExpr, ">") {
			return Path{}, fmt.Errorf("malformed selector %q in path %q", selExpr, s)
		}
		kind := SelectorKind(selExpr[:ltIdx])
		switch kind {
		case SelectFirst, SelectLast, SelectCorresponding:
		default:
			return Path{}, fmt.Errorf("unknown selector kind %q in path %q", kind, s)
		}
		typeName := selExpr[ltIdx+1 : len(selExpr)-1]
		if typeName == "" {
			return Path{}, fmt.Errorf("selector in path %q is missing a type argument", s)
		}
		p.Selector = &Selector{Kind: kind, Type: typeName}
	}

	if rest == "" {
		return Path{}, fmt.Errorf("path %q has a selector but no field name", s)
	}

	p.Segments = strings.Split(rest, ".")
	for _, seg := range p.Segments {
		if seg == "" {
			return Path{}, fmt.Errorf("empty path segment in %q", s)
		}
	}

	return p, nil
}

// MustParsePath parses s and panics on error; used for paths embedded in
// generated/trusted test fixtures, never for schema documents supplied by a collaborator.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}
