package source

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONPath is a parsed member path such as $['song'] or $.artist.name.
type JSONPath []string

// Lookup walks rec along the path. Missing members report false.
func (p JSONPath) Lookup(rec Record) (any, bool) {
	var cur any = map[string]any(rec)
	for _, key := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (p JSONPath) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, key := range p {
		fmt.Fprintf(&b, "['%s']", key)
	}
	return b.String()
}

// ParseJSONPaths reads a JSONPaths file: {"jsonpaths": ["$['a']", "$.b", ...]}.
// The n-th path fills the n-th column of the target table.
func ParseJSONPaths(data []byte) ([]JSONPath, error) {
	var doc struct {
		JSONPaths []string `json:"jsonpaths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse jsonpaths file: %w", err)
	}
	if len(doc.JSONPaths) == 0 {
		return nil, fmt.Errorf("parse jsonpaths file: no paths")
	}

	paths := make([]JSONPath, 0, len(doc.JSONPaths))
	for i, expr := range doc.JSONPaths {
		p, err := ParseJSONPath(expr)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// ParseJSONPath parses one expression in dot or bracket notation. Array
// indexes and wildcards are not supported.
func ParseJSONPath(expr string) (JSONPath, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "$") {
		return nil, fmt.Errorf("%q: must start with $", expr)
	}
	s = s[1:]

	var path JSONPath
	for s != "" {
		switch {
		case s[0] == '.':
			s = s[1:]
			end := strings.IndexAny(s, ".[")
			if end < 0 {
				end = len(s)
			}
			if end == 0 {
				return nil, fmt.Errorf("%q: empty member name", expr)
			}
			path = append(path, s[:end])
			s = s[end:]

		case strings.HasPrefix(s, "['") || strings.HasPrefix(s, `["`):
			closing := s[1:2] + "]"
			end := strings.Index(s[2:], closing)
			if end < 0 {
				return nil, fmt.Errorf("%q: unterminated bracket", expr)
			}
			path = append(path, s[2:2+end])
			s = s[2+end+2:]

		default:
			return nil, fmt.Errorf("%q: unsupported syntax at %q", expr, s)
		}
	}

	if len(path) == 0 {
		return nil, fmt.Errorf("%q: path selects the whole record", expr)
	}
	return path, nil
}
