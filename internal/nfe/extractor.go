package nfe

import (
	"strings"

	"go.uber.org/zap"
)

// PathSeparator separates tag names in a lookup path
const PathSeparator = ":"

// candidates returns the three spellings probed for one path segment:
// exact, lowercased and first-letter-lowercased. Duplicates are skipped.
func candidates(seg string) []string {
	out := []string{seg}
	if lower := strings.ToLower(seg); lower != seg {
		out = append(out, lower)
	}
	if seg != "" {
		first := strings.ToLower(seg[:1]) + seg[1:]
		if first != seg && first != strings.ToLower(seg) {
			out = append(out, first)
		}
	}
	return out
}

func childByCasing(n *Node, seg string) *Node {
	for _, name := range candidates(seg) {
		if c := n.Child(name); c != nil {
			return c
		}
	}
	return nil
}

func attrByCasing(n *Node, name string) (string, bool) {
	if n == nil || n.Attrs == nil {
		return "", false
	}
	for _, cand := range candidates(name) {
		if v, ok := n.Attrs[cand]; ok {
			return v, true
		}
	}
	return "", false
}

// LookupNode walks a colon-delimited path of tag names below n. Every
// segment is matched with three casing attempts; nil means absent.
func LookupNode(n *Node, path string) *Node {
	if n == nil {
		return nil
	}
	if path == "" {
		return n
	}
	cur := n
	for _, seg := range strings.Split(path, PathSeparator) {
		if seg == "" {
			continue
		}
		cur = childByCasing(cur, seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Lookup returns the text at path, or "" when any segment is absent. A final
// segment starting with "@" reads an attribute of the preceding element.
func Lookup(n *Node, path string) string {
	v, _ := lookup(n, path)
	return v
}

func lookup(n *Node, path string) (string, bool) {
	if attrAt := strings.LastIndex(path, PathSeparator+"@"); attrAt >= 0 || strings.HasPrefix(path, "@") {
		elemPath, attr := "", path[1:]
		if attrAt >= 0 {
			elemPath, attr = path[:attrAt], path[attrAt+2:]
		}
		return attrByCasing(LookupNode(n, elemPath), attr)
	}

	found := LookupNode(n, path)
	if found == nil {
		return "", false
	}
	return found.Text, true
}

// LookupAll returns every element matching the last segment of path, in
// document order, below the element addressed by the preceding segments.
func LookupAll(n *Node, path string) []*Node {
	parentPath, last := "", path
	if i := strings.LastIndex(path, PathSeparator); i >= 0 {
		parentPath, last = path[:i], path[i+1:]
	}

	parent := LookupNode(n, parentPath)
	if parent == nil {
		return nil
	}

	for _, name := range candidates(last) {
		var out []*Node
		for _, c := range parent.Children {
			if c.Name == name {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// Extractor performs path lookups and logs misses. A missing field is never
// an error; callers get the empty value and decide on a default.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new field extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Value returns the text at path below n, logging when the path is absent
func (e *Extractor) Value(n *Node, path string) string {
	v, ok := lookup(n, path)
	if !ok {
		e.logger.Debug("Field not present", zap.String("path", path))
	}
	return strings.TrimSpace(v)
}

// First returns the first non-empty value among paths
func (e *Extractor) First(n *Node, paths ...string) string {
	for _, p := range paths {
		if v, ok := lookup(n, p); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	e.logger.Debug("Field not present", zap.Strings("paths", paths))
	return ""
}
