package nfe

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"
)

// ErrMalformedXML is returned when the source cannot be parsed as XML at all
var ErrMalformedXML = errors.New("malformed xml document")

// Node is a generic element of a parsed XML document. Namespace prefixes are
// dropped; element order is preserved.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// ParseTree reads an XML document into a Node tree and returns its root element
func ParseTree(r io.Reader) (*Node, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader

	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	roots := doc.ChildElements()
	switch len(roots) {
	case 0:
		return nil, fmt.Errorf("%w: no root element", ErrMalformedXML)
	case 1:
		return fromElement(roots[0]), nil
	default:
		return nil, fmt.Errorf("%w: multiple root elements", ErrMalformedXML)
	}
}

// fromElement copies an etree element, keeping local names only
func fromElement(el *etree.Element) *Node {
	n := &Node{Name: el.Tag}
	if len(el.Attr) > 0 {
		n.Attrs = make(map[string]string, len(el.Attr))
		for _, a := range el.Attr {
			n.Attrs[a.Key] = a.Value
		}
	}

	var text strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			n.Children = append(n.Children, fromElement(t))
		case *etree.CharData:
			text.WriteString(t.Data)
		}
	}
	n.Text = strings.TrimSpace(text.String())
	return n
}

// Child returns the first direct child with exactly the given name
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Attr returns an attribute value or ""
func (n *Node) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// Find searches the subtree depth-first for the first element named name,
// including n itself
func (n *Node) Find(name string) *Node {
	if n == nil {
		return nil
	}
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// charsetReader accepts latin-1 declarations, which some emitters still send
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "":
		return input, nil
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}
