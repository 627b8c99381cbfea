package extractor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// xnode is a parsed XML element. Names are local names with the namespace
// dropped; OOXML and ODF never reuse a local name within one part in a way
// that matters here.
type xnode struct {
	name     string
	attrs    []xml.Attr
	children []*xnode
	text     string // set on character-data nodes, which have no name
}

func parseXMLTree(data []byte) (*xnode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	root := &xnode{}
	stack := []*xnode{root}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xnode{name: t.Name.Local, attrs: t.Attr}
			top.children = append(top.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.children = append(top.children, &xnode{text: string(t)})
		}
	}
	return root, nil
}

func (n *xnode) attr(local string) string {
	for _, a := range n.attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// child returns the first direct child element with the given name.
func (n *xnode) child(name string) *xnode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// find returns the first descendant element with the given name.
func (n *xnode) find(name string) *xnode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if f := c.find(name); f != nil {
			return f
		}
	}
	return nil
}

// findAll returns descendants with the given name without descending into
// matches.
func (n *xnode) findAll(name string) []*xnode {
	var out []*xnode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// textContent concatenates all character data below n.
func (n *xnode) textContent() string {
	var sb strings.Builder
	n.appendText(&sb)
	return sb.String()
}

func (n *xnode) appendText(sb *strings.Builder) {
	if n.name == "" {
		sb.WriteString(n.text)
		return
	}
	for _, c := range n.children {
		c.appendText(sb)
	}
}

// childText is the trimmed text of the first descendant named name.
func (n *xnode) childText(name string) string {
	if f := n.find(name); f != nil {
		return strings.TrimSpace(f.textContent())
	}
	return ""
}
