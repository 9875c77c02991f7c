package s125

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// node is a minimal element tree. Decoded nodes carry local names only;
// nodes built for output carry their prefixed names.
type node struct {
	name     string
	attrs    []attr
	text     string
	children []*node
}

type attr struct {
	name  string
	value string
}

func elem(name string, children ...*node) *node {
	return (&node{name: name}).add(children...)
}

func textElem(name, text string) *node {
	return &node{name: name, text: text}
}

func (n *node) attr(name, value string) *node {
	n.attrs = append(n.attrs, attr{name: name, value: value})
	return n
}

func (n *node) add(children ...*node) *node {
	for _, c := range children {
		if c != nil {
			n.children = append(n.children, c)
		}
	}
	return n
}

// get returns the value of the attribute with the given local name.
func (n *node) get(local string) string {
	for _, a := range n.attrs {
		if a.name == local {
			return a.value
		}
	}
	return ""
}

func (n *node) child(local string) *node {
	for _, c := range n.children {
		if c.name == local {
			return c
		}
	}
	return nil
}

func (n *node) all(local string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == local {
			out = append(out, c)
		}
	}
	return out
}

// value returns the trimmed text of the named child.
func (n *node) value(local string) string {
	if c := n.child(local); c != nil {
		return strings.TrimSpace(c.text)
	}
	return ""
}

// find returns the first descendant, depth first, with the given name.
func (n *node) find(local string) *node {
	for _, c := range n.children {
		if c.name == local {
			return c
		}
		if f := c.find(local); f != nil {
			return f
		}
	}
	return nil
}

func decodeTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				n.attrs = append(n.attrs, attr{name: a.Name.Local, value: a.Value})
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// encode writes the tree with two-space indentation. Attribute order is the
// insertion order, so the output is fully determined by the tree.
func (n *node) encode() []byte {
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	n.write(&b, 0)
	return b.Bytes()
}

func (n *node) write(b *bytes.Buffer, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(n.name)
	for _, a := range n.attrs {
		b.WriteByte(' ')
		b.WriteString(a.name)
		b.WriteString(`="`)
		_ = xml.EscapeText(b, []byte(a.value))
		b.WriteByte('"')
	}
	switch {
	case len(n.children) > 0:
		b.WriteString(">\n")
		for _, c := range n.children {
			c.write(b, depth+1)
		}
		b.WriteString(indent)
	case n.text != "":
		b.WriteByte('>')
		_ = xml.EscapeText(b, []byte(n.text))
	default:
		b.WriteString("/>\n")
		return
	}
	b.WriteString("</")
	b.WriteString(n.name)
	b.WriteString(">\n")
}
