// Package newick reads and writes phylogenetic trees in Newick format, and
// provides the few tree transformations the pipeline needs: pruning to a
// leaf set and midpoint rooting.
//
// Example:
//
//   ((A:0.1,B:0.2)0.95:0.05,C:0.3);
//
// Internal node labels (typically bootstrap supports) are kept as Node.Name.
// Branch lengths are optional; Node.HasLength records whether one was given.
package newick

import (
	"bytes"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Node is one tree node. A node without children is a leaf.
type Node struct {
	Name      string
	Length    float64
	HasLength bool
	Children  []*Node
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree is a rooted tree.
type Tree struct {
	Root *Node
}

// Parse reads one Newick tree from r.
func Parse(r io.Reader) (*Tree, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.E(err, "newick: read")
	}
	return parse(data)
}

// ParseString parses a Newick string.
func ParseString(s string) (*Tree, error) { return parse([]byte(s)) }

type parser struct {
	data []byte
	pos  int
}

func parse(data []byte) (*Tree, error) {
	p := &parser{data: data}
	p.skipSpace()
	if p.eof() {
		return nil, errors.E(errors.Invalid, "newick: empty input")
	}
	root, err := p.subtree()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.eof() || p.data[p.pos] != ';' {
		return nil, p.errorf("expected ';'")
	}
	p.pos++
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("trailing data after ';'")
	}
	return &Tree{Root: root}, nil
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func (p *parser) errorf(msg string) error {
	return errors.E(errors.Invalid, "newick: "+msg+" at offset "+strconv.Itoa(p.pos))
}

// skipSpace skips whitespace and bracketed comments.
func (p *parser) skipSpace() {
	for !p.eof() {
		switch c := p.data[p.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case c == '[':
			end := bytes.IndexByte(p.data[p.pos:], ']')
			if end < 0 {
				p.pos = len(p.data)
				return
			}
			p.pos += end + 1
		default:
			return
		}
	}
}

func (p *parser) subtree() (*Node, error) {
	n := &Node{}
	p.skipSpace()
	if !p.eof() && p.data[p.pos] == '(' {
		p.pos++
		for {
			child, err := p.subtree()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			p.skipSpace()
			if p.eof() {
				return nil, p.errorf("unterminated '('")
			}
			c := p.data[p.pos]
			p.pos++
			if c == ')' {
				break
			}
			if c != ',' {
				return nil, p.errorf("expected ',' or ')'")
			}
		}
	}
	p.skipSpace()
	name, err := p.label()
	if err != nil {
		return nil, err
	}
	n.Name = name
	p.skipSpace()
	if !p.eof() && p.data[p.pos] == ':' {
		p.pos++
		p.skipSpace()
		start := p.pos
		for !p.eof() && strings.IndexByte("+-.0123456789eE", p.data[p.pos]) >= 0 {
			p.pos++
		}
		if n.Length, err = strconv.ParseFloat(string(p.data[start:p.pos]), 64); err != nil {
			return nil, p.errorf("bad branch length")
		}
		n.HasLength = true
	}
	return n, nil
}

func (p *parser) label() (string, error) {
	if p.eof() {
		return "", nil
	}
	if p.data[p.pos] == '\'' {
		var b strings.Builder
		p.pos++
		for {
			if p.eof() {
				return "", p.errorf("unterminated quoted label")
			}
			c := p.data[p.pos]
			p.pos++
			if c == '\'' {
				if !p.eof() && p.data[p.pos] == '\'' {
					b.WriteByte('\'')
					p.pos++
					continue
				}
				return b.String(), nil
			}
			b.WriteByte(c)
		}
	}
	start := p.pos
	for !p.eof() && !isSpecial(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos]), nil
}

func isSpecial(c byte) bool {
	return strings.IndexByte("()[]':;, \t\r\n", c) >= 0
}

// Write writes the tree in Newick format, terminated by ";\n".
func (t *Tree) Write(w io.Writer) error {
	_, err := io.WriteString(w, t.String()+"\n")
	return err
}

// String returns the Newick encoding of the tree, terminated by ';'.
func (t *Tree) String() string {
	var b strings.Builder
	writeNode(&b, t.Root)
	b.WriteByte(';')
	return b.String()
}

func writeNode(b *strings.Builder, n *Node) {
	if len(n.Children) > 0 {
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNode(b, c)
		}
		b.WriteByte(')')
	}
	b.WriteString(quoteLabel(n.Name))
	if n.HasLength {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(n.Length, 'g', -1, 64))
	}
}

func quoteLabel(s string) string {
	for i := 0; i < len(s); i++ {
		if isSpecial(s[i]) {
			return "'" + strings.Replace(s, "'", "''", -1) + "'"
		}
	}
	return s
}

// Walk calls fn on every node in preorder.
func (t *Tree) Walk(fn func(n *Node)) {
	var walk func(n *Node)
	walk = func(n *Node) {
		fn(n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
}

// Leaves returns the leaf names in preorder.
func (t *Tree) Leaves() []string {
	var names []string
	t.Walk(func(n *Node) {
		if n.IsLeaf() {
			names = append(names, n.Name)
		}
	})
	return names
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	return &Tree{Root: cloneNode(t.Root)}
}

func cloneNode(n *Node) *Node {
	c := *n
	c.Children = make([]*Node, len(n.Children))
	for i, child := range n.Children {
		c.Children[i] = cloneNode(child)
	}
	if len(c.Children) == 0 {
		c.Children = nil
	}
	return &c
}

// Prune returns a copy of the tree restricted to the leaves for which keep
// returns true. Internal nodes left with a single child are collapsed into
// that child, adding their branch lengths. Pruning every leaf is an error.
func (t *Tree) Prune(keep func(name string) bool) (*Tree, error) {
	var prune func(n *Node) *Node
	prune = func(n *Node) *Node {
		if n.IsLeaf() {
			if !keep(n.Name) {
				return nil
			}
			c := *n
			return &c
		}
		var children []*Node
		for _, child := range n.Children {
			if c := prune(child); c != nil {
				children = append(children, c)
			}
		}
		switch len(children) {
		case 0:
			return nil
		case 1:
			c := children[0]
			if n.HasLength {
				c.Length += n.Length
				c.HasLength = true
			}
			return c
		}
		c := *n
		c.Children = children
		return &c
	}
	root := prune(t.Root)
	if root == nil {
		return nil, errors.E(errors.Invalid, "newick: pruning removed every leaf")
	}
	if t.Root.HasLength {
		root.Length, root.HasLength = t.Root.Length, true
	} else {
		root.Length, root.HasLength = 0, false
	}
	return &Tree{Root: root}, nil
}
