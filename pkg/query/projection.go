package query

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/expression"
)

// Projection reshapes documents. Bare 0/1/true/false values are
// inclusion flags; any other value is an expression computing the field.
type Projection struct {
	root      *projNode
	inclusion bool
	computed  []computedField
}

type computedField struct {
	path string
	expr expression.Expr
}

type projNode struct {
	leaf     bool
	children map[string]*projNode
}

func newProjNode() *projNode {
	return &projNode{children: make(map[string]*projNode)}
}

// ParseProjection compiles a projection specification. Inclusion and
// exclusion cannot be mixed, except for excluding _id.
func ParseProjection(spec interface{}) (*Projection, error) {
	doc, ok := document.FromAny(spec)
	if !ok {
		return nil, fmt.Errorf("%w: projection must be a document, got %T", ErrInvalidFilter, spec)
	}
	if doc.Len() == 0 {
		return nil, fmt.Errorf("%w: projection specification is empty", ErrInvalidFilter)
	}

	p := &Projection{root: newProjNode()}
	includeID := true
	var included, excluded []string

	for _, e := range flattenProjection(doc, "") {
		key, v := e.path, e.value
		if key == "" || strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: invalid projection field %q", ErrInvalidFilter, key)
		}
		if flag, ok := projectionFlag(v); ok {
			if key == document.IDField {
				includeID = flag
				continue
			}
			if flag {
				included = append(included, key)
			} else {
				excluded = append(excluded, key)
			}
			continue
		}
		ex, err := expression.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("%w: projection field %s: %v", ErrInvalidFilter, key, err)
		}
		p.computed = append(p.computed, computedField{path: key, expr: ex})
	}

	p.inclusion = len(included) > 0 || len(p.computed) > 0
	if p.inclusion && len(excluded) > 0 {
		return nil, fmt.Errorf("%w: cannot mix inclusion and exclusion in a projection", ErrInvalidFilter)
	}

	paths := excluded
	if p.inclusion {
		paths = included
		if includeID {
			paths = append([]string{document.IDField}, paths...)
		}
	} else if !includeID {
		paths = append(paths, document.IDField)
	}
	for _, path := range paths {
		p.root.add(splitPath(path))
	}
	return p, nil
}

type projEntry struct {
	path  string
	value *document.Value
}

// flattenProjection turns nested specs like {address: {city: 1}} into
// dotted entries. Operator documents stay whole as expressions.
func flattenProjection(doc *document.Document, prefix string) []projEntry {
	var out []projEntry
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if sub, ok := v.Doc(); ok && sub.Len() > 0 && !isOperatorDocument(sub) {
			out = append(out, flattenProjection(sub, path)...)
			continue
		}
		out = append(out, projEntry{path: path, value: v})
	}
	return out
}

// projectionFlag recognises inclusion flags: booleans and numbers
func projectionFlag(v *document.Value) (bool, bool) {
	switch {
	case v.Type == document.TypeBoolean:
		b, _ := v.Bool()
		return b, true
	case v.IsNumber():
		f, _ := v.Float()
		return f != 0, true
	}
	return false, false
}

func (n *projNode) add(parts []string) {
	cur := n
	for _, part := range parts {
		if cur.leaf {
			return
		}
		child, ok := cur.children[part]
		if !ok {
			child = newProjNode()
			cur.children[part] = child
		}
		cur = child
	}
	cur.leaf = true
	cur.children = map[string]*projNode{}
}

// IsInclusion reports whether the projection lists the fields to keep
func (p *Projection) IsInclusion() bool {
	return p.inclusion
}

// Apply returns the projected copy of doc. doc is not modified.
func (p *Projection) Apply(doc *document.Document) *document.Document {
	var out *document.Document
	if p.inclusion {
		out = include(doc, p.root)
	} else {
		out = exclude(doc, p.root)
	}
	for _, c := range p.computed {
		if v := expression.Evaluate(c.expr, doc); v != nil {
			out.SetPath(c.path, v)
		}
	}
	return out
}

func include(doc *document.Document, node *projNode) *document.Document {
	out := document.NewDocument()
	for _, key := range doc.Keys() {
		child, ok := node.children[key]
		if !ok {
			continue
		}
		v, _ := doc.GetValue(key)
		if child.leaf {
			out.SetValue(key, v.Clone())
			continue
		}
		if sub := includeValue(v, child); sub != nil {
			out.SetValue(key, sub)
		}
	}
	return out
}

func includeValue(v *document.Value, node *projNode) *document.Value {
	switch v.Type {
	case document.TypeDocument:
		return document.NewValue(include(v.Data.(*document.Document), node))
	case document.TypeArray:
		arr := v.Data.([]*document.Value)
		out := make([]*document.Value, 0, len(arr))
		for _, elem := range arr {
			if sub := includeValue(elem, node); sub != nil {
				out = append(out, sub)
			}
		}
		return document.NewValue(out)
	}
	return nil
}

func exclude(doc *document.Document, node *projNode) *document.Document {
	out := document.NewDocument()
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		child, ok := node.children[key]
		if !ok {
			out.SetValue(key, v.Clone())
			continue
		}
		if child.leaf {
			continue
		}
		out.SetValue(key, excludeValue(v, child))
	}
	return out
}

func excludeValue(v *document.Value, node *projNode) *document.Value {
	switch v.Type {
	case document.TypeDocument:
		return document.NewValue(exclude(v.Data.(*document.Document), node))
	case document.TypeArray:
		arr := v.Data.([]*document.Value)
		out := make([]*document.Value, len(arr))
		for i, elem := range arr {
			out[i] = excludeValue(elem, node)
		}
		return document.NewValue(out)
	}
	return v.Clone()
}
