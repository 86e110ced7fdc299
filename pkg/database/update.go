package database

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
)

// updateOp is one operator of an update document, e.g. {$set: {...}}
type updateOp struct {
	name   string
	fields *document.Document
}

// updateSpec is a parsed update: a replacement or a list of operators
type updateSpec struct {
	replacement *document.Document
	ops         []updateOp
}

var updateOperators = map[string]bool{
	"$set": true, "$unset": true, "$inc": true, "$mul": true,
	"$push": true, "$pull": true, "$addToSet": true, "$rename": true,
}

func parseUpdate(p *document.Document) (*updateSpec, error) {
	keys := p.Keys()
	if len(keys) == 0 || !strings.HasPrefix(keys[0], "$") {
		for _, k := range keys {
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("%w: cannot mix operators and fields (%s)", ErrInvalidUpdate, k)
			}
		}
		return &updateSpec{replacement: p}, nil
	}

	u := &updateSpec{}
	for _, k := range keys {
		if !updateOperators[k] {
			return nil, fmt.Errorf("%w: unknown update operator %s", ErrInvalidUpdate, k)
		}
		v, _ := p.GetValue(k)
		fields, ok := v.Doc()
		if !ok {
			return nil, fmt.Errorf("%w: %s requires a document", ErrInvalidUpdate, k)
		}
		for _, path := range fields.Keys() {
			if path == document.IDField || strings.HasPrefix(path, document.IDField+".") {
				return nil, fmt.Errorf("%w: %s cannot modify _id", ErrInvalidUpdate, k)
			}
			if k == "$rename" {
				to, _ := fields.GetValue(path)
				s, ok := to.Str()
				if !ok || s == "" || s == document.IDField {
					return nil, fmt.Errorf("%w: $rename target for %s must be a field name", ErrInvalidUpdate, path)
				}
			}
		}
		u.ops = append(u.ops, updateOp{name: k, fields: fields})
	}
	return u, nil
}

// apply returns the updated copy of cur; cur itself is left untouched
func (u *updateSpec) apply(cur *document.Document) (*document.Document, error) {
	if u.replacement != nil {
		return replace(cur, u.replacement)
	}
	next := cur.Clone()
	for _, op := range u.ops {
		for _, path := range op.fields.Keys() {
			arg, _ := op.fields.GetValue(path)
			if err := applyOperator(next, op.name, path, arg); err != nil {
				return nil, err
			}
		}
	}
	return next, nil
}

func replace(cur, with *document.Document) (*document.Document, error) {
	id, _ := cur.ID()
	if newID, ok := with.ID(); ok && !document.Equal(id, newID) {
		return nil, fmt.Errorf("%w: replacement cannot change _id", ErrInvalidUpdate)
	}
	next := document.NewDocument()
	next.SetValue(document.IDField, id)
	for _, k := range with.Keys() {
		if k == document.IDField {
			continue
		}
		v, _ := with.GetValue(k)
		next.SetValue(k, v.Clone())
	}
	return next, nil
}

func applyOperator(doc *document.Document, op, path string, arg *document.Value) error {
	cur, exists := getPath(doc, path)
	switch op {
	case "$set":
		doc.SetPath(path, arg.Clone())
	case "$unset":
		doc.UnsetPath(path)
	case "$inc", "$mul":
		if !arg.IsNumber() {
			return fmt.Errorf("%w: %s %s requires a number", ErrInvalidUpdate, op, path)
		}
		if !exists {
			if op == "$mul" {
				arg = zeroLike(arg)
			}
			doc.SetPath(path, arg.Clone())
			return nil
		}
		if !cur.IsNumber() {
			return fmt.Errorf("%w: %s on non-numeric field %s", ErrInvalidUpdate, op, path)
		}
		doc.SetPath(path, arith(cur, arg, op == "$mul"))
	case "$push", "$addToSet":
		arr, err := arrayAt(cur, exists, op, path)
		if err != nil {
			return err
		}
		for _, v := range eachValues(arg) {
			if op == "$addToSet" && containsValue(arr, v) {
				continue
			}
			arr = append(arr, v.Clone())
		}
		doc.SetPath(path, document.NewValue(arr))
	case "$pull":
		if !exists {
			return nil
		}
		arr, err := arrayAt(cur, exists, op, path)
		if err != nil {
			return err
		}
		match, err := pullMatcher(arg)
		if err != nil {
			return err
		}
		kept := make([]*document.Value, 0, len(arr))
		for _, elem := range arr {
			if !match(elem) {
				kept = append(kept, elem)
			}
		}
		doc.SetPath(path, document.NewValue(kept))
	case "$rename":
		if !exists {
			return nil
		}
		to, _ := arg.Str()
		doc.UnsetPath(path)
		doc.SetPath(to, cur)
	}
	return nil
}

// getPath follows path through sub-documents only
func getPath(doc *document.Document, path string) (*document.Value, bool) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, p := range parts {
		v, ok := cur.GetValue(p)
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if cur, ok = v.Doc(); !ok {
			return nil, false
		}
	}
	return nil, false
}

func arrayAt(cur *document.Value, exists bool, op, path string) ([]*document.Value, error) {
	if !exists {
		return []*document.Value{}, nil
	}
	arr, ok := cur.Array()
	if !ok {
		return nil, fmt.Errorf("%w: %s on non-array field %s", ErrInvalidUpdate, op, path)
	}
	return append([]*document.Value(nil), arr...), nil
}

// eachValues unpacks the {$each: [...]} modifier of $push and $addToSet
func eachValues(arg *document.Value) []*document.Value {
	if d, ok := arg.Doc(); ok && d.Len() == 1 {
		if each, ok := d.GetValue("$each"); ok {
			if arr, ok := each.Array(); ok {
				return arr
			}
		}
	}
	return []*document.Value{arg}
}

func containsValue(arr []*document.Value, v *document.Value) bool {
	for _, elem := range arr {
		if document.Equal(elem, v) {
			return true
		}
	}
	return false
}

// pullMatcher builds the element test of $pull: a condition document
// such as {$gte: 5} is evaluated against each element, a plain document
// is a filter on document elements, anything else matches by equality.
func pullMatcher(arg *document.Value) (func(*document.Value) bool, error) {
	d, ok := arg.Doc()
	if !ok {
		return func(elem *document.Value) bool { return document.Equal(elem, arg) }, nil
	}
	if keys := d.Keys(); len(keys) > 0 && strings.HasPrefix(keys[0], "$") {
		wrapped := document.NewDocument()
		wrapped.SetValue("v", arg)
		f, err := query.Compile(wrapped)
		if err != nil {
			return nil, fmt.Errorf("%w: $pull: %v", ErrInvalidUpdate, err)
		}
		return func(elem *document.Value) bool {
			holder := document.NewDocument()
			holder.SetValue("v", elem)
			return f.Matches(holder)
		}, nil
	}
	f, err := query.Compile(d)
	if err != nil {
		return nil, fmt.Errorf("%w: $pull: %v", ErrInvalidUpdate, err)
	}
	return func(elem *document.Value) bool {
		ed, ok := elem.Doc()
		return ok && f.Matches(ed)
	}, nil
}

func isInteger(v *document.Value) bool {
	return v.IsNumber() && v.Type != document.TypeFloat64
}

func zeroLike(v *document.Value) *document.Value {
	if isInteger(v) {
		return document.NewValue(int64(0))
	}
	return document.NewValue(0.0)
}

// arith adds or multiplies two numbers. Integers stay integers unless the
// result overflows.
func arith(a, b *document.Value, mul bool) *document.Value {
	if isInteger(a) && isInteger(b) {
		x, _ := a.Int()
		y, _ := b.Int()
		if mul {
			if r := x * y; x == 0 || (r/x == y && !(x == -1 && y == -1<<63)) {
				return document.NewValue(r)
			}
		} else if r := x + y; (y >= 0) == (r >= x) {
			return document.NewValue(r)
		}
	}
	x, _ := a.Float()
	y, _ := b.Float()
	if mul {
		return document.NewValue(x * y)
	}
	return document.NewValue(x + y)
}
