package index

// Limits bounds the indexes of one collection. The defaults mirror the
// storage engine the query language comes from.
type Limits struct {
	MaxIndexes        int // per collection, the implicit _id_ index included
	MaxNameLength     int // bytes
	MaxCompoundFields int
}

// DefaultLimits returns the default index limits
func DefaultLimits() Limits {
	return Limits{
		MaxIndexes:        64,
		MaxNameLength:     127,
		MaxCompoundFields: 32,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxIndexes <= 0 {
		l.MaxIndexes = def.MaxIndexes
	}
	if l.MaxNameLength <= 0 {
		l.MaxNameLength = def.MaxNameLength
	}
	if l.MaxCompoundFields <= 0 {
		l.MaxCompoundFields = def.MaxCompoundFields
	}
	return l
}

// check validates a new descriptor against the limits, given the number
// of indexes that already exist
func (l Limits) check(d *Descriptor, existing int) error {
	if existing+1 > l.MaxIndexes {
		return &LimitError{Limit: "indexes per collection", Max: l.MaxIndexes, Got: existing + 1}
	}
	// the field count goes first: a generated name grows with the fields
	if len(d.Keys) > l.MaxCompoundFields {
		return &LimitError{Limit: "fields per compound index", Max: l.MaxCompoundFields, Got: len(d.Keys)}
	}
	if len(d.Name) > l.MaxNameLength {
		return &LimitError{Limit: "index name length", Max: l.MaxNameLength, Got: len(d.Name)}
	}
	return nil
}
