package index

// IndexStats summarizes the keys of an ordered index
type IndexStats struct {
	TotalEntries int
	UniqueKeys   int
	MinKey       CompositeKey // nil when empty
	MaxKey       CompositeKey
}

// Selectivity is the share of distinct keys among entries, 1 for an
// empty index. A unique index scores 1.
func (s *IndexStats) Selectivity() float64 {
	if s.TotalEntries == 0 {
		return 1
	}
	return float64(s.UniqueKeys) / float64(s.TotalEntries)
}

// ToMap renders the statistics for collection stats output
func (s *IndexStats) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"entries":     s.TotalEntries,
		"keys":        s.UniqueKeys,
		"selectivity": s.Selectivity(),
	}
	if s.MinKey != nil {
		out["min"] = s.MinKey.String()
		out["max"] = s.MaxKey.String()
	}
	return out
}

// Stats returns per-index details keyed by index name
func (m *Manager) Stats() map[string]interface{} {
	out := make(map[string]interface{}, len(m.indexes))
	for _, idx := range m.indexes {
		var details map[string]interface{}
		switch idx := idx.(type) {
		case *OrderedIndex:
			details = idx.Stats().ToMap()
		case *TextIndex:
			details = idx.Stats()
		default:
			details = map[string]interface{}{"entries": idx.Len()}
		}
		details["kind"] = idx.Descriptor().Kind().String()
		out[idx.Descriptor().Name] = details
	}
	return out
}
