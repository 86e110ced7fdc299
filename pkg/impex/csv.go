package impex

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/laura-core/pkg/document"
)

// CSVWriter writes documents as CSV rows. Columns are dotted field paths;
// without explicit fields the top-level fields of the first document are
// used.
type CSVWriter struct {
	w      *csv.Writer
	fields []string
	count  int
}

// NewCSVWriter creates a CSV writer for the given columns
func NewCSVWriter(w io.Writer, fields []string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), fields: fields}
}

// Write appends one row, writing the header before the first one
func (e *CSVWriter) Write(doc *document.Document) error {
	if e.count == 0 {
		if len(e.fields) == 0 {
			e.fields = doc.Keys()
		}
		if err := e.w.Write(e.fields); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	row := make([]string, len(e.fields))
	for i, field := range e.fields {
		if v, ok := doc.Lookup(field); ok {
			row[i] = formatCSV(v)
		}
	}
	if err := e.w.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	e.count++
	return nil
}

// Flush writes buffered output
func (e *CSVWriter) Flush() error {
	e.w.Flush()
	return e.w.Error()
}

// Count returns the number of rows written
func (e *CSVWriter) Count() int {
	return e.count
}

// formatCSV converts a value to a CSV cell. Arrays and documents are
// written as extended JSON.
func formatCSV(v *document.Value) string {
	switch v.Type {
	case document.TypeNull:
		return ""
	case document.TypeString:
		s, _ := v.Str()
		return s
	case document.TypeFloat64:
		f, _ := v.Float()
		return strconv.FormatFloat(f, 'f', -1, 64)
	case document.TypeDate:
		ts, _ := v.Time()
		return ts.Format(time.RFC3339Nano)
	case document.TypeObjectID:
		return v.Data.(document.ObjectID).Hex()
	case document.TypeArray, document.TypeDocument:
		data, err := v.MarshalJSON()
		if err != nil {
			return v.String()
		}
		return string(data)
	}
	return v.String()
}

// ReadCSV calls fn for every row of r. headers names the columns; when
// empty the first row is the header. Dotted headers build nested
// documents and empty cells are left out.
func ReadCSV(r io.Reader, headers []string, fn func(*document.Document) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if len(headers) == 0 {
		var err error
		headers, err = cr.Read()
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV header: %w", err)
		}
	}

	n := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to read CSV row %d: %w", n+1, err)
		}
		doc := document.NewDocument()
		for i, header := range headers {
			if i >= len(row) || row[i] == "" {
				continue
			}
			doc.SetPath(header, parseCSV(row[i]))
		}
		if err := fn(doc); err != nil {
			return n, err
		}
		n++
	}
}

// parseCSV infers the type of a cell: bool, integer, float, ObjectID,
// RFC 3339 date, JSON array or object, then string
func parseCSV(cell string) *document.Value {
	if cell == "true" || cell == "false" {
		return document.NewValue(cell == "true")
	}
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return document.NewValue(i)
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return document.NewValue(f)
	}
	if len(cell) == 24 {
		if oid, err := document.ObjectIDFromHex(cell); err == nil {
			return document.NewValue(oid)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, cell); err == nil {
		return document.NewValue(ts)
	}
	if strings.HasPrefix(cell, "[") || strings.HasPrefix(cell, "{") {
		if v, err := document.ParseJSONValue([]byte(cell)); err == nil {
			return v
		}
	}
	return document.NewValue(cell)
}
