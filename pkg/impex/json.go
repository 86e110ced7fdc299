package impex

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mnohosten/laura-core/pkg/document"
)

// JSONWriter writes documents as JSON lines: one extended JSON object
// per line, field order preserved
type JSONWriter struct {
	w     *bufio.Writer
	count int
}

// NewJSONWriter creates a JSON lines writer
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w)}
}

// Write appends one document
func (e *JSONWriter) Write(doc *document.Document) error {
	data, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode document %d: %w", e.count, err)
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	e.count++
	return nil
}

// Flush writes buffered output
func (e *JSONWriter) Flush() error {
	return e.w.Flush()
}

// Count returns the number of documents written
func (e *JSONWriter) Count() int {
	return e.count
}

// ReadJSON calls fn for every document of r, which holds JSON lines (or
// any sequence of objects) or a single array of objects. It stops at the
// first error and returns the number of documents passed to fn.
func ReadJSON(r io.Reader, fn func(*document.Document) error) (int, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if first == '[' {
		return readJSONArray(br, fn)
	}

	next := document.NewJSONDecoder(br)
	n := 0
	for {
		doc, err := next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to decode document %d: %w", n, err)
		}
		if err := fn(doc); err != nil {
			return n, err
		}
		n++
	}
}

func readJSONArray(r io.Reader, fn func(*document.Document) error) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	v, err := document.ParseJSONValue(data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode JSON array: %w", err)
	}
	arr, _ := v.Array()
	for i, elem := range arr {
		doc, ok := elem.Doc()
		if !ok {
			return i, fmt.Errorf("element %d is %s, expected an object", i, elem.Type)
		}
		if err := fn(doc); err != nil {
			return i, err
		}
	}
	return len(arr), nil
}

// firstNonSpace peeks at the first significant byte without consuming it
func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
