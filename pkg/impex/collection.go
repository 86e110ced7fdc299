// Package impex imports and exports collections as JSON lines or CSV,
// optionally zstd compressed.
package impex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mnohosten/laura-core/pkg/database"
	"github.com/mnohosten/laura-core/pkg/document"
)

// Format represents the export/import format
type Format string

const (
	// FormatJSON is JSON lines on export; import also accepts a JSON array
	FormatJSON Format = "json"
	// FormatCSV represents CSV format
	FormatCSV Format = "csv"
)

// FormatFromPath derives the format and compression from a file name
// such as people.jsonl.zst or people.csv
func FormatFromPath(path string) (Format, bool, error) {
	compressed := IsCompressed(path)
	name := strings.TrimSuffix(path, CompressedExt)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, compressed, nil
	case ".csv":
		return FormatCSV, compressed, nil
	}
	return "", false, fmt.Errorf("cannot infer format from %q", path)
}

// ExportOptions selects and shapes the exported documents
type ExportOptions struct {
	Format   Format
	Compress bool
	Level    int // zstd level, 0 = default

	Filter     interface{} // nil exports everything
	Sort       interface{}
	Projection interface{}
	Fields     []string // CSV columns
}

// Export writes the documents of coll matching opts.Filter to w and
// returns how many were written
func Export(w io.Writer, coll *database.Collection, opts ExportOptions) (int, error) {
	var findOpts []database.FindOption
	if opts.Sort != nil {
		findOpts = append(findOpts, database.WithSort(opts.Sort))
	}
	if opts.Projection != nil {
		findOpts = append(findOpts, database.WithProjection(opts.Projection))
	}
	cur, err := coll.Find(opts.Filter, findOpts...)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	out := w
	var zw io.WriteCloser
	if opts.Compress {
		zw, err = NewCompressedWriter(w, opts.Level)
		if err != nil {
			return 0, err
		}
		out = zw
	}

	var enc interface {
		Write(*document.Document) error
		Flush() error
		Count() int
	}
	switch opts.Format {
	case FormatJSON, "":
		enc = NewJSONWriter(out)
	case FormatCSV:
		enc = NewCSVWriter(out, opts.Fields)
	default:
		return 0, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	for doc := range cur.Documents() {
		if err := enc.Write(doc); err != nil {
			return enc.Count(), err
		}
	}
	if err := enc.Flush(); err != nil {
		return enc.Count(), err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return enc.Count(), fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return enc.Count(), nil
}

// ImportOptions describes the input of Import
type ImportOptions struct {
	Format     Format
	Compressed bool
	Headers    []string // CSV columns when the file has no header row
}

// Import inserts every document of r into coll. It stops at the first
// document that fails to decode or insert; the documents before it stay
// inserted and are counted.
func Import(r io.Reader, coll *database.Collection, opts ImportOptions) (int, error) {
	in := r
	if opts.Compressed {
		zr, err := NewDecompressedReader(r)
		if err != nil {
			return 0, err
		}
		defer zr.Close()
		in = zr
	}

	insert := func(doc *document.Document) error {
		_, err := coll.Insert(doc)
		return err
	}

	var (
		n   int
		err error
	)
	switch opts.Format {
	case FormatJSON, "":
		n, err = ReadJSON(in, insert)
	case FormatCSV:
		n, err = ReadCSV(in, opts.Headers, insert)
	default:
		return 0, fmt.Errorf("unsupported import format: %s", opts.Format)
	}
	if err != nil {
		return n, fmt.Errorf("document %d: %w", n, err)
	}
	return n, nil
}

// ExportFile exports coll to path, deriving the format and compression
// from the file name
func ExportFile(path string, coll *database.Collection, opts ExportOptions) (int, error) {
	format, compressed, err := FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	opts.Format, opts.Compress = format, compressed

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := Export(f, coll, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return n, err
}

// ImportFile imports path into coll, deriving the format and compression
// from the file name
func ImportFile(path string, coll *database.Collection, headers []string) (int, error) {
	format, compressed, err := FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Import(f, coll, ImportOptions{Format: format, Compressed: compressed, Headers: headers})
}
