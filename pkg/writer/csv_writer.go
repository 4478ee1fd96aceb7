package writer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
)

var errNotInitialized = errors.New("writer not initialized")

// CSVWriter writes the ledger as delimited text
type CSVWriter struct {
	out       *stagedFile
	buf       *bufio.Writer
	csv       *csv.Writer
	delimiter rune
	rows      int64
}

// NewCSVWriter creates a comma-delimited writer
func NewCSVWriter() *CSVWriter {
	return &CSVWriter{delimiter: ','}
}

func (w *CSVWriter) Initialize(ctx context.Context, opts Options, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if runes := []rune(opts.CSVDelimiter); len(runes) > 0 {
		w.delimiter = runes[0]
	}

	out, err := stage(outputPath)
	if err != nil {
		return err
	}
	w.out = out
	w.buf = bufio.NewWriterSize(out, 64*1024)
	w.csv = csv.NewWriter(w.buf)
	w.csv.Comma = w.delimiter
	return nil
}

func (w *CSVWriter) WriteHeader(columns []Column) error {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	if err := w.WriteRecords([][]string{names}); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	return nil
}

// WriteRecords appends data records. csv.Writer quotes per RFC 4180.
func (w *CSVWriter) WriteRecords(records [][]string) error {
	if w.csv == nil {
		return errNotInitialized
	}
	if err := w.csv.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.rows += int64(len(records))
	return nil
}

func (w *CSVWriter) Finalize() (*FileMetadata, error) {
	if w.csv == nil {
		return nil, errNotInitialized
	}
	// WriteAll flushed the csv layer; the bufio layer still holds bytes
	if err := w.buf.Flush(); err != nil {
		w.out.discard()
		return nil, fmt.Errorf("failed to flush buffer: %w", err)
	}
	meta, err := w.out.commit(w.rows)
	w.csv = nil
	return meta, err
}

func (w *CSVWriter) Cleanup() error {
	if w.out != nil {
		w.out.discard()
	}
	w.csv = nil
	return nil
}
