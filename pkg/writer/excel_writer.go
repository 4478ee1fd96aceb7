package writer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// ExcelWriter streams the ledger into a single-sheet workbook
type ExcelWriter struct {
	outputPath string
	sheet      string
	row        int
	rows       int64
	book       *excelize.File
	stream     *excelize.StreamWriter
}

// NewExcelWriter creates a writer targeting Sheet1 from row 1
func NewExcelWriter() *ExcelWriter {
	return &ExcelWriter{sheet: defaultSheet, row: 1}
}

func (w *ExcelWriter) Initialize(ctx context.Context, opts Options, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.outputPath = outputPath
	if opts.SheetName != "" {
		w.sheet = opts.SheetName
	}
	if opts.StartRow > 0 {
		w.row = opts.StartRow
	}

	book := excelize.NewFile()
	if w.sheet != defaultSheet {
		if err := book.SetSheetName(defaultSheet, w.sheet); err != nil {
			book.Close()
			return fmt.Errorf("failed to name sheet: %w", err)
		}
	}
	stream, err := book.NewStreamWriter(w.sheet)
	if err != nil {
		book.Close()
		return fmt.Errorf("failed to create stream writer: %w", err)
	}
	w.book, w.stream = book, stream
	return nil
}

// WriteHeader writes the column headers. Widths have to be set before the
// first row reaches the stream.
func (w *ExcelWriter) WriteHeader(columns []Column) error {
	if w.stream == nil {
		return errNotInitialized
	}
	names := make([]any, len(columns))
	for i, col := range columns {
		names[i] = col.Name
		if col.Width <= 0 {
			continue
		}
		if err := w.stream.SetColWidth(i+1, i+1, col.Width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return w.appendRow(names)
}

// WriteRecords appends data records; integers become numeric cells
func (w *ExcelWriter) WriteRecords(records [][]string) error {
	if w.stream == nil {
		return errNotInitialized
	}
	for _, record := range records {
		cells := make([]any, len(record))
		for i, v := range record {
			cells[i] = v
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cells[i] = n
			}
		}
		if err := w.appendRow(cells); err != nil {
			return err
		}
	}
	return nil
}

func (w *ExcelWriter) appendRow(cells []any) error {
	axis, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return fmt.Errorf("row %d out of range: %w", w.row, err)
	}
	if err := w.stream.SetRow(axis, cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.row, err)
	}
	w.row++
	w.rows++
	return nil
}

// Finalize serializes the workbook through a staging file
func (w *ExcelWriter) Finalize() (*FileMetadata, error) {
	if w.stream == nil {
		return nil, errNotInitialized
	}
	defer w.Cleanup()

	if err := w.stream.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush stream: %w", err)
	}
	out, err := stage(w.outputPath)
	if err != nil {
		return nil, err
	}
	if _, err := w.book.WriteTo(out); err != nil {
		out.discard()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return out.commit(w.rows)
}

func (w *ExcelWriter) Cleanup() error {
	if w.book != nil {
		w.book.Close()
	}
	w.book, w.stream = nil, nil
	return nil
}
