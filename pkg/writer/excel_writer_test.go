package writer

import (
	"context"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExcelWriter_Ledger(t *testing.T) {
	outputPath := t.TempDir() + "/renders.xlsx"

	writer := NewExcelWriter()
	ctx := context.Background()
	if err := writer.Initialize(ctx, Options{SheetName: "Renders"}, outputPath); err != nil {
		t.Fatalf("Failed to initialize writer: %v", err)
	}

	columns := []Column{{Name: "Job", Width: 60}, {Name: "Status"}, {Name: "PDF Bytes"}}
	if err := writer.WriteHeader(columns); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	records := [][]string{
		{"simple/2026/a5/de/sunday-start/yearly/landscape", "succeeded", "40960"},
		{"simple/2026/a5/de/sunday-start/monthly/landscape/12", "failed", "0"},
	}
	if err := writer.WriteRecords(records); err != nil {
		t.Fatalf("Failed to write records: %v", err)
	}

	meta, err := writer.Finalize()
	if err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}
	if meta.RowCount != 3 {
		t.Errorf("Expected 3 rows, got %d", meta.RowCount)
	}

	f, err := excelize.OpenFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		t.Error("Default sheet should have been removed")
	}

	rows, err := f.GetRows("Renders")
	if err != nil {
		t.Fatalf("Failed to read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if rows[0][2] != "PDF Bytes" || rows[1][2] != "40960" || rows[2][1] != "failed" {
		t.Errorf("Unexpected content: %v", rows)
	}

	cellType, err := f.GetCellType("Renders", "C2")
	if err != nil {
		t.Fatalf("Failed to get cell type: %v", err)
	}
	if cellType != excelize.CellTypeNumber && cellType != excelize.CellTypeUnset {
		t.Errorf("Byte counts should be numeric, got %v", cellType)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("csv"); err != nil {
		t.Errorf("csv: %v", err)
	}
	if _, err := New("xlsx"); err != nil {
		t.Errorf("xlsx: %v", err)
	}
	if _, err := New("pdf"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
