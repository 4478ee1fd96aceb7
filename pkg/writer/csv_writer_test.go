package writer

import (
	"context"
	"os"
	"testing"
)

var ledgerColumns = []Column{
	{Name: "Job"},
	{Name: "Status"},
	{Name: "PDF Bytes"},
}

func TestCSVWriter_BasicLedger(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := tempDir + "/renders.csv"

	writer := NewCSVWriter()

	ctx := context.Background()
	if err := writer.Initialize(ctx, Options{}, outputPath); err != nil {
		t.Fatalf("Failed to initialize writer: %v", err)
	}

	if err := writer.WriteHeader(ledgerColumns); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	records := [][]string{
		{"simple/2026/a4/en/monday-start/yearly/portrait", "succeeded", "48213"},
		{"simple/2026/a4/en/monday-start/monthly/portrait/01", "succeeded", "51002"},
		{"simple/2026/a4/en/monday-start/monthly/portrait/02", "failed", "0"},
	}

	if err := writer.WriteRecords(records); err != nil {
		t.Fatalf("Failed to write records: %v", err)
	}

	fileMetadata, err := writer.Finalize()
	if err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}

	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Fatalf("Output file does not exist")
	}

	if fileMetadata.RowCount != 4 { // header + 3 records
		t.Errorf("Expected 4 rows, got %d", fileMetadata.RowCount)
	}

	if fileMetadata.Size == 0 {
		t.Error("File size should not be zero")
	}

	if len(fileMetadata.Checksum) != 64 {
		t.Errorf("Expected a 32-byte hex checksum, got %q", fileMetadata.Checksum)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	expectedContent := "Job,Status,PDF Bytes\n" +
		"simple/2026/a4/en/monday-start/yearly/portrait,succeeded,48213\n" +
		"simple/2026/a4/en/monday-start/monthly/portrait/01,succeeded,51002\n" +
		"simple/2026/a4/en/monday-start/monthly/portrait/02,failed,0\n"
	if string(content) != expectedContent {
		t.Errorf("Content mismatch.\nExpected:\n%s\nGot:\n%s", expectedContent, string(content))
	}
}

func TestCSVWriter_CustomDelimiter(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := tempDir + "/renders.tsv"

	writer := NewCSVWriter()

	ctx := context.Background()
	if err := writer.Initialize(ctx, Options{CSVDelimiter: "\t"}, outputPath); err != nil {
		t.Fatalf("Failed to initialize writer: %v", err)
	}

	if err := writer.WriteHeader([]Column{{Name: "Col1"}, {Name: "Col2"}}); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	if err := writer.WriteRecords([][]string{{"A", "B"}}); err != nil {
		t.Fatalf("Failed to write records: %v", err)
	}

	if _, err := writer.Finalize(); err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	expectedContent := "Col1\tCol2\nA\tB\n"
	if string(content) != expectedContent {
		t.Errorf("Content mismatch.\nExpected:\n%s\nGot:\n%s", expectedContent, string(content))
	}
}

func TestCSVWriter_SpecialCharacters(t *testing.T) {
	tempDir := t.TempDir()
	outputPath := tempDir + "/special.csv"

	writer := NewCSVWriter()

	ctx := context.Background()
	if err := writer.Initialize(ctx, Options{}, outputPath); err != nil {
		t.Fatalf("Failed to initialize writer: %v", err)
	}

	if err := writer.WriteHeader([]Column{{Name: "Error"}}); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	// navigation errors carry commas, quotes and newlines
	records := [][]string{
		{"failed to load http://x/render?year=2026&locale=fr, timeout"},
		{`net::ERR "refused"`},
		{"line1\nline2"},
	}

	if err := writer.WriteRecords(records); err != nil {
		t.Fatalf("Failed to write records: %v", err)
	}

	if _, err := writer.Finalize(); err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	expectedContent := "Error\n" +
		"\"failed to load http://x/render?year=2026&locale=fr, timeout\"\n" +
		"\"net::ERR \"\"refused\"\"\"\n" +
		"\"line1\nline2\"\n"
	if string(content) != expectedContent {
		t.Errorf("Content mismatch.\nExpected:\n%s\nGot:\n%s", expectedContent, string(content))
	}
}

func TestCSVWriter_NotInitialized(t *testing.T) {
	writer := NewCSVWriter()
	if err := writer.WriteRecords([][]string{{"x"}}); err == nil {
		t.Error("Expected error writing before Initialize")
	}
	if _, err := writer.Finalize(); err == nil {
		t.Error("Expected error finalizing before Initialize")
	}
}

func TestCSVWriter_Cleanup(t *testing.T) {
	dir := t.TempDir()
	outputPath := dir + "/partial.csv"

	writer := NewCSVWriter()
	if err := writer.Initialize(context.Background(), Options{}, outputPath); err != nil {
		t.Fatalf("Failed to initialize writer: %v", err)
	}
	if err := writer.WriteRecords([][]string{{"a", "b"}}); err != nil {
		t.Fatalf("Failed to write records: %v", err)
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("Output should not exist before Finalize")
	}

	if err := writer.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to list dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Cleanup should leave no files, found %d", len(entries))
	}
	if _, err := writer.Finalize(); err == nil {
		t.Error("Expected error finalizing after Cleanup")
	}
}
