package writer

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// FileMetadata contains metadata about the generated file
type FileMetadata struct {
	Path     string
	Size     int64
	Checksum string
	RowCount int64
}

// Column describes one ledger column
type Column struct {
	Name string
	// Width in characters, used by spreadsheet formats; 0 keeps the default
	Width float64
}

// Options contains per-format settings
type Options struct {
	CSVDelimiter string
	SheetName    string
	StartRow     int
}

// Writer defines the interface that all format writers must implement.
// Output only appears at the final path once Finalize succeeds.
type Writer interface {
	// Initialize prepares the writer with configuration
	Initialize(ctx context.Context, opts Options, outputPath string) error

	// WriteHeader writes the column headers
	WriteHeader(columns []Column) error

	// WriteRecords appends data records
	WriteRecords(records [][]string) error

	// Finalize publishes the file and returns metadata
	Finalize() (*FileMetadata, error)

	// Cleanup discards everything written so far
	Cleanup() error
}

// New returns a writer for a ledger format: csv or xlsx
func New(format string) (Writer, error) {
	switch format {
	case "csv":
		return NewCSVWriter(), nil
	case "xlsx":
		return NewExcelWriter(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger format %q", format)
	}
}

// stagedFile is a temp file next to its destination. Bytes written through
// it are counted and hashed on the way to disk.
type stagedFile struct {
	dest   string
	tmp    *os.File
	hasher hash.Hash
	size   int64
}

func stage(dest string) (*stagedFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return &stagedFile{dest: dest, tmp: tmp, hasher: blake3.New()}, nil
}

func (s *stagedFile) Write(p []byte) (int, error) {
	n, err := s.tmp.Write(p)
	s.hasher.Write(p[:n])
	s.size += int64(n)
	return n, err
}

// commit closes the staging file and renames it into place
func (s *stagedFile) commit(rows int64) (*FileMetadata, error) {
	if err := s.tmp.Close(); err != nil {
		os.Remove(s.tmp.Name())
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(s.tmp.Name(), s.dest); err != nil {
		os.Remove(s.tmp.Name())
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}
	return &FileMetadata{
		Path:     s.dest,
		Size:     s.size,
		Checksum: hex.EncodeToString(s.hasher.Sum(nil)),
		RowCount: rows,
	}, nil
}

// discard drops the staging file; safe after commit
func (s *stagedFile) discard() {
	s.tmp.Close()
	os.Remove(s.tmp.Name())
}

var _ io.Writer = (*stagedFile)(nil)
