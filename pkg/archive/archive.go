package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/storage"
)

// Partial bundle policies
const (
	PartialKeep = "keep"
	PartialSkip = "skip"
)

// Zip comments marking bundle completeness
const (
	CommentComplete = "complete"
	CommentPartial  = "partial"
)

// Error codes for archive failures
const (
	ErrCodeSourceMissing = "SOURCE_MISSING"
	ErrCodeIncomplete    = "BUNDLE_INCOMPLETE"
	ErrCodeWriteFailed   = "ARCHIVE_WRITE_FAILED"
)

// ErrIncomplete is returned when a partial bundle is skipped by policy
var ErrIncomplete = errors.New("bundle is incomplete")

// Job describes one bundle: every file under SourceDir goes into DestPath.
type Job struct {
	Name      string
	SourceDir string
	DestPath  string
	// Expected lists the files the bundle should hold, relative to SourceDir
	// with forward slashes. Empty means completeness is not checked.
	Expected []string
}

// ManifestPath is the sidecar manifest written next to the bundle
func (j Job) ManifestPath() string {
	return storage.ManifestPath(j.DestPath)
}

// Options contains archiver settings
type Options struct {
	OnPartial string
	Manifest  bool
}

// Result describes a finished archive job
type Result struct {
	Name         string
	Path         string
	ManifestPath string
	Entries      int
	Bytes        int64
	Complete     bool
	Missing      []string
	Skipped      bool
	Duration     time.Duration
	ErrorCode    string
	Error        string
}

// Manifest lists expected and present files of a bundle
type Manifest struct {
	Bundle    string      `yaml:"bundle"`
	CreatedAt time.Time   `yaml:"created_at"`
	Complete  bool        `yaml:"complete"`
	Expected  int         `yaml:"expected"`
	Present   int         `yaml:"present"`
	Missing   []string    `yaml:"missing,omitempty"`
	Files     []FileEntry `yaml:"files"`
}

// FileEntry is one bundled file
type FileEntry struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	BLAKE3 string `yaml:"blake3"`
}

// Archiver writes zip bundles of completed output subtrees
type Archiver struct {
	opts    Options
	storage *storage.Manager
	log     *logger.ContextLogger
}

// New creates an archiver. The storage manager is used for atomic manifest writes.
func New(opts Options, store *storage.Manager, log *logger.ContextLogger) *Archiver {
	if opts.OnPartial == "" {
		opts.OnPartial = PartialKeep
	}
	return &Archiver{
		opts:    opts,
		storage: store,
		log:     log.WithComponent("archive"),
	}
}

// Archive walks job.SourceDir and writes every regular file into a zip at
// job.DestPath, preserving paths relative to the source root. The returned
// Result is never nil.
func (a *Archiver) Archive(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	log := a.log.WithDimension(job.Name)
	res := &Result{Name: job.Name}

	fail := func(code string, err error) (*Result, error) {
		res.ErrorCode = code
		res.Error = err.Error()
		res.Duration = time.Since(start)
		log.LogArchiveFailed("Bundle not written", code, err.Error(), logger.Fields{"source": job.SourceDir})
		return res, err
	}

	files, err := collect(job.SourceDir)
	if err != nil {
		return fail(ErrCodeSourceMissing, err)
	}

	res.Missing = missing(job.Expected, files)
	res.Complete = len(res.Missing) == 0
	if !res.Complete && a.opts.OnPartial == PartialSkip {
		res.Skipped = true
		return fail(ErrCodeIncomplete,
			fmt.Errorf("%w: %d of %d files missing", ErrIncomplete, len(res.Missing), len(job.Expected)))
	}

	entries, err := a.writeZip(ctx, job, files, res.Complete)
	if err != nil {
		return fail(ErrCodeWriteFailed, err)
	}
	info, err := os.Stat(job.DestPath)
	if err != nil {
		return fail(ErrCodeWriteFailed, err)
	}
	res.Path = job.DestPath
	res.Entries = len(entries)
	res.Bytes = info.Size()

	if a.opts.Manifest {
		m := Manifest{
			Bundle:    filepath.Base(job.DestPath),
			CreatedAt: time.Now().UTC(),
			Complete:  res.Complete,
			Expected:  len(job.Expected),
			Present:   len(entries),
			Missing:   res.Missing,
			Files:     entries,
		}
		data, err := yaml.Marshal(&m)
		if err != nil {
			return fail(ErrCodeWriteFailed, fmt.Errorf("failed to encode manifest: %w", err))
		}
		if _, err := a.storage.WriteFile(job.ManifestPath(), data); err != nil {
			return fail(ErrCodeWriteFailed, err)
		}
		res.ManifestPath = job.ManifestPath()
	}

	res.Duration = time.Since(start)
	fields := logger.Fields{
		"bundle":  res.Path,
		"entries": res.Entries,
		"bytes":   res.Bytes,
	}
	if res.Complete {
		log.LogArchiveCompleted("Bundle written", res.Duration, fields)
	} else {
		fields["missing"] = len(res.Missing)
		log.LogWarn("ArchivePartial", "Partial bundle written", fields)
	}
	return res, nil
}

func (a *Archiver) writeZip(ctx context.Context, job Job, files []string, complete bool) ([]FileEntry, error) {
	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(job.DestPath), storage.TempPattern(filepath.Base(job.DestPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to create bundle: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	entries := make([]FileEntry, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := addFile(zw, job.SourceDir, rel)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	comment := CommentComplete
	if !complete {
		comment = CommentPartial
	}
	if err := zw.SetComment(comment); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish bundle: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close bundle: %w", err)
	}
	if err := os.Rename(tmpPath, job.DestPath); err != nil {
		return nil, fmt.Errorf("failed to move bundle into place: %w", err)
	}
	ok = true
	return entries, nil
}

func addFile(zw *zip.Writer, root, rel string) (FileEntry, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	f, err := os.Open(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return FileEntry{}, err
	}
	hdr.Name = rel
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return FileEntry{}, fmt.Errorf("failed to add %s: %w", rel, err)
	}
	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(w, h), f)
	if err != nil {
		return FileEntry{}, fmt.Errorf("failed to compress %s: %w", rel, err)
	}
	return FileEntry{Path: rel, Size: n, BLAKE3: hex.EncodeToString(h.Sum(nil))}, nil
}

// collect lists regular files under root as sorted slash paths, skipping
// temporary files of interrupted writes.
func collect(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("bundle source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle source %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || storage.IsTempFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func missing(expected, present []string) []string {
	have := make(map[string]struct{}, len(present))
	for _, p := range present {
		have[p] = struct{}{}
	}
	var out []string
	for _, e := range expected {
		if _, ok := have[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}
