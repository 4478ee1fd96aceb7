package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fluxo/calgen/pkg/logger"
)

const tempMarker = ".tmp-"

// TempPattern is the os.CreateTemp pattern for a staged write of name
func TempPattern(name string) string {
	return name + tempMarker + "*"
}

// IsTempFile reports whether name is a staged write created with
// TempPattern: the marker followed by the random decimal CreateTemp appends.
func IsTempFile(name string) bool {
	i := strings.LastIndex(name, tempMarker)
	if i <= 0 {
		return false
	}
	suffix := name[i+len(tempMarker):]
	if suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Manager owns the output tree: directory lifecycle, atomic writes and
// the set of paths currently being written.
type Manager struct {
	baseDir string
	logger  *logger.Logger
	mu      sync.Mutex
	claims  map[string]struct{}
}

// NewManager creates a storage manager rooted at baseDir
func NewManager(baseDir string, log *logger.Logger) (*Manager, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Manager{
		baseDir: abs,
		logger:  log,
		claims:  make(map[string]struct{}),
	}, nil
}

// BaseDir returns the absolute output root
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// ResetDir removes and recreates a directory under the output root so a rerun
// never mixes old artifacts into new output.
func (m *Manager) ResetDir(dir string) error {
	if err := m.checkUnderBase(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	m.logger.WithContext(context.Background()).WithComponent("storage").LogInfo(
		"DirectoryReset",
		"Output directory recreated",
		logger.Fields{"path": dir},
	)
	return nil
}

// RemoveFiles deletes files under the output root. Missing files are not an
// error; the number actually removed is returned.
func (m *Manager) RemoveFiles(paths ...string) (int, error) {
	removed := 0
	for _, path := range paths {
		if err := m.checkUnderBase(path); err != nil {
			return removed, err
		}
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case !os.IsNotExist(err):
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return removed, nil
}

// EnsureDirs creates the leaf directories of a plan. Safe to call repeatedly.
func (m *Manager) EnsureDirs(p OutputPaths) error {
	for _, dir := range []string{p.PDFDir, p.PreviewDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Claim reserves paths for one writer. A path already claimed by another
// in-flight writer is rejected. The returned release must be called.
func (m *Manager) Claim(paths ...string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range paths {
		if _, taken := m.claims[p]; taken {
			return nil, fmt.Errorf("output path already being written: %s", p)
		}
	}
	for _, p := range paths {
		m.claims[p] = struct{}{}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for _, p := range paths {
				delete(m.claims, p)
			}
			m.mu.Unlock()
		})
	}, nil
}

// WriteFile writes data next to path under a temporary name and renames it into
// place, so a failed write never leaves a truncated artifact behind.
func (m *Manager) WriteFile(path string, data []byte) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, TempPattern(filepath.Base(path)))
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	fail := func(err error) (int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	n, err := tmp.Write(data)
	if err != nil {
		return fail(fmt.Errorf("failed to write %s: %w", path, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync %s: %w", path, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return int64(n), nil
}

// CleanupTemp removes temporary files left under dir by an interrupted run
func (m *Manager) CleanupTemp(dir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !IsTempFile(d.Name()) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("temp cleanup walk failed: %w", err)
	}

	if removed > 0 {
		m.logger.WithContext(context.Background()).WithComponent("storage").LogInfo(
			"TempFileCleanup",
			"Stale temporary files removed",
			logger.Fields{"path": dir, "removed": removed},
		)
	}
	return removed, nil
}

func (m *Manager) checkUnderBase(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if abs == m.baseDir || !strings.HasPrefix(abs, m.baseDir+string(filepath.Separator)) {
		return fmt.Errorf("refusing to modify %s: not inside output directory %s", dir, m.baseDir)
	}
	return nil
}
