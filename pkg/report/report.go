// Package report collects the outcome of a generation run and writes it out
// as a machine-readable summary plus a per-page ledger.
package report

import (
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fluxo/calgen/pkg/archive"
	"github.com/fluxo/calgen/pkg/render"
)

// Run states exposed through the snapshot
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
)

// Upload records one bundle publish attempt
type Upload struct {
	Bundle    string
	Backend   string
	ObjectKey string
	SignedURL string
	Size      int64
	Duration  time.Duration
	Error     string
}

// SessionFailure records a render session that could not be opened
type SessionFailure struct {
	SessionID string
	ErrorCode string
	Error     string
}

// Summary holds the counts of a run
type Summary struct {
	RunID            string
	State            string
	StartedAt        time.Time
	FinishedAt       time.Time
	RendersTotal     int
	RendersSucceeded int
	RendersFailed    int
	ArchivesComplete int
	ArchivesPartial  int
	ArchivesFailed   int
	UploadsSucceeded int
	UploadsFailed    int
	SessionsFailed   int
}

// Failed reports whether anything in the run did not succeed.
// Partial archives count as failures because some render behind them failed.
func (s Summary) Failed() bool {
	return s.RendersFailed > 0 || s.ArchivesFailed > 0 || s.ArchivesPartial > 0 ||
		s.UploadsFailed > 0 || s.SessionsFailed > 0
}

// Collector gathers results from concurrent render workers. All methods are safe
// for concurrent use.
type Collector struct {
	mu       sync.RWMutex
	runID    string
	state    string
	started  time.Time
	finished time.Time
	renders  []render.Result
	archives []archive.Result
	uploads  []Upload
	sessions []SessionFailure
}

// NewCollector creates an empty collector for a run
func NewCollector(runID string) *Collector {
	return &Collector{runID: runID, state: StatePending}
}

// RunID returns the run identifier
func (c *Collector) RunID() string {
	return c.runID
}

// Start marks the run as running
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateRunning
	c.started = time.Now()
}

// Finish marks the run as done
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDone
	c.finished = time.Now()
}

// AddRender records one page render
func (c *Collector) AddRender(r render.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renders = append(c.renders, r)
}

// AddArchive records one archive job
func (c *Collector) AddArchive(r *archive.Result) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives = append(c.archives, *r)
}

// AddUpload records one publish attempt
func (c *Collector) AddUpload(u Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, u)
}

// AddSessionFailure records a session launch failure
func (c *Collector) AddSessionFailure(f SessionFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, f)
}

// Renders returns the recorded renders sorted by job key
func (c *Collector) Renders() []render.Result {
	c.mu.RLock()
	out := append([]render.Result(nil), c.renders...)
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Job.Key() < out[j].Job.Key()
	})
	return out
}

// Archives returns the recorded archive results in completion order
func (c *Collector) Archives() []archive.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]archive.Result(nil), c.archives...)
}

// Uploads returns the recorded uploads in completion order
func (c *Collector) Uploads() []Upload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Upload(nil), c.uploads...)
}

// Summary computes the counts of everything recorded so far
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		RunID:          c.runID,
		State:          c.state,
		StartedAt:      c.started,
		FinishedAt:     c.finished,
		RendersTotal:   len(c.renders),
		SessionsFailed: len(c.sessions),
	}
	for _, r := range c.renders {
		if r.Succeeded() {
			s.RendersSucceeded++
		} else {
			s.RendersFailed++
		}
	}
	for _, a := range c.archives {
		switch {
		case a.ErrorCode != "":
			s.ArchivesFailed++
		case a.Complete:
			s.ArchivesComplete++
		default:
			s.ArchivesPartial++
		}
	}
	for _, u := range c.uploads {
		if u.Error == "" {
			s.UploadsSucceeded++
		} else {
			s.UploadsFailed++
		}
	}
	return s
}

// Snapshot returns the summary and archive states as a protobuf Struct, the
// shape served by the status RPC and written to summary.json.
func (c *Collector) Snapshot() (*structpb.Struct, error) {
	s := c.Summary()

	archives := make([]any, 0)
	for _, a := range c.Archives() {
		missing := make([]any, len(a.Missing))
		for i, m := range a.Missing {
			missing[i] = m
		}
		archives = append(archives, map[string]any{
			"name":       a.Name,
			"path":       a.Path,
			"entries":    a.Entries,
			"bytes":      a.Bytes,
			"complete":   a.Complete,
			"skipped":    a.Skipped,
			"missing":    missing,
			"error_code": a.ErrorCode,
			"error":      a.Error,
		})
	}

	uploads := make([]any, 0)
	for _, u := range c.Uploads() {
		uploads = append(uploads, map[string]any{
			"bundle":     u.Bundle,
			"backend":    u.Backend,
			"object_key": u.ObjectKey,
			"signed_url": u.SignedURL,
			"size":       u.Size,
			"error":      u.Error,
		})
	}

	c.mu.RLock()
	sessions := make([]any, 0, len(c.sessions))
	for _, f := range c.sessions {
		sessions = append(sessions, map[string]any{
			"session_id": f.SessionID,
			"error_code": f.ErrorCode,
			"error":      f.Error,
		})
	}
	c.mu.RUnlock()

	return structpb.NewStruct(map[string]any{
		"run_id":      s.RunID,
		"state":       s.State,
		"started_at":  formatTime(s.StartedAt),
		"finished_at": formatTime(s.FinishedAt),
		"failed":      s.Failed(),
		"renders": map[string]any{
			"total":     s.RendersTotal,
			"succeeded": s.RendersSucceeded,
			"failed":    s.RendersFailed,
		},
		"archives": map[string]any{
			"complete": s.ArchivesComplete,
			"partial":  s.ArchivesPartial,
			"failed":   s.ArchivesFailed,
			"bundles":  archives,
		},
		"uploads": map[string]any{
			"succeeded": s.UploadsSucceeded,
			"failed":    s.UploadsFailed,
			"bundles":   uploads,
		},
		"session_failures": sessions,
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
