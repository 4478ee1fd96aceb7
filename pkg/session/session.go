package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fluxo/calgen/pkg/logger"
	"github.com/fluxo/calgen/pkg/render"
)

// State of a render session
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// ErrClosed is returned when a page is requested from a closed session
var ErrClosed = errors.New("render session is closed")

// Observer receives page lifecycle notifications, e.g. for metrics
type Observer interface {
	PageOpened()
	PageClosed()
}

// Config contains session settings
type Config struct {
	// MaxPages bounds the pages open at once in one session
	MaxPages int
	// PagesPerSecond paces page creation; 0 disables pacing
	PagesPerSecond float64
	Observer       Observer
}

// Manager opens render sessions on an engine
type Manager struct {
	engine render.Engine
	cfg    Config
	log    *logger.ContextLogger
}

// NewManager creates a session manager
func NewManager(engine render.Engine, cfg Config, log *logger.ContextLogger) *Manager {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Manager{
		engine: engine,
		cfg:    cfg,
		log:    log.WithComponent("session"),
	}
}

// Open launches a browser and returns an open session. A launch failure is
// returned as a RenderError with code LAUNCH_FAILED.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	log := m.log.WithSessionID(id)

	b, err := m.engine.Launch(ctx)
	if err != nil {
		var re *render.RenderError
		if !errors.As(err, &re) {
			err = render.NewRenderError(render.ErrCodeLaunchFailed, "failed to launch browser", err)
		}
		log.LogError("SessionLaunchFailed", "Render session could not be opened",
			render.ErrCodeLaunchFailed, err.Error(), logger.Fields{"engine": m.engine.Name()})
		return nil, err
	}

	s := &Session{
		id:       id,
		browser:  b,
		sem:      semaphore.NewWeighted(int64(m.cfg.MaxPages)),
		observer: m.cfg.Observer,
		state:    StateOpen,
		openedAt: time.Now(),
		log:      log,
	}
	if m.cfg.PagesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(m.cfg.PagesPerSecond), 1)
	}

	log.LogSessionOpened("Render session opened", logger.Fields{
		"engine":    m.engine.Name(),
		"max_pages": m.cfg.MaxPages,
	})
	return s, nil
}

// Session is one browser instance shared by concurrent page renders.
// It moves Closed -> Open -> Closed exactly once.
type Session struct {
	id       string
	browser  render.Browser
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	observer Observer
	openedAt time.Time
	log      *logger.ContextLogger

	mu        sync.Mutex
	state     State
	pages     sync.WaitGroup
	openPages atomic.Int64
	closeErr  error
	closeOnce sync.Once
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenPages returns the number of pages currently open
func (s *Session) OpenPages() int {
	return int(s.openPages.Load())
}

// WithPage opens a page, runs fn and closes the page whatever fn returns.
// At most MaxPages pages are open at once. timeout starts once the slot is
// held and covers opening the page and fn; overrunning it is RENDER_TIMEOUT.
func (s *Session) WithPage(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, page render.Page) error) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return render.NewRenderError(render.ErrCodePageFailed, "cannot open page", ErrClosed)
	}
	s.pages.Add(1)
	s.mu.Unlock()
	defer s.pages.Done()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return render.NewRenderError(render.ErrCodePageFailed, "waiting for a page slot", err)
	}
	defer s.sem.Release(1)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return render.NewRenderError(render.ErrCodePageFailed, "waiting for page pacing", err)
		}
	}

	pageCtx, cancel := render.PageContext(ctx, timeout)
	defer cancel()
	return render.TimeoutError(ctx, pageCtx, timeout, s.runPage(pageCtx, fn))
}

func (s *Session) runPage(ctx context.Context, fn func(ctx context.Context, page render.Page) error) error {
	page, err := s.browser.NewPage(ctx)
	if err != nil {
		return render.NewRenderError(render.ErrCodePageFailed, "failed to open page", err)
	}
	s.openPages.Add(1)
	if s.observer != nil {
		s.observer.PageOpened()
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.log.LogWarn("PageCloseFailed", "Page did not close cleanly", logger.Fields{"error": err.Error()})
		}
		s.openPages.Add(-1)
		if s.observer != nil {
			s.observer.PageClosed()
		}
	}()

	return fn(ctx, page)
}

// Close stops accepting pages, waits for every open page to be closed and
// then shuts the browser down. Calling Close again returns the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.pages.Wait()
		s.closeErr = s.browser.Close()

		s.log.LogSessionClosed("Render session closed", time.Since(s.openedAt), nil)
	})
	return s.closeErr
}

var _ render.PageScope = (*Session)(nil)
