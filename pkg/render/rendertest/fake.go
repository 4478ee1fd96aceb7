// Package rendertest provides an in-memory render engine for tests.
package rendertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/render"
)

// PNGHeader starts every fake preview
var PNGHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Engine is a fake render.Engine. Hooks may be set before use.
type Engine struct {
	// LaunchErr fails every Launch when set
	LaunchErr error
	// NavigateErr decides per URL whether navigation fails
	NavigateErr func(url string) error
	// Delay is spent inside Navigate, honouring the context
	Delay time.Duration

	mu           sync.Mutex
	launches     int
	openBrowsers int
	maxBrowsers  int
	openPages    int
	maxPages     int
	pagesOpened  int
	urls         []string
	viewports    map[string]calendar.Viewport
}

// New creates a fake engine
func New() *Engine {
	return &Engine{viewports: make(map[string]calendar.Viewport)}
}

func (e *Engine) Name() string {
	return "fake"
}

func (e *Engine) Launch(ctx context.Context) (render.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches++
	if e.LaunchErr != nil {
		return nil, render.NewRenderError(render.ErrCodeLaunchFailed, "failed to launch browser", e.LaunchErr)
	}
	e.openBrowsers++
	if e.openBrowsers > e.maxBrowsers {
		e.maxBrowsers = e.openBrowsers
	}
	return &browser{engine: e}, nil
}

// Launches returns how many times Launch was called
func (e *Engine) Launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

// OpenBrowsers returns browsers launched and not yet closed
func (e *Engine) OpenBrowsers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openBrowsers
}

// MaxOpenBrowsers is the highest number of simultaneously open browsers seen
func (e *Engine) MaxOpenBrowsers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxBrowsers
}

// OpenPages returns pages opened and not yet closed
func (e *Engine) OpenPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openPages
}

// MaxConcurrentPages is the highest number of simultaneously open pages seen
func (e *Engine) MaxConcurrentPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxPages
}

// PagesOpened is the total number of pages ever opened
func (e *Engine) PagesOpened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pagesOpened
}

// URLs returns every navigated URL in call order
func (e *Engine) URLs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.urls...)
}

// Viewport returns the viewport that was set before navigating to url
func (e *Engine) Viewport(url string) (calendar.Viewport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[url]
	return vp, ok
}

type browser struct {
	engine *Engine
	mu     sync.Mutex
	closed bool
}

func (b *browser) NewPage(ctx context.Context) (render.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("browser is closed")
	}

	e := b.engine
	e.mu.Lock()
	e.openPages++
	e.pagesOpened++
	if e.openPages > e.maxPages {
		e.maxPages = e.openPages
	}
	e.mu.Unlock()
	return &page{engine: e}, nil
}

func (b *browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("browser already closed")
	}
	b.closed = true

	b.engine.mu.Lock()
	b.engine.openBrowsers--
	b.engine.mu.Unlock()
	return nil
}

type page struct {
	engine   *Engine
	viewport calendar.Viewport
	url      string
	closed   bool
}

func (p *page) SetViewport(ctx context.Context, vp calendar.Viewport) error {
	p.viewport = vp
	return ctx.Err()
}

func (p *page) Navigate(ctx context.Context, url string) error {
	e := p.engine
	e.mu.Lock()
	e.urls = append(e.urls, url)
	e.viewports[url] = p.viewport
	e.mu.Unlock()

	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.NavigateErr != nil {
		if err := e.NavigateErr(url); err != nil {
			return err
		}
	}
	p.url = url
	return ctx.Err()
}

func (p *page) PrintPDF(ctx context.Context, paper calendar.PaperSize, landscape bool) ([]byte, error) {
	if p.url == "" {
		return nil, errors.New("nothing loaded")
	}
	return []byte(fmt.Sprintf("%%PDF-1.7 %.0fx%.0f landscape=%t %s", paper.WidthMM, paper.HeightMM, landscape, p.url)), ctx.Err()
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	if p.url == "" {
		return nil, errors.New("nothing loaded")
	}
	return append(append([]byte(nil), PNGHeader...), p.url...), ctx.Err()
}

func (p *page) Close() error {
	if p.closed {
		return errors.New("page already closed")
	}
	p.closed = true
	p.engine.mu.Lock()
	p.engine.openPages--
	p.engine.mu.Unlock()
	return nil
}

// Scope is a PageScope over a single browser without bounding or pacing
type Scope struct {
	Browser render.Browser
}

func (s Scope) WithPage(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, page render.Page) error) error {
	pageCtx, cancel := render.PageContext(ctx, timeout)
	defer cancel()

	p, err := s.Browser.NewPage(pageCtx)
	if err != nil {
		return render.NewRenderError(render.ErrCodePageFailed, "failed to open page", err)
	}
	defer p.Close()
	return render.TimeoutError(ctx, pageCtx, timeout, fn(pageCtx, p))
}
