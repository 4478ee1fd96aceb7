package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/fluxo/calgen/pkg/calendar"
	"github.com/fluxo/calgen/pkg/logger"
)

const (
	defaultLaunchTimeout = 30 * time.Second
	defaultIdleQuiet     = 500 * time.Millisecond
)

// Options configures a browser engine
type Options struct {
	// RemoteURL attaches to a running browser instead of launching one
	RemoteURL     string
	BrowserPath   string
	Headless      bool
	NoSandbox     bool
	LaunchTimeout time.Duration
	// IdleQuiet is how long the network must stay quiet before capture
	IdleQuiet time.Duration
	Logger    *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = defaultLaunchTimeout
	}
	if o.IdleQuiet <= 0 {
		o.IdleQuiet = defaultIdleQuiet
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// NewEngine returns the engine registered under name
func NewEngine(name string, opts Options) (Engine, error) {
	switch name {
	case "chromedp":
		return NewChromedpEngine(opts), nil
	case "rod":
		return NewRodEngine(opts), nil
	default:
		return nil, fmt.Errorf("unknown render engine %q", name)
	}
}

// ChromedpEngine drives Chrome over the DevTools protocol with chromedp
type ChromedpEngine struct {
	opts Options
}

// NewChromedpEngine creates a chromedp engine
func NewChromedpEngine(opts Options) *ChromedpEngine {
	return &ChromedpEngine{opts: opts.withDefaults()}
}

// Name implements Engine
func (e *ChromedpEngine) Name() string {
	return "chromedp"
}

// Launch starts a browser and waits for it to accept a first target
func (e *ChromedpEngine) Launch(ctx context.Context) (Browser, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if e.opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), e.opts.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", e.opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-background-networking", true),
			chromedp.Flag("font-render-hinting", "none"),
		)
		if e.opts.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if e.opts.BrowserPath != "" {
			opts = append(opts, chromedp.ExecPath(e.opts.BrowserPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	zl := e.opts.Logger.Zap()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(zl.Sugar().Debugf),
		chromedp.WithErrorf(zl.Sugar().Debugf),
	)

	// The first Run allocates the browser and is bound to browserCtx for the
	// browser's whole lifetime, so the launch deadline is enforced from outside.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(e.opts.LaunchTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %v", e.opts.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, NewRenderError(ErrCodeLaunchFailed, "failed to launch browser", err)
	}

	return &chromedpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		idleQuiet:   e.opts.IdleQuiet,
	}, nil
}

type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	idleQuiet   time.Duration
}

// NewPage opens a tab with network tracking enabled
func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)

	idle := newIdleTracker()
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			idle.start(string(e.RequestID))
		case *network.EventLoadingFinished:
			idle.finish(string(e.RequestID))
		case *network.EventLoadingFailed:
			idle.finish(string(e.RequestID))
		}
	})

	// first Run on the tab creates the target; the caller may still abort it
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, network.Enable())
	stop()
	if err != nil {
		tabCancel()
		return nil, err
	}

	return &chromedpPage{
		ctx:       tabCtx,
		cancel:    tabCancel,
		idle:      idle,
		idleQuiet: b.idleQuiet,
	}, nil
}

// Close shuts the browser down and releases the allocator
func (b *chromedpBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return err
}

type chromedpPage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	idle      *idleTracker
	idleQuiet time.Duration
}

// run executes actions on the tab, aborting them when ctx ends
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromedpPage) SetViewport(ctx context.Context, vp calendar.Viewport) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)))
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	return p.idle.wait(ctx, p.idleQuiet)
}

func (p *chromedpPage) PrintPDF(ctx context.Context, paper calendar.PaperSize, landscape bool) ([]byte, error) {
	width, height := paper.Inches()

	var data []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(width).
			WithPaperHeight(height).
			WithLandscape(landscape).
			WithMarginTop(0).
			WithMarginRight(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithScale(1).
			Do(ctx)
		if err != nil {
			return err
		}
		data = buf
		return nil
	}))
	return data, err
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 captures PNG
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab
func (p *chromedpPage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}

var (
	_ Engine  = (*ChromedpEngine)(nil)
	_ Browser = (*chromedpBrowser)(nil)
	_ Page    = (*chromedpPage)(nil)
)
