package render

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/fluxo/calgen/pkg/calendar"
)

// RodEngine drives Chrome with go-rod
type RodEngine struct {
	opts Options
}

// NewRodEngine creates a rod engine
func NewRodEngine(opts Options) *RodEngine {
	return &RodEngine{opts: opts.withDefaults()}
}

// Name implements Engine
func (e *RodEngine) Name() string {
	return "rod"
}

// Launch starts a browser with the rod launcher, or connects to RemoteURL
func (e *RodEngine) Launch(ctx context.Context) (Browser, error) {
	launchCtx, cancel := context.WithTimeout(ctx, e.opts.LaunchTimeout)
	defer cancel()

	var l *launcher.Launcher
	controlURL := e.opts.RemoteURL
	if controlURL == "" {
		l = launcher.New().
			Context(launchCtx).
			Headless(e.opts.Headless).
			NoSandbox(e.opts.NoSandbox)
		if e.opts.BrowserPath != "" {
			l = l.Bin(e.opts.BrowserPath)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, NewRenderError(ErrCodeLaunchFailed, "failed to launch browser", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(launchCtx)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, NewRenderError(ErrCodeLaunchFailed, "failed to connect to browser", err)
	}

	return &rodBrowser{
		browser:   browser.Context(context.Background()),
		launcher:  l,
		idleQuiet: e.opts.IdleQuiet,
	}, nil
}

type rodBrowser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	idleQuiet time.Duration
}

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	// detach from the caller so Close still works after a timeout
	return &rodPage{page: p.Context(context.Background()), idleQuiet: b.idleQuiet}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return err
}

type rodPage struct {
	page      *rod.Page
	idleQuiet time.Duration
}

func (p *rodPage) SetViewport(ctx context.Context, vp calendar.Viewport) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	wait := page.WaitRequestIdle(p.idleQuiet, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	wait()
	if ctx.Err() != nil {
		return fmt.Errorf("waiting for network idle: %w", ctx.Err())
	}
	return nil
}

func (p *rodPage) PrintPDF(ctx context.Context, paper calendar.PaperSize, landscape bool) ([]byte, error) {
	width, height := paper.Inches()
	r, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		Landscape:       landscape,
		PrintBackground: true,
		Scale:           float64Ptr(1),
		PaperWidth:      float64Ptr(width),
		PaperHeight:     float64Ptr(height),
		MarginTop:       float64Ptr(0),
		MarginBottom:    float64Ptr(0),
		MarginLeft:      float64Ptr(0),
		MarginRight:     float64Ptr(0),
	})
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

func float64Ptr(v float64) *float64 {
	return &v
}

var (
	_ Engine  = (*RodEngine)(nil)
	_ Browser = (*rodBrowser)(nil)
	_ Page    = (*rodPage)(nil)
)
