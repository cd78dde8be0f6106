// Package playwright drives a Chromium browser as the demo's control surface.
package playwright

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-demo/core/surface"
	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 30 * time.Second

type browserOptions struct {
	headless     bool
	width        int
	height       int
	installDeps  bool
	slowMo       time.Duration
	browserFlags []string
}

type BrowserOption func(*browserOptions)

func WithHeadless(headless bool) BrowserOption {
	return func(o *browserOptions) { o.headless = headless }
}

func WithViewport(width, height int) BrowserOption {
	return func(o *browserOptions) { o.width, o.height = width, height }
}

// WithInstall downloads the browser binaries before launching.
func WithInstall() BrowserOption {
	return func(o *browserOptions) { o.installDeps = true }
}

func WithSlowMotion(d time.Duration) BrowserOption {
	return func(o *browserOptions) { o.slowMo = d }
}

func WithBrowserFlags(flags ...string) BrowserOption {
	return func(o *browserOptions) { o.browserFlags = append(o.browserFlags, flags...) }
}

// Browser is a surface.ControlSurface over the tabs of one browser context.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext

	mu      sync.Mutex
	pages   map[surface.Handle]playwright.Page
	order   []surface.Handle
	current surface.Handle
	nextID  int

	navigations watchers[struct{}]
	newSurfaces watchers[surface.Handle]
}

func Launch(opts ...BrowserOption) (*Browser, error) {
	options := browserOptions{width: 1280, height: 800}
	for _, opt := range opts {
		opt(&options)
	}

	if options.installDeps {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("failed to install browser: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(options.headless),
		SlowMo:   playwright.Float(float64(options.slowMo.Milliseconds())),
		Args:     options.browserFlags,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: options.width, Height: options.height},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	b := &Browser{
		pw:      pw,
		browser: browser,
		context: browserContext,
		pages:   map[surface.Handle]playwright.Page{},
	}
	browserContext.OnPage(func(page playwright.Page) {
		handle := b.track(page)
		logger.Info("New tab opened", "surface", handle.String(), "url", page.URL())
		b.newSurfaces.fire(handle)
	})

	page, err := browserContext.NewPage()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to open first tab: %w", err)
	}
	handle := b.track(page)
	b.mu.Lock()
	b.current = handle
	b.mu.Unlock()

	return b, nil
}

// track registers a page once, however many times it is reported.
func (b *Browser) track(page playwright.Page) surface.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handle := b.handleOf(page); handle != "" {
		return handle
	}

	b.nextID++
	handle := surface.Handle("tab-" + strconv.Itoa(b.nextID) + "-" + uuid.NewString()[:8])
	b.pages[handle] = page
	b.order = append(b.order, handle)
	if b.current == "" {
		b.current = handle
	}

	page.OnFrameNavigated(func(frame playwright.Frame) {
		if frame != page.MainFrame() {
			return
		}
		b.mu.Lock()
		isCurrent := b.current == handle
		b.mu.Unlock()
		if isCurrent {
			b.navigations.fire(struct{}{})
		}
	})
	page.OnClose(func(playwright.Page) {
		b.forget(handle)
	})
	return handle
}

func (b *Browser) forget(handle surface.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pages, handle)
	b.order = slices.DeleteFunc(b.order, func(h surface.Handle) bool { return h == handle })
	if b.current == handle {
		b.current = ""
		if len(b.order) > 0 {
			b.current = b.order[len(b.order)-1]
		}
	}
}

// handleOf must be called with mu held.
func (b *Browser) handleOf(page playwright.Page) surface.Handle {
	for handle, p := range b.pages {
		if p == page {
			return handle
		}
	}
	return ""
}

func (b *Browser) page() (playwright.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	page, ok := b.pages[b.current]
	if !ok {
		return nil, surface.ErrNoSurface
	}
	return page, nil
}

func (b *Browser) Capture(ctx context.Context) (surface.Observation, error) {
	ctx, span := tracer.Start(ctx, "capture surface")
	defer span.End()

	page, err := b.page()
	if err != nil {
		return surface.Observation{}, err
	}

	image, err := page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: timeoutFrom(ctx, defaultTimeout),
	})
	if err != nil {
		err = fmt.Errorf("failed to take screenshot: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return surface.Observation{}, err
	}
	title, _ := page.Title()

	span.SetAttributes(attribute.String("surface.url", page.URL()), attribute.Int("surface.image_bytes", len(image)))
	return surface.Observation{
		Image:      image,
		MIMEType:   "image/png",
		Location:   page.URL(),
		Title:      title,
		Surface:    b.CurrentSurface(),
		CapturedAt: time.Now(),
	}, nil
}

func (b *Browser) Locate(ctx context.Context, selector string) (surface.Element, error) {
	page, err := b.page()
	if err != nil {
		return nil, err
	}
	// Locators are lazy; WaitAttached decides whether the element exists.
	return &element{locator: page.Locator(selector).First(), selector: selector}, nil
}

func (b *Browser) CurrentLocation() string {
	page, err := b.page()
	if err != nil {
		return ""
	}
	return page.URL()
}

func (b *Browser) GoBack(ctx context.Context) (bool, error) {
	page, err := b.page()
	if err != nil {
		return false, err
	}

	before := page.URL()
	response, err := page.GoBack(playwright.PageGoBackOptions{
		Timeout:   timeoutFrom(ctx, defaultTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return false, fmt.Errorf("failed to go back: %w", err)
	}
	return response != nil || page.URL() != before, nil
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	ctx, span := tracer.Start(ctx, "navigate", trace.WithAttributes(attribute.String("surface.url", url)))
	defer span.End()

	page, err := b.page()
	if err != nil {
		return err
	}
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutFrom(ctx, defaultTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		err = fmt.Errorf("failed to open %s: %w", url, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (b *Browser) WatchNavigation(ctx context.Context) <-chan struct{} {
	return b.navigations.add(ctx)
}

func (b *Browser) WatchNewSurface(ctx context.Context) <-chan surface.Handle {
	return b.newSurfaces.add(ctx)
}

func (b *Browser) ListOpenSurfaces() []surface.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.order)
}

func (b *Browser) CurrentSurface() surface.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Browser) CloseSurface(ctx context.Context, handle surface.Handle) error {
	b.mu.Lock()
	page, ok := b.pages[handle]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", surface.ErrNoSurface, handle)
	}

	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", handle, err)
	}
	b.forget(handle)
	return nil
}

func (b *Browser) SwitchTo(ctx context.Context, handle surface.Handle) error {
	b.mu.Lock()
	page, ok := b.pages[handle]
	if ok {
		b.current = handle
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", surface.ErrNoSurface, handle)
	}

	if err := page.BringToFront(); err != nil {
		logger.Warn("Failed to bring tab to front", "surface", handle.String(), "error", err)
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: timeoutFrom(ctx, defaultTimeout),
	}); err != nil {
		logger.Debug("Tab did not finish loading", "surface", handle.String(), "error", err)
	}
	return nil
}

func (b *Browser) Close() error {
	var errs []error
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
