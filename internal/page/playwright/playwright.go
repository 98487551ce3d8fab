// Package playwright implements page.Driver on a Chromium tab controlled by
// github.com/playwright-community/playwright-go.
//
// A small helper script (window.__voxnav) is registered as an init script so
// it survives navigations, and every page operation goes through it with a
// single Evaluate call. When a page wipes the helper the call reports
// page.ErrHelperMissing and the caller re-injects.
package playwright

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/page"
)

//go:embed helper.js
var helperJS string

// callJS invokes a helper method and wraps the outcome so Go can tell a
// missing helper apart from a thrown error.
const callJS = `async ([method, args]) => {
  const h = window.__voxnav;
  if (!h) return { missing: true };
  try { return { value: await h[method](...args) }; }
  catch (e) { return { error: String((e && e.message) || e) }; }
}`

const (
	defaultTimeout    = 30 * time.Second
	defaultClickDelay = 100 * time.Millisecond
	screenshotQuality = 80
)

// Options configures Launch.
type Options struct {
	Headless bool
	// StartURL is opened after launch. Empty leaves about:blank.
	StartURL       string
	ViewportWidth  int
	ViewportHeight int
	// Timeout bounds every playwright call. Defaults to 30s.
	Timeout time.Duration
	// ClickDelay is the settle time between scrolling an element into view
	// and clicking it. Defaults to 100ms.
	ClickDelay time.Duration
	// SkipInstall skips downloading the browser binaries.
	SkipInstall bool
}

// Driver implements page.Driver.
type Driver struct {
	mu sync.Mutex

	pw      *pw.Playwright
	browser pw.Browser
	bctx    pw.BrowserContext
	page    pw.Page

	clickDelay time.Duration
	closed     bool
}

var _ page.Driver = (*Driver)(nil)

// Launch installs (unless opts.SkipInstall) and starts playwright, opens a
// Chromium browser with one page and registers the helper script.
func Launch(ctx context.Context, opts Options) (*Driver, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ClickDelay <= 0 {
		opts.ClickDelay = defaultClickDelay
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1280, 800
	}

	runOpts := &pw.RunOptions{Verbose: false, Stdout: io.Discard, Stderr: io.Discard}
	if !opts.SkipInstall {
		if err := pw.Install(runOpts); err != nil {
			return nil, fmt.Errorf("playwright: install: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runner, err := pw.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("playwright: start: %w", err)
	}
	browser, err := runner.Chromium.Launch(pw.BrowserTypeLaunchOptions{Headless: &opts.Headless})
	if err != nil {
		_ = runner.Stop()
		return nil, fmt.Errorf("playwright: launch chromium: %w", err)
	}
	bctx, err := browser.NewContext(pw.BrowserNewContextOptions{
		Viewport: &pw.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight},
	})
	if err != nil {
		_ = browser.Close()
		_ = runner.Stop()
		return nil, fmt.Errorf("playwright: new context: %w", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = runner.Stop()
		return nil, fmt.Errorf("playwright: new page: %w", err)
	}
	pg.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	d := &Driver{pw: runner, browser: browser, bctx: bctx, page: pg, clickDelay: opts.ClickDelay}
	if err := pg.AddInitScript(pw.Script{Content: pw.String(helperJS)}); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("playwright: register helper: %w", err)
	}
	if opts.StartURL != "" && opts.StartURL != "about:blank" {
		if err := d.Open(ctx, opts.StartURL); err != nil {
			slog.Warn("playwright: could not open start url", "url", opts.StartURL, "err", err)
		}
	}
	return d, nil
}

// Page exposes the underlying playwright page for in-page integrations
// such as the speechSynthesis backend.
func (d *Driver) Page() pw.Page { return d.page }

// Inject implements page.Driver.
func (d *Driver) Inject(ctx context.Context) error {
	if err := d.begin(ctx, false); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if _, err := d.page.Evaluate("() => {\n" + helperJS + "\n}"); err != nil {
		return fmt.Errorf("playwright: inject helper: %w", err)
	}
	return nil
}

// URL implements page.Driver.
func (d *Driver) URL(ctx context.Context) (string, error) {
	if err := d.begin(ctx, false); err != nil {
		return "", err
	}
	defer d.mu.Unlock()
	return d.page.URL(), nil
}

// Open implements page.Driver.
func (d *Driver) Open(ctx context.Context, url string) error {
	if page.IsRestricted(url) {
		return page.ErrRestrictedPage
	}
	if err := d.begin(ctx, false); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if _, err := d.page.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateDomcontentloaded}); err != nil {
		return fmt.Errorf("playwright: open %s: %w", url, err)
	}
	return nil
}

// Back implements page.Driver.
func (d *Driver) Back(ctx context.Context) error {
	return d.navigate(ctx, "back", func() error { _, err := d.page.GoBack(); return err })
}

// Forward implements page.Driver.
func (d *Driver) Forward(ctx context.Context) error {
	return d.navigate(ctx, "forward", func() error { _, err := d.page.GoForward(); return err })
}

// Refresh implements page.Driver.
func (d *Driver) Refresh(ctx context.Context) error {
	return d.navigate(ctx, "refresh", func() error { _, err := d.page.Reload(); return err })
}

func (d *Driver) navigate(ctx context.Context, what string, fn func() error) error {
	if err := d.begin(ctx, true); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if err := fn(); err != nil {
		return fmt.Errorf("playwright: %s: %w", what, err)
	}
	return nil
}

// Scroll implements page.Driver.
func (d *Driver) Scroll(ctx context.Context, dir action.Direction) error {
	if !dir.IsValid() {
		dir = action.Down
	}
	return d.call(ctx, "scroll", nil, string(dir))
}

// ScrollTop implements page.Driver.
func (d *Driver) ScrollTop(ctx context.Context) error {
	return d.call(ctx, "scrollTop", nil)
}

// ScrollBottom implements page.Driver.
func (d *Driver) ScrollBottom(ctx context.Context) error {
	return d.call(ctx, "scrollBottom", nil)
}

// Search implements page.Driver.
func (d *Driver) Search(ctx context.Context, query string) error {
	var how string
	if err := d.call(ctx, "search", &how, query); err != nil {
		return err
	}
	if how != "enter" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.page.Keyboard().Press("Enter"); err != nil {
		return fmt.Errorf("playwright: submit search: %w", err)
	}
	return nil
}

// Elements implements page.Driver.
func (d *Driver) Elements(ctx context.Context) (page.Snapshot, error) {
	var snap page.Snapshot
	if err := d.call(ctx, "snapshot", &snap); err != nil {
		return page.Snapshot{}, err
	}
	return snap, nil
}

// Click implements page.Driver.
func (d *Driver) Click(ctx context.Context, ref int) error {
	return d.call(ctx, "click", nil, ref, d.clickDelay.Milliseconds())
}

// ReadContent implements page.Driver.
func (d *Driver) ReadContent(ctx context.Context) (string, error) {
	if err := d.begin(ctx, true); err != nil {
		return "", err
	}
	html, err := d.page.Content()
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("playwright: page content: %w", err)
	}
	return page.ReadableText(html)
}

// ScaleTargets implements page.Driver.
func (d *Driver) ScaleTargets(ctx context.Context, delta float64) (float64, error) {
	var scale float64
	if err := d.call(ctx, "scaleTargets", &scale, delta, page.MinTargetScale, page.MaxTargetScale); err != nil {
		return 0, err
	}
	return scale, nil
}

// Screenshot implements page.Driver. The viewport is captured as JPEG.
func (d *Driver) Screenshot(ctx context.Context) (string, error) {
	if err := d.begin(ctx, true); err != nil {
		return "", err
	}
	img, err := d.page.Screenshot(pw.PageScreenshotOptions{
		Type:    pw.ScreenshotTypeJpeg,
		Quality: pw.Int(screenshotQuality),
	})
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("playwright: screenshot: %w", err)
	}
	return dataURL("image/jpeg", img), nil
}

// Close implements page.Driver. It is safe to call more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	_ = d.page.Close()
	_ = d.bctx.Close()
	_ = d.browser.Close()
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("playwright: stop: %w", err)
	}
	return nil
}

// begin locks the driver and checks it is usable. On success the caller
// owns d.mu and must unlock it.
func (d *Driver) begin(ctx context.Context, checkRestricted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return page.ErrClosed
	}
	if checkRestricted && page.IsRestricted(d.page.URL()) {
		d.mu.Unlock()
		return page.ErrRestrictedPage
	}
	return nil
}

// call runs a helper method and decodes its return value into out (which
// may be nil).
func (d *Driver) call(ctx context.Context, method string, out any, args ...any) error {
	if err := d.begin(ctx, true); err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}
	raw, err := d.page.Evaluate(callJS, []any{method, args})
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("playwright: %s: %w", method, err)
	}
	return decodeResult(method, raw, out)
}

type callResult struct {
	Missing bool            `json:"missing"`
	Error   string          `json:"error"`
	Value   json.RawMessage `json:"value"`
}

// helperErrors maps error strings thrown by the helper to sentinels.
var helperErrors = map[string]error{
	"stale":           page.ErrStaleElement,
	"no-search-input": page.ErrNoSearchInput,
}

// decodeResult interprets the value returned by callJS. Evaluate hands back
// generic maps, so the value is round-tripped through JSON into out.
func decodeResult(method string, raw any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("playwright: %s: encode result: %w", method, err)
	}
	var res callResult
	if err := json.Unmarshal(b, &res); err != nil {
		return fmt.Errorf("playwright: %s: decode result: %w", method, err)
	}
	switch {
	case res.Missing:
		return page.ErrHelperMissing
	case res.Error != "":
		if sentinel, ok := helperErrors[res.Error]; ok {
			return sentinel
		}
		return fmt.Errorf("playwright: %s: %w", method, errors.New(res.Error))
	}
	if out == nil || len(res.Value) == 0 || string(res.Value) == "null" {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("playwright: %s: decode value: %w", method, err)
	}
	return nil
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
