// Package mock provides a scriptable page.Driver for dispatcher and server
// tests.
//
// Driver records each call by method name. Per-method errors are set in
// Errs; a method whose error is a one-shot entry in Queued fails once and
// then succeeds. With NeedsInject set, every page operation returns
// page.ErrHelperMissing until Inject is called.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/page"
)

// Call is one recorded driver invocation.
type Call struct {
	Method string
	Arg    string
}

// Driver is a mock implementation of page.Driver.
type Driver struct {
	mu sync.Mutex

	// CurrentURL is returned by URL and updated by Open.
	CurrentURL string

	// Snapshot is returned by Elements.
	Snapshot page.Snapshot

	// HTML is fed through page.ReadableText by ReadContent.
	HTML string

	// ScreenshotURL is returned by Screenshot.
	ScreenshotURL string

	// Scale is the current target scale; ScaleTargets updates it.
	Scale float64

	// NeedsInject makes every operation fail with page.ErrHelperMissing until
	// Inject succeeds.
	NeedsInject bool

	// Errs holds persistent per-method errors keyed by method name
	// ("Open", "Click", ...).
	Errs map[string]error

	// Queued holds one-shot per-method errors, consumed in order.
	Queued map[string][]error

	// Calls records every invocation in order.
	Calls []Call

	closed bool
}

var _ page.Driver = (*Driver)(nil)

func (d *Driver) record(method, arg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Method: method, Arg: arg})
	if d.closed {
		return page.ErrClosed
	}
	if q := d.Queued[method]; len(q) > 0 {
		d.Queued[method] = q[1:]
		return q[0]
	}
	if err := d.Errs[method]; err != nil {
		return err
	}
	if method != "Inject" && method != "URL" && d.NeedsInject {
		return page.ErrHelperMissing
	}
	return nil
}

// Inject implements page.Driver.
func (d *Driver) Inject(_ context.Context) error {
	if err := d.record("Inject", ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.NeedsInject = false
	d.mu.Unlock()
	return nil
}

// URL implements page.Driver.
func (d *Driver) URL(_ context.Context) (string, error) {
	if err := d.record("URL", ""); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CurrentURL, nil
}

// Open implements page.Driver.
func (d *Driver) Open(_ context.Context, url string) error {
	if err := d.record("Open", url); err != nil {
		return err
	}
	d.mu.Lock()
	d.CurrentURL = url
	d.mu.Unlock()
	return nil
}

// Back implements page.Driver.
func (d *Driver) Back(_ context.Context) error { return d.record("Back", "") }

// Forward implements page.Driver.
func (d *Driver) Forward(_ context.Context) error { return d.record("Forward", "") }

// Refresh implements page.Driver.
func (d *Driver) Refresh(_ context.Context) error { return d.record("Refresh", "") }

// Scroll implements page.Driver.
func (d *Driver) Scroll(_ context.Context, dir action.Direction) error {
	return d.record("Scroll", string(dir))
}

// ScrollTop implements page.Driver.
func (d *Driver) ScrollTop(_ context.Context) error { return d.record("ScrollTop", "") }

// ScrollBottom implements page.Driver.
func (d *Driver) ScrollBottom(_ context.Context) error { return d.record("ScrollBottom", "") }

// Search implements page.Driver.
func (d *Driver) Search(_ context.Context, query string) error {
	return d.record("Search", query)
}

// Elements implements page.Driver.
func (d *Driver) Elements(_ context.Context) (page.Snapshot, error) {
	if err := d.record("Elements", ""); err != nil {
		return page.Snapshot{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Snapshot, nil
}

// Click implements page.Driver.
func (d *Driver) Click(_ context.Context, ref int) error {
	return d.record("Click", fmt.Sprint(ref))
}

// ReadContent implements page.Driver.
func (d *Driver) ReadContent(_ context.Context) (string, error) {
	if err := d.record("ReadContent", ""); err != nil {
		return "", err
	}
	d.mu.Lock()
	html := d.HTML
	d.mu.Unlock()
	return page.ReadableText(html)
}

// ScaleTargets implements page.Driver.
func (d *Driver) ScaleTargets(_ context.Context, delta float64) (float64, error) {
	if err := d.record("ScaleTargets", fmt.Sprint(delta)); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Scale == 0 {
		d.Scale = page.MinTargetScale
	}
	d.Scale = min(max(d.Scale+delta, page.MinTargetScale), page.MaxTargetScale)
	return d.Scale, nil
}

// Screenshot implements page.Driver.
func (d *Driver) Screenshot(_ context.Context) (string, error) {
	if err := d.record("Screenshot", ""); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ScreenshotURL, nil
}

// Close implements page.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Methods returns the recorded method names in order.
func (d *Driver) Methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Calls))
	for i, c := range d.Calls {
		out[i] = c.Method
	}
	return out
}

// Called returns the recorded calls for method.
func (d *Driver) Called(method string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
