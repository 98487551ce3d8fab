// Package page models the browser tab voxnav controls: the clickable
// element snapshot the matcher scores, the [Driver] contract implemented by
// the playwright driver and the mock, and the sentinel errors page
// operations return.
package page

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/voxnav/internal/action"
)

var (
	// ErrHelperMissing means the in-page helper script is not installed
	// (fresh navigation, reload by the page itself). Calling Driver.Inject
	// and retrying once is expected to fix it.
	ErrHelperMissing = errors.New("page: helper script not present")

	// ErrRestrictedPage is returned for browser-internal pages that cannot
	// be scripted.
	ErrRestrictedPage = errors.New("This page cannot be controlled. Please navigate to a regular website.")

	// ErrNoSearchInput is returned by Search when the page has no search box.
	ErrNoSearchInput = errors.New("Could not find search input on this page")

	// ErrStaleElement is returned by Click when the referenced element is no
	// longer in the document.
	ErrStaleElement = errors.New("page: element is no longer on the page")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("page: driver closed")
)

// Rect is an element's bounding box in CSS pixels, relative to the viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Top is the distance from the top of the viewport.
func (r Rect) Top() float64 { return r.Y }

// Element is one clickable element as seen by the page at snapshot time.
// Ref identifies it for [Driver.Click] and is only valid for the snapshot
// it came from.
type Element struct {
	Ref       int    `json:"ref"`
	Tag       string `json:"tag"`
	Text      string `json:"text"`
	AriaLabel string `json:"ariaLabel,omitempty"`
	Title     string `json:"title,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Href      string `json:"href,omitempty"`
	Role      string `json:"role,omitempty"`
	Download  bool   `json:"download,omitempty"`

	Rect       Rect    `json:"rect"`
	Visibility string  `json:"visibility,omitempty"`
	Display    string  `json:"display,omitempty"`
	Opacity    float64 `json:"opacity"`
	InViewport bool    `json:"inViewport,omitempty"`

	// Structural context, computed with Element.closest in the page.
	InHeading bool `json:"inHeading,omitempty"`
	InTOC     bool `json:"inToc,omitempty"`
	InNav     bool `json:"inNav,omitempty"`
	InMain    bool `json:"inMain,omitempty"`
}

// Visible reports whether the element takes up space and is not hidden by
// CSS.
func (e Element) Visible() bool {
	return e.Rect.Width > 0 && e.Rect.Height > 0 &&
		e.Visibility != "hidden" && e.Display != "none" && e.Opacity != 0
}

// Snapshot is the set of clickable elements on the page.
type Snapshot struct {
	URL      string    `json:"url"`
	Host     string    `json:"host"`
	Elements []Element `json:"elements"`
}

// Driver controls one browser tab. Implementations must be safe for
// concurrent use; operations are serialised internally.
type Driver interface {
	// Inject (re)installs the in-page helper script.
	Inject(ctx context.Context) error

	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)

	Open(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Refresh(ctx context.Context) error

	// Scroll moves the viewport by one step in dir.
	Scroll(ctx context.Context, dir action.Direction) error
	ScrollTop(ctx context.Context) error
	ScrollBottom(ctx context.Context) error

	// Search fills the first search-like input with query and submits it.
	Search(ctx context.Context, query string) error

	// Elements snapshots every clickable element on the page.
	Elements(ctx context.Context) (Snapshot, error)

	// Click scrolls the element into view and clicks it.
	Click(ctx context.Context, ref int) error

	// ReadContent returns the readable main text of the page, already
	// whitespace-collapsed and capped at [MaxContentLength].
	ReadContent(ctx context.Context) (string, error)

	// ScaleTargets changes the size of interactive elements by delta and
	// returns the new scale factor, clamped to [MinTargetScale, MaxTargetScale].
	ScaleTargets(ctx context.Context, delta float64) (float64, error)

	// Screenshot captures the visible viewport as a data URL.
	Screenshot(ctx context.Context) (string, error)

	Close() error
}

const (
	MinTargetScale  = 1.0
	MaxTargetScale  = 2.0
	TargetScaleStep = 0.25
)

// restrictedPrefixes are schemes the browser does not let scripts touch.
var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"devtools://",
	"about:",
	"view-source:",
}

// IsRestricted reports whether url is a browser-internal page.
// about:blank is allowed since it is the start page of a fresh tab.
func IsRestricted(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "about:blank" {
		return false
	}
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}
