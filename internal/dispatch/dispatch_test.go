package dispatch_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/dispatch"
	"github.com/MrWong99/voxnav/internal/history"
	"github.com/MrWong99/voxnav/internal/mapper"
	"github.com/MrWong99/voxnav/internal/page"
	pagemock "github.com/MrWong99/voxnav/internal/page/mock"
	"github.com/MrWong99/voxnav/internal/parse/remote"
	"github.com/MrWong99/voxnav/internal/speech"
	speechmock "github.com/MrWong99/voxnav/internal/speech/mock"
	"github.com/MrWong99/voxnav/internal/vision"
	"github.com/MrWong99/voxnav/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxnav/pkg/provider/llm/mock"
)

func button(ref int, text string, top float64) page.Element {
	return page.Element{
		Ref:     ref,
		Tag:     "button",
		Text:    text,
		Rect:    page.Rect{X: 10, Y: top, Width: 120, Height: 30},
		Opacity: 1,
		InMain:  true,
	}
}

func newDispatcher(t *testing.T, drv *pagemock.Driver, opts ...dispatch.Option) *dispatch.Dispatcher {
	t.Helper()
	if drv.CurrentURL == "" {
		drv.CurrentURL = "https://example.com/"
	}
	return dispatch.New(drv, opts...)
}

func TestExecute_RemoteParse(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{}
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"action":"OPEN_URL","url":"https://example.org"}`},
	}
	d := newDispatcher(t, drv, dispatch.WithParser(remote.New(provider)))

	res := d.Execute(context.Background(), "take me to example dot org")

	if res.Action == nil || res.Action.Kind != action.OpenURL {
		t.Fatalf("action = %v, want OPEN_URL", res.Action)
	}
	if res.Message != "Opening https://example.org" {
		t.Errorf("message = %q", res.Message)
	}
	if res.Source != string(remote.SourceRemote) {
		t.Errorf("source = %q, want remote", res.Source)
	}
	if res.ID == "" {
		t.Error("result has no ID")
	}
	if len(drv.Called("Open")) == 0 || drv.CurrentURL != "https://example.org" {
		t.Errorf("Open not applied, calls = %v", drv.Methods())
	}
	if len(provider.Calls()) != 1 {
		t.Errorf("provider calls = %d, want 1", len(provider.Calls()))
	}
}

func TestExecute_SpeechFastPathSkipsRemote(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteErr: errors.New("must not be called")}
	backend := &speechmock.Backend{}
	ctrl := speech.NewController(backend)
	d := newDispatcher(t, &pagemock.Driver{},
		dispatch.WithParser(remote.New(provider)),
		dispatch.WithSpeech(ctrl),
	)

	for _, transcript := range []string{"pause reading", "stop reading", "fast forward", "rewind"} {
		res := d.Execute(context.Background(), transcript)
		if res.Failed() {
			t.Errorf("%q failed: %s", transcript, res.Message)
		}
		if res.Source != string(remote.SourceRules) {
			t.Errorf("%q source = %q, want rules", transcript, res.Source)
		}
	}
	if n := len(provider.Calls()); n != 0 {
		t.Errorf("remote parser called %d times on the fast path", n)
	}
}

func TestExecute_Unknown(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{}
	d := newDispatcher(t, drv)

	res := d.Execute(context.Background(), "sing me a song")

	if res.Message != mapper.NotRecognized {
		t.Errorf("message = %q, want %q", res.Message, mapper.NotRecognized)
	}
	if res.Action == nil || res.Action.Kind != action.Unknown {
		t.Errorf("action = %v, want UNKNOWN attached", res.Action)
	}
	if len(drv.Methods()) != 0 {
		t.Errorf("driver touched for unknown command: %v", drv.Methods())
	}
}

func TestExecute_ErrorBecomesMessage(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{Errs: map[string]error{"Back": page.ErrRestrictedPage}}
	d := newDispatcher(t, drv)

	res := d.Execute(context.Background(), "go back")

	if res.Action != nil {
		t.Errorf("action = %v, want nil on failure", res.Action)
	}
	if res.Message != page.ErrRestrictedPage.Error() {
		t.Errorf("message = %q", res.Message)
	}
	if !res.Failed() {
		t.Error("Failed() = false")
	}
}

func TestExecute_ReinjectsHelperOnce(t *testing.T) {
	t.Parallel()

	t.Run("recovers", func(t *testing.T) {
		t.Parallel()
		drv := &pagemock.Driver{NeedsInject: true}
		d := newDispatcher(t, drv)

		res := d.Execute(context.Background(), "scroll to top")
		if res.Failed() {
			t.Fatalf("failed: %s", res.Message)
		}
		want := []string{"ScrollTop", "Inject", "ScrollTop"}
		if got := drv.Methods(); !slices.Equal(got, want) {
			t.Errorf("calls = %v, want %v", got, want)
		}
	})

	t.Run("gives up after one retry", func(t *testing.T) {
		t.Parallel()
		drv := &pagemock.Driver{Errs: map[string]error{"Refresh": page.ErrHelperMissing}}
		d := newDispatcher(t, drv)

		res := d.Execute(context.Background(), "refresh")
		if !res.Failed() {
			t.Fatal("expected failure")
		}
		want := []string{"Refresh", "Inject", "Refresh"}
		if got := drv.Methods(); !slices.Equal(got, want) {
			t.Errorf("calls = %v, want %v", got, want)
		}
	})

	t.Run("inject failure", func(t *testing.T) {
		t.Parallel()
		drv := &pagemock.Driver{
			NeedsInject: true,
			Errs:        map[string]error{"Inject": page.ErrRestrictedPage},
		}
		d := newDispatcher(t, drv)

		res := d.Execute(context.Background(), "scroll down")
		if !strings.Contains(res.Message, "inject page helper") {
			t.Errorf("message = %q", res.Message)
		}
	})
}

func TestExecute_Click(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{Snapshot: page.Snapshot{
		URL:  "https://example.com/",
		Host: "example.com",
		Elements: []page.Element{
			button(0, "Home", 10),
			button(1, "Diseases and parasites", 200),
		},
	}}
	d := newDispatcher(t, drv)

	res := d.Execute(context.Background(), "click diseases and parasites")
	if res.Failed() {
		t.Fatalf("failed: %s", res.Message)
	}
	if !slices.Contains(drv.Calls, pagemock.Call{Method: "Click", Arg: "1"}) {
		t.Errorf("calls = %v, want Click 1", drv.Calls)
	}
}

func TestExecute_ClickPhoneticCorrection(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{Snapshot: page.Snapshot{
		Host: "example.com",
		Elements: []page.Element{
			button(0, "Register", 10),
			button(1, "Sign in", 10),
		},
	}}
	d := newDispatcher(t, drv)

	res := d.Execute(context.Background(), "click sine inn")
	if res.Failed() {
		t.Fatalf("failed: %s", res.Message)
	}
	if res.Message != "Clicking Sign in" {
		t.Errorf("message = %q, want corrected label", res.Message)
	}
	if !slices.Contains(drv.Calls, pagemock.Call{Method: "Click", Arg: "1"}) {
		t.Errorf("calls = %v, want Click 1", drv.Calls)
	}
}

func TestExecute_ClickNotFoundWithoutCorrector(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{Snapshot: page.Snapshot{
		Elements: []page.Element{button(0, "Sign in", 10)},
	}}
	d := newDispatcher(t, drv, dispatch.WithCorrector(nil))

	res := d.Execute(context.Background(), "click sine inn")
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Message, "Could not find element") {
		t.Errorf("message = %q", res.Message)
	}
	if len(drv.Called("Click")) > 0 {
		t.Error("Click called without a match")
	}
}

func TestExecute_ClickAmbiguous(t *testing.T) {
	t.Parallel()

	remoteOn := func() dispatch.Option {
		return dispatch.WithParser(remote.New(&llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: `{"action":"CLICK","buttonName":"on"}`},
		}))
	}
	tests := []struct {
		name       string
		transcript string
		opts       []dispatch.Option
	}{
		{name: "remote parser", transcript: "click on", opts: []dispatch.Option{remoteOn()}},
		{name: "rules only", transcript: "click on"},
		{name: "rules only filler", transcript: "click the"},
		{name: "rules only short", transcript: "tap ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			drv := &pagemock.Driver{Snapshot: page.Snapshot{
				Elements: []page.Element{button(0, "on", 10), button(1, "ok", 20)},
			}}
			d := newDispatcher(t, drv, tt.opts...)

			res := d.Execute(context.Background(), tt.transcript)
			if !strings.Contains(res.Message, "too short or ambiguous") {
				t.Errorf("message = %q", res.Message)
			}
			if !res.Failed() {
				t.Error("Failed() = false")
			}
			if n := len(drv.Called("Elements")); n != 0 {
				t.Errorf("Elements called %d times, want no page scan", n)
			}
			if len(drv.Called("Click")) > 0 {
				t.Error("Click called for an ambiguous query")
			}
		})
	}
}

func TestExecute_ReadPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		html        string
		wantContent string
	}{
		{"main text", `<body><main><p>Hello world</p></main></body>`, "Hello world"},
		{"no text", `<body><nav>Menu</nav></body>`, page.NoReadableText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend := &speechmock.Backend{}
			ctrl := speech.NewController(backend)
			d := newDispatcher(t, &pagemock.Driver{HTML: tt.html}, dispatch.WithSpeech(ctrl))

			res := d.Execute(context.Background(), "read this page")
			if res.Failed() {
				t.Fatalf("failed: %s", res.Message)
			}
			if res.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", res.Content, tt.wantContent)
			}
			if !strings.HasPrefix(res.Message, "Reading page content (") {
				t.Errorf("message = %q", res.Message)
			}
			last, ok := backend.Last()
			if !ok || last.Utterance.Text != tt.wantContent {
				t.Errorf("spoken = %+v, want %q", last.Utterance, tt.wantContent)
			}
			if st := ctrl.Status(); st.State != speech.Speaking {
				t.Errorf("state = %s, want speaking", st.State)
			}
		})
	}
}

func TestExecute_ReadPageBlocked(t *testing.T) {
	t.Parallel()
	backend := &speechmock.Backend{SpeakErr: speech.ErrBlocked}
	d := newDispatcher(t, &pagemock.Driver{HTML: "<main>Text</main>"},
		dispatch.WithSpeech(speech.NewController(backend)))

	res := d.Execute(context.Background(), "read the page")
	if res.Message != speech.BlockedGuidance {
		t.Errorf("message = %q, want guidance", res.Message)
	}
	if res.Action != nil || res.Content != "" {
		t.Errorf("failed result carries action %v content %q", res.Action, res.Content)
	}
}

func TestExecute_SpeechNotConfigured(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, &pagemock.Driver{})

	res := d.Execute(context.Background(), "pause reading")
	if !res.Failed() || !strings.Contains(res.Message, "not configured") {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_TargetSize(t *testing.T) {
	t.Parallel()
	drv := &pagemock.Driver{}
	d := newDispatcher(t, drv)

	res := d.Execute(context.Background(), "make buttons bigger")
	if res.Message != "Increasing target size (125%)" {
		t.Errorf("message = %q", res.Message)
	}
	d.Execute(context.Background(), "make buttons smaller")
	res = d.Execute(context.Background(), "make buttons smaller")
	if res.Message != "Decreasing target size (100%)" {
		t.Errorf("message = %q, want clamped at 100%%", res.Message)
	}
}

func TestExecute_DescribePage(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "A news front page."},
	}
	drv := &pagemock.Driver{ScreenshotURL: "data:image/jpeg;base64,AAAA"}
	d := newDispatcher(t, drv, dispatch.WithDescriber(vision.New(provider)))

	res := d.Execute(context.Background(), "describe this page")
	if res.Failed() {
		t.Fatalf("failed: %s", res.Message)
	}
	if res.Description != "A news front page." {
		t.Errorf("description = %q", res.Description)
	}
	calls := provider.Calls()
	if len(calls) != 1 || calls[0].Req.Messages[0].Images[0].URL != drv.ScreenshotURL {
		t.Errorf("vision request did not carry the screenshot")
	}
}

func TestExecute_DescribeUpstreamFailure(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteErr: errors.New("503")}
	drv := &pagemock.Driver{ScreenshotURL: "data:image/jpeg;base64,AAAA"}
	d := newDispatcher(t, drv, dispatch.WithDescriber(vision.New(provider)))

	res := d.Execute(context.Background(), "describe this page")
	if !res.Failed() || res.Description != "" {
		t.Errorf("result = %+v, want failure without description", res)
	}
}

func TestExecute_HistoryAndObservers(t *testing.T) {
	t.Parallel()
	store := history.New[dispatch.ExecutionResult](2)
	var seen []string
	d := newDispatcher(t, &pagemock.Driver{},
		dispatch.WithHistory(store),
		dispatch.WithResultFunc(func(r dispatch.ExecutionResult) { seen = append(seen, r.Transcript) }),
	)

	for _, tr := range []string{"scroll down", "go back", "refresh"} {
		d.Execute(context.Background(), tr)
	}

	got := store.List()
	if len(got) != 2 || got[0].Transcript != "refresh" || got[1].Transcript != "go back" {
		t.Errorf("history = %+v", got)
	}
	if d.History() != store {
		t.Error("History() returned a different store")
	}
	if !slices.Equal(seen, []string{"scroll down", "go back", "refresh"}) {
		t.Errorf("observer saw %v", seen)
	}
}

func TestParse_WithoutRemote(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, &pagemock.Driver{})
	r := d.Parse(context.Background(), "open youtube", "")
	if r.Source != remote.SourceRules || r.Action.URL != "https://www.youtube.com" {
		t.Errorf("Parse = %+v", r)
	}
}
