// Package browser speaks through the page's own speechSynthesis API.
//
// The page reports utterance events back through a playwright binding. The
// binding only queues them; a single goroutine delivers them to the
// controller in order, so events never arrive from inside Speak or Cancel.
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/MrWong99/voxnav/internal/speech"
)

//go:embed speak.js
var speakJS string

const bindingName = "__voxnavSpeechEvent"

const speakCall = `([id, text, o]) => {
  if (!window.__voxnavSpeak) return false;
  return window.__voxnavSpeak(id, text, o);
}`

// Page is the part of a playwright page the backend needs.
type Page interface {
	ExposeFunction(name string, binding playwright.ExposedFunction) error
	AddInitScript(script playwright.Script) error
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// Voice holds the utterance parameters.
type Voice struct {
	Lang   string  `json:"lang"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

func (v Voice) options() map[string]interface{} {
	return map[string]interface{}{"lang": v.Lang, "rate": v.Rate, "pitch": v.Pitch, "volume": v.Volume}
}

// DefaultVoice speaks en-US at normal rate, pitch and volume.
var DefaultVoice = Voice{Lang: "en-US", Rate: 1, Pitch: 1, Volume: 1}

type event struct {
	id     int64
	kind   string
	detail string
}

// Backend implements speech.Backend on window.speechSynthesis.
type Backend struct {
	page  Page
	voice Voice

	mu      sync.Mutex
	nextID  int64
	pending map[int64]speech.Events
	queue   []event
	signal  chan struct{}
	done    chan struct{}
	closed  bool
}

var _ speech.Backend = (*Backend)(nil)

// New installs the speech helper and event binding on page and starts the
// event pump. Call Close to stop it.
func New(page Page, voice Voice) (*Backend, error) {
	if voice.Rate == 0 {
		voice.Rate = 1
	}
	if voice.Pitch == 0 {
		voice.Pitch = 1
	}
	b := &Backend{
		page:    page,
		voice:   voice,
		pending: make(map[int64]speech.Events),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if err := page.ExposeFunction(bindingName, b.onBinding); err != nil {
		return nil, fmt.Errorf("speech/browser: expose binding: %w", err)
	}
	if err := page.AddInitScript(playwright.Script{Content: playwright.String(speakJS)}); err != nil {
		return nil, fmt.Errorf("speech/browser: add init script: %w", err)
	}
	if err := b.install(); err != nil {
		return nil, err
	}
	go b.pump()
	return b, nil
}

// Speak implements speech.Backend.
func (b *Backend) Speak(_ context.Context, u speech.Utterance, ev speech.Events) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("speech/browser: backend closed")
	}
	b.nextID++
	id := b.nextID
	b.pending[id] = ev
	b.mu.Unlock()

	ok, err := b.speak(id, u.Text)
	if err == nil && !ok {
		// Navigation wiped the helper before the init script ran again.
		if err = b.install(); err == nil {
			ok, err = b.speak(id, u.Text)
		}
	}
	if err == nil && !ok {
		err = errors.New("speech/browser: helper not installed")
	}
	if err != nil {
		b.forget(id)
		return fmt.Errorf("speech/browser: speak: %w", err)
	}
	return nil
}

func (b *Backend) speak(id int64, text string) (bool, error) {
	res, err := b.page.Evaluate(speakCall, []interface{}{id, text, b.voice.options()})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// Cancel implements speech.Backend. The browser answers with "canceled" or
// "interrupted" errors for the dropped utterances.
func (b *Backend) Cancel() error {
	if _, err := b.page.Evaluate("() => window.speechSynthesis && window.speechSynthesis.cancel()"); err != nil {
		return fmt.Errorf("speech/browser: cancel: %w", err)
	}
	return nil
}

// Close stops the event pump. Pending utterances get no further events.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func (b *Backend) install() error {
	if _, err := b.page.Evaluate("() => {\n" + speakJS + "\n}"); err != nil {
		return fmt.Errorf("speech/browser: install helper: %w", err)
	}
	return nil
}

func (b *Backend) forget(id int64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// onBinding is called by playwright with (id, kind, detail).
func (b *Backend) onBinding(args ...interface{}) interface{} {
	if len(args) < 2 {
		slog.Warn("speech/browser: malformed event", "args", args)
		return nil
	}
	id, ok := toInt64(args[0])
	if !ok {
		slog.Warn("speech/browser: malformed event id", "id", args[0])
		return nil
	}
	ev := event{id: id, kind: fmt.Sprint(args[1])}
	if len(args) > 2 {
		ev.detail = fmt.Sprint(args[2])
	}

	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

func (b *Backend) pump() {
	for {
		select {
		case <-b.done:
			return
		case <-b.signal:
		}
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			ev := b.queue[0]
			b.queue = b.queue[1:]
			handlers, ok := b.pending[ev.id]
			if ok && ev.kind != "start" {
				delete(b.pending, ev.id)
			}
			b.mu.Unlock()
			if ok {
				deliver(handlers, ev)
			}
		}
	}
}

func deliver(h speech.Events, ev event) {
	switch ev.kind {
	case "start":
		if h.Start != nil {
			h.Start()
		}
	case "end":
		if h.End != nil {
			h.End()
		}
	case "error":
		if h.Error != nil {
			h.Error(ErrorFor(ev.detail))
		}
	default:
		slog.Warn("speech/browser: unknown event", "kind", ev.kind)
	}
}

// ErrorFor maps a SpeechSynthesisErrorEvent.error code to an error.
func ErrorFor(code string) error {
	switch code {
	case "canceled":
		return speech.ErrCanceled
	case "interrupted":
		return speech.ErrInterrupted
	case "not-allowed":
		return fmt.Errorf("speech/browser: %s: %w", code, speech.ErrBlocked)
	default:
		return fmt.Errorf("speech/browser: synthesis error %q", code)
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
