package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxnav/internal/observe"
)

// BlockedError is returned by [Controller.Start] when the backend refuses
// to speak. Its message is [BlockedGuidance].
type BlockedError struct {
	Err error
}

func (e *BlockedError) Error() string { return BlockedGuidance }

func (e *BlockedError) Unwrap() error { return e.Err }

// Option configures a [Controller].
type Option func(*Controller)

// WithStep sets how many chunks FastForward and Rewind move. Default: 1.
func WithStep(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.step = n
		}
	}
}

// WithChunkSize sets the chunk size in runes. Default: [DefaultChunkSize].
func WithChunkSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithIntro sets a phrase spoken before the first chunk. Empty disables it.
func WithIntro(text string) Option {
	return func(c *Controller) { c.intro = text }
}

// WithNotifier sets the receiver of playback notifications.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithMetrics records chunk events and active sessions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller drives one [Session] at a time through a [Backend]. All
// methods are safe for concurrent use; each returns the resulting [Status].
// Calls that do not apply to the current state are no-ops.
type Controller struct {
	mu sync.Mutex

	backend   Backend
	notifier  Notifier
	metrics   *observe.Metrics
	step      int
	chunkSize int
	intro     string

	// gen moves forward on every transition that cancels speech.
	gen     uint64
	session *Session
	// ctx is passed to the backend; it is detached from the cancellation of
	// the request that started the session.
	ctx context.Context
}

// NewController returns an idle controller speaking through b.
func NewController(b Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:   b,
		step:      1,
		chunkSize: DefaultChunkSize,
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetStep changes the seek step. Values below 1 are ignored.
func (c *Controller) SetStep(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	c.step = n
	c.mu.Unlock()
}

// SetIntro changes the intro phrase used by later sessions.
func (c *Controller) SetIntro(text string) {
	c.mu.Lock()
	c.intro = text
	c.mu.Unlock()
}

// Start stops any active session and begins reading text. Blank text ends
// immediately. A backend that is blocked ends the session and yields a
// [*BlockedError].
func (c *Controller) Start(ctx context.Context, text string) (Status, error) {
	c.mu.Lock()
	var notes []Notification
	if c.session != nil {
		notes = append(notes, c.stopLocked())
	}
	c.ctx = context.WithoutCancel(ctx)

	chunks := Chunk(text, c.chunkSize)
	if len(chunks) == 0 {
		notes = append(notes, Notification{Kind: NotifyEnded, Message: "Nothing to read"})
		st := c.statusLocked()
		c.mu.Unlock()
		c.notify(notes)
		return st, nil
	}

	c.gen++
	c.session = &Session{chunks: chunks, state: Speaking, introPending: c.intro != ""}
	if c.metrics != nil {
		c.metrics.ActiveSpeechSessions.Add(c.ctx, 1)
	}
	notes = append(notes, Notification{Kind: NotifyStarted, Current: 1, Total: len(chunks)})
	observe.Logger(ctx).Info("speech: session started", "chunks", len(chunks), "generation", c.gen)

	more, err := c.speakLocked()
	notes = append(notes, more...)
	st := c.statusLocked()
	c.mu.Unlock()
	c.notify(notes)
	return st, err
}

// Pause cancels the current utterance and keeps the position.
func (c *Controller) Pause() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil || s.state != Speaking {
		return c.statusLocked()
	}
	c.gen++
	s.state = Paused
	c.cancelLocked()
	return c.statusLocked()
}

// Resume speaks the current chunk again from its beginning.
func (c *Controller) Resume() (Status, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.state != Paused {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, nil
	}
	s.state = Speaking
	notes, err := c.speakLocked()
	st := c.statusLocked()
	c.mu.Unlock()
	c.notify(notes)
	return st, err
}

// FastForward skips ahead by the configured step, clamped to the last
// chunk, and continues speaking from there.
func (c *Controller) FastForward() (Status, error) {
	return c.seek(1)
}

// Rewind goes back by the configured step, clamped to the first chunk, and
// continues speaking from there.
func (c *Controller) Rewind() (Status, error) {
	return c.seek(-1)
}

func (c *Controller) seek(dir int) (Status, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || (s.state != Speaking && s.state != Paused) {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, nil
	}
	c.gen++
	c.cancelLocked()
	s.introPending = false
	s.cursor = min(max(s.cursor+dir*c.step, 0), len(s.chunks)-1)
	s.state = Speaking
	c.recordChunk("skipped")

	notes, err := c.speakLocked()
	st := c.statusLocked()
	c.mu.Unlock()
	c.notify(notes)
	return st, err
}

// Stop ends the session. Calling it while idle does nothing.
func (c *Controller) Stop() Status {
	c.mu.Lock()
	if c.session == nil {
		st := c.statusLocked()
		c.mu.Unlock()
		return st
	}
	n := c.stopLocked()
	st := c.statusLocked()
	c.mu.Unlock()
	c.notify([]Notification{n})
	return st
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := c.session
	if s == nil {
		return Status{State: Idle, Generation: c.gen}
	}
	return Status{State: s.state, Current: s.cursor + 1, Total: len(s.chunks), Generation: c.gen}
}

func (c *Controller) stopLocked() Notification {
	s := c.session
	s.state = Stopped
	c.gen++
	c.cancelLocked()
	total := len(s.chunks)
	c.endLocked()
	return Notification{Kind: NotifyEnded, Total: total, Message: "Stopped reading"}
}

// endLocked drops the session.
func (c *Controller) endLocked() {
	c.session = nil
	if c.metrics != nil {
		c.metrics.ActiveSpeechSessions.Add(c.ctx, -1)
	}
}

func (c *Controller) cancelLocked() {
	if err := c.backend.Cancel(); err != nil {
		slog.Warn("speech: cancel failed", "err", err)
	}
}

// speakLocked hands the current utterance to the backend. A synchronous
// failure counts as completion of that utterance, except ErrBlocked which
// ends the session.
func (c *Controller) speakLocked() ([]Notification, error) {
	var notes []Notification
	for c.session != nil {
		s := c.session
		u := Utterance{Generation: c.gen, Index: s.cursor}
		if s.introPending {
			u.Text, u.Index, u.Intro = c.intro, -1, true
		} else {
			u.Text = s.chunks[s.cursor]
			notes = append(notes, Notification{Kind: NotifyProgress, Current: s.cursor + 1, Total: len(s.chunks)})
		}

		err := c.backend.Speak(c.ctx, u, c.events(u))
		if err == nil {
			return notes, nil
		}
		if errors.Is(err, ErrBlocked) {
			notes = append(notes, c.blockedLocked(err))
			return notes, &BlockedError{Err: err}
		}
		slog.Warn("speech: utterance failed to start", "index", u.Index, "err", err)
		c.recordChunk("error")
		if n, done := c.advanceLocked(u); done {
			return append(notes, n), nil
		}
	}
	return notes, nil
}

// advanceLocked moves past u. It reports true with an ended notification
// when the last chunk is done.
func (c *Controller) advanceLocked(u Utterance) (Notification, bool) {
	s := c.session
	if u.Intro {
		s.introPending = false
		return Notification{}, false
	}
	s.cursor++
	if s.cursor < len(s.chunks) {
		return Notification{}, false
	}
	total := len(s.chunks)
	c.endLocked()
	return Notification{Kind: NotifyEnded, Current: total, Total: total, Message: "Finished reading"}, true
}

func (c *Controller) blockedLocked(err error) Notification {
	slog.Error("speech: backend blocked", "err", err)
	c.recordChunk("error")
	c.gen++
	c.endLocked()
	return Notification{Kind: NotifyError, Message: BlockedGuidance}
}

// currentLocked reports whether events for u still apply.
func (c *Controller) currentLocked(u Utterance) bool {
	s := c.session
	if s == nil || u.Generation != c.gen || s.state != Speaking {
		return false
	}
	if u.Intro {
		return s.introPending
	}
	return !s.introPending && u.Index == s.cursor
}

func (c *Controller) events(u Utterance) Events {
	return Events{
		Start: func() {
			slog.Debug("speech: utterance started", "index", u.Index, "generation", u.Generation)
		},
		End: func() { c.onDone(u, nil) },
		Error: func(err error) {
			if errors.Is(err, ErrCanceled) || errors.Is(err, ErrInterrupted) {
				slog.Debug("speech: utterance cancelled", "index", u.Index, "generation", u.Generation)
				return
			}
			c.onDone(u, err)
		},
	}
}

// onDone handles the end of an utterance, successful or not.
func (c *Controller) onDone(u Utterance, err error) {
	c.mu.Lock()
	if !c.currentLocked(u) {
		c.mu.Unlock()
		slog.Debug("speech: stale event dropped", "index", u.Index, "generation", u.Generation)
		return
	}

	var notes []Notification
	switch {
	case errors.Is(err, ErrBlocked):
		notes = append(notes, c.blockedLocked(err))
	default:
		if err != nil {
			slog.Warn("speech: utterance failed, skipping", "index", u.Index, "err", err)
			c.recordChunk("error")
		} else if !u.Intro {
			c.recordChunk("spoken")
		}
		if n, done := c.advanceLocked(u); done {
			notes = append(notes, n)
		} else {
			more, _ := c.speakLocked()
			notes = append(notes, more...)
		}
	}
	c.mu.Unlock()
	c.notify(notes)
}

func (c *Controller) recordChunk(event string) {
	if c.metrics != nil {
		c.metrics.RecordSpeechChunk(c.ctx, event)
	}
}

func (c *Controller) notify(notes []Notification) {
	if c.notifier == nil {
		return
	}
	for _, n := range notes {
		c.notifier.Notify(n)
	}
}
