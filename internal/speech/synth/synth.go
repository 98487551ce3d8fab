// Package synth speaks through a streaming TTS provider and hands the
// resulting audio to a sink, typically the WebSocket event hub.
//
// An utterance ends when its audio has been played, not when it has been
// synthesized: the listener confirms playback through [Backend.Played]. The
// controller's position therefore follows what the user actually hears.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxnav/internal/speech"
	"github.com/MrWong99/voxnav/pkg/provider/tts"
)

// DefaultPlaybackTimeout bounds the wait for a playback confirmation. A
// listener that disconnects mid-utterance does not stall the session longer.
const DefaultPlaybackTimeout = 2 * time.Minute

// AudioSink receives synthesized audio.
type AudioSink interface {
	// Audio delivers one encoded audio fragment of u.
	Audio(u speech.Utterance, data []byte)
	// Finish marks the end of u's audio. It reports whether a listener will
	// confirm playback through [Backend.Played]; when none will, u ends as
	// soon as its synthesis does.
	Finish(u speech.Utterance) bool
	// Flush tells listeners to drop buffered audio after a cancel.
	Flush()
}

// Option configures a [Backend].
type Option func(*Backend)

// WithPlaybackTimeout sets how long a finished utterance waits for its
// playback confirmation. Default: [DefaultPlaybackTimeout].
func WithPlaybackTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// playback is an utterance whose audio is out and whose End is held until
// the listener has played it.
type playback struct {
	u     speech.Utterance
	ev    speech.Events
	timer *time.Timer
}

// Backend implements speech.Backend on a tts.Provider.
type Backend struct {
	provider tts.Provider
	voice    tts.Voice
	sink     AudioSink
	timeout  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing *playback
}

var _ speech.Backend = (*Backend)(nil)

// New returns a Backend using voice on provider.
func New(provider tts.Provider, voice tts.Voice, sink AudioSink, opts ...Option) *Backend {
	b := &Backend{provider: provider, voice: voice, sink: sink, timeout: DefaultPlaybackTimeout}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Speak implements speech.Backend. Synthesis runs in its own goroutine.
func (b *Backend) Speak(ctx context.Context, u speech.Utterance, ev speech.Events) error {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	stale := b.takeLocked()
	b.mu.Unlock()
	stale.canceled()

	text := make(chan string, 1)
	text <- u.Text
	close(text)

	audio, err := b.provider.SynthesizeStream(ctx, text, b.voice)
	if err != nil {
		cancel()
		return fmt.Errorf("synth: start stream: %w", err)
	}
	go b.stream(ctx, cancel, u, audio, ev)
	return nil
}

func (b *Backend) stream(ctx context.Context, cancel context.CancelFunc, u speech.Utterance, audio <-chan []byte, ev speech.Events) {
	defer cancel()
	started := false
	for chunk := range audio {
		if ctx.Err() != nil {
			continue // drain
		}
		if !started {
			started = true
			if ev.Start != nil {
				ev.Start()
			}
		}
		b.sink.Audio(u, chunk)
	}

	switch {
	case ctx.Err() != nil:
		if ev.Error != nil {
			ev.Error(speech.ErrCanceled)
		}
	case !started:
		slog.Warn("synth: provider produced no audio", "index", u.Index)
		if ev.Error != nil {
			ev.Error(fmt.Errorf("synth: no audio for utterance %d", u.Index))
		}
	default:
		b.await(ctx, u, ev)
	}
}

// await holds u's End until the listener confirms playback or the playback
// timeout passes. u is registered before the sink announces the end of its
// audio, so a prompt confirmation is never missed.
func (b *Backend) await(ctx context.Context, u speech.Utterance, ev speech.Events) {
	p := &playback{u: u, ev: ev}
	b.mu.Lock()
	// Cancel runs under mu, so a cancel that raced the last fragment is
	// visible here.
	if ctx.Err() != nil {
		b.mu.Unlock()
		if ev.Error != nil {
			ev.Error(speech.ErrCanceled)
		}
		return
	}
	b.playing = p
	b.mu.Unlock()

	if !b.sink.Finish(u) {
		b.mu.Lock()
		mine := b.playing == p
		if mine {
			b.playing = nil
		}
		b.mu.Unlock()
		if mine && ev.End != nil {
			ev.End()
		}
		return
	}

	b.mu.Lock()
	if b.playing == p {
		p.timer = time.AfterFunc(b.timeout, func() {
			if b.Played(u.Generation, u.Index) {
				slog.Warn("synth: no playback confirmation, continuing",
					"index", u.Index, "generation", u.Generation, "timeout", b.timeout)
			}
		})
	}
	b.mu.Unlock()
}

// Played confirms that the listener has finished playing the utterance
// tagged (generation, index) and ends it. It reports false for a tag that is
// not awaiting confirmation, such as one cancelled in the meantime.
func (b *Backend) Played(generation uint64, index int) bool {
	b.mu.Lock()
	p := b.playing
	if p == nil || p.u.Generation != generation || p.u.Index != index {
		b.mu.Unlock()
		slog.Debug("synth: unexpected playback confirmation", "index", index, "generation", generation)
		return false
	}
	b.takeLocked()
	b.mu.Unlock()

	if p.ev.End != nil {
		p.ev.End()
	}
	return true
}

// takeLocked removes and returns the utterance awaiting playback, if any.
func (b *Backend) takeLocked() *playback {
	p := b.playing
	b.playing = nil
	if p != nil && p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// canceled reports p as cancelled. Safe on nil.
func (p *playback) canceled() {
	if p == nil || p.ev.Error == nil {
		return
	}
	go p.ev.Error(speech.ErrCanceled)
}

// Cancel implements speech.Backend.
func (b *Backend) Cancel() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	p := b.takeLocked()
	b.mu.Unlock()
	p.canceled()
	b.sink.Flush()
	return nil
}
