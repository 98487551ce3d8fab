// Package mock provides a manually driven speech.Backend.
//
// Speak only records the utterance; tests fire its events afterwards with
// End, Fail or Begin, which matches the asynchronous delivery real backends
// guarantee.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnav/internal/speech"
)

// Spoken is one recorded Speak call.
type Spoken struct {
	Utterance speech.Utterance
	Events    speech.Events
}

// Backend is a mock implementation of speech.Backend.
type Backend struct {
	mu sync.Mutex

	// SpeakErrs, when non-empty, are returned by successive Speak calls.
	// Once exhausted, SpeakErr is used.
	SpeakErrs []error
	SpeakErr  error

	// CancelErr is returned by Cancel.
	CancelErr error

	// SpeakCalls records every Speak call in order, including failed ones.
	SpeakCalls []Spoken

	// CancelCalls counts Cancel calls.
	CancelCalls int
}

var _ speech.Backend = (*Backend)(nil)

// Speak implements speech.Backend.
func (b *Backend) Speak(_ context.Context, u speech.Utterance, ev speech.Events) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SpeakCalls = append(b.SpeakCalls, Spoken{Utterance: u, Events: ev})
	if len(b.SpeakErrs) > 0 {
		err := b.SpeakErrs[0]
		b.SpeakErrs = b.SpeakErrs[1:]
		return err
	}
	return b.SpeakErr
}

// Cancel implements speech.Backend.
func (b *Backend) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CancelCalls++
	return b.CancelErr
}

// Calls returns a copy of the recorded Speak calls.
func (b *Backend) Calls() []Spoken {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Spoken, len(b.SpeakCalls))
	copy(out, b.SpeakCalls)
	return out
}

// Cancels returns the number of Cancel calls.
func (b *Backend) Cancels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.CancelCalls
}

// Last returns the most recent Speak call.
func (b *Backend) Last() (Spoken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.SpeakCalls) == 0 {
		return Spoken{}, false
	}
	return b.SpeakCalls[len(b.SpeakCalls)-1], true
}

// Begin fires the Start event of s.
func Begin(s Spoken) {
	if s.Events.Start != nil {
		s.Events.Start()
	}
}

// End fires the End event of s.
func End(s Spoken) {
	if s.Events.End != nil {
		s.Events.End()
	}
}

// Fail fires the Error event of s.
func Fail(s Spoken, err error) {
	if s.Events.Error != nil {
		s.Events.Error(err)
	}
}

// Reset clears recorded calls and configured errors.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SpeakErrs = nil
	b.SpeakErr = nil
	b.CancelErr = nil
	b.SpeakCalls = nil
	b.CancelCalls = 0
}
