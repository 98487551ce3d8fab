// Package speech reads page text aloud in chunks.
//
// A [Controller] owns at most one [Session]. Text is split with [Chunk] and
// the chunks are handed to a [Backend] one at a time; the backend reports
// back through [Events]. Every utterance carries the generation it was issued
// under, and any transition that cancels speech moves the generation forward,
// so late events from a cancelled utterance are dropped instead of advancing
// playback.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrCanceled is reported by backends for an utterance cancelled on
	// request. It is ignored.
	ErrCanceled = errors.New("speech: canceled")

	// ErrInterrupted is reported when another utterance cut this one off.
	// It is ignored.
	ErrInterrupted = errors.New("speech: interrupted")

	// ErrBlocked means the backend refuses to speak at all, typically until
	// the user interacts with the page. It ends the session.
	ErrBlocked = errors.New("speech: backend blocked")
)

// BlockedGuidance is shown to the user when the backend is blocked.
const BlockedGuidance = "Text-to-speech is blocked. Click anywhere on the page or enable sound for this site, then try again."

// DefaultIntro is spoken before the first chunk when an intro is enabled.
const DefaultIntro = "Reading page aloud."

// State is the playback state of a [Controller].
type State int

const (
	Idle State = iota
	Speaking
	Paused
	// Stopped is held only while a stop is being applied; observers see Idle.
	Stopped
)

var stateNames = [...]string{"idle", "speaking", "paused", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if string(b) == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("speech: unknown state %q", b)
}

// Utterance is one piece of text handed to a [Backend].
type Utterance struct {
	Text string
	// Generation and Index identify the utterance; events for an utterance
	// whose tag is no longer current are discarded.
	Generation uint64
	Index      int
	// Intro marks the phrase spoken before chunk 0. Its Index is -1.
	Intro bool
}

// Events receives backend notifications for one utterance. Each function
// may be nil.
type Events struct {
	Start func()
	End   func()
	Error func(err error)
}

// Backend speaks utterances.
//
// Implementations must deliver Events asynchronously: never from inside
// Speak or Cancel. Cancelling an utterance should report ErrCanceled (or
// nothing at all).
type Backend interface {
	Speak(ctx context.Context, u Utterance, ev Events) error
	Cancel() error
}

// NotificationKind classifies a [Notification].
type NotificationKind string

const (
	NotifyStarted  NotificationKind = "started"
	NotifyProgress NotificationKind = "progress"
	NotifyEnded    NotificationKind = "ended"
	NotifyError    NotificationKind = "error"
)

// Notification reports playback progress to observers.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	// Current is the 1-based index of the chunk being spoken.
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notifier receives notifications. Notify is called without the controller
// lock held and must not block for long.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Status is a snapshot of the controller.
type Status struct {
	State State `json:"state"`
	// Current is the 1-based chunk position, 0 when idle.
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Generation uint64 `json:"generation"`
}

// Session is the playback state of one Start call. It is owned by the
// controller and replaced on every Start.
type Session struct {
	chunks []string
	cursor int
	state  State
	// introPending is set until the intro phrase has finished.
	introPending bool
}

func (s *Session) total() int {
	if s == nil {
		return 0
	}
	return len(s.chunks)
}
