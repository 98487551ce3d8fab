// Package parse defines the contract shared by the command parsers.
//
// Two implementations exist: [rules] is deterministic and offline, [remote]
// asks a completion model and degrades to [rules] on any failure. Both always
// return an action; neither surfaces an error to the caller.
package parse

import (
	"context"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/parse/rules"
)

// Parser turns a transcript into an action. Implementations must never fail:
// anything they cannot classify is [action.Unknown].
type Parser interface {
	Parse(ctx context.Context, transcript string) action.Action
}

// Func adapts a plain function to [Parser].
type Func func(ctx context.Context, transcript string) action.Action

// Parse calls f.
func (f Func) Parse(ctx context.Context, transcript string) action.Action {
	return f(ctx, transcript)
}

// Rules returns a Parser backed only by the offline rule table.
func Rules() Parser {
	return Func(func(_ context.Context, transcript string) action.Action {
		return rules.Parse(transcript)
	})
}
