package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every member of a [Chain] failed or was
// skipped because its breaker was open.
var ErrExhausted = errors.New("resilience: all providers failed")

// Member describes one provider of a [Chain] for status reporting.
type Member struct {
	Name  string
	State State
}

type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds an ordered list of interchangeable providers, each behind its
// own [Breaker]. Members must be added before the chain is shared.
type Chain[T any] struct {
	cfg   BreakerConfig
	links []link[T]
}

// NewChain creates an empty chain. cfg is copied into every member's breaker
// with Name replaced by the member name.
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a provider. Members are tried in the order they were added.
func (c *Chain[T]) Add(name string, v T) {
	bc := c.cfg
	bc.Name = name
	c.links = append(c.links, link[T]{name: name, value: v, breaker: NewBreaker(bc)})
}

// Len returns the number of members.
func (c *Chain[T]) Len() int { return len(c.links) }

// Members reports each member's name and breaker state.
func (c *Chain[T]) Members() []Member {
	out := make([]Member, len(c.links))
	for i, l := range c.links {
		out[i] = Member{Name: l.name, State: l.breaker.State()}
	}
	return out
}

// Each calls fn for every member value in order.
func (c *Chain[T]) Each(fn func(name string, v T)) {
	for _, l := range c.links {
		fn(l.name, l.value)
	}
}

// Call runs fn against each member in turn until one succeeds and returns
// its result together with the serving member's name. It stops early when ctx
// ends. When every member fails the error wraps [ErrExhausted] and the last
// underlying error.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	if len(c.links) == 0 {
		return zero, "", fmt.Errorf("%w: chain is empty", ErrExhausted)
	}
	for _, l := range c.links {
		var out R
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, l.value)
			return err
		})
		if err == nil {
			return out, l.name, nil
		}
		if ctx.Err() != nil {
			return zero, l.name, err
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping provider", "provider", l.name, "reason", "circuit open")
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", l.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
