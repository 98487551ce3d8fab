package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxnav/pkg/provider/llm"
)

// LLMChain is an llm.Provider that fails over across several backends.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain returns an LLMChain with primary as its first member.
// [llm.ErrVisionUnsupported] never counts against a breaker, so a text-only
// primary keeps serving commands while image requests move on to a vision
// model further down the chain.
func NewLLMChain(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLMChain {
	ignore := cfg.Ignore
	cfg.Ignore = func(err error) bool {
		return errors.Is(err, llm.ErrVisionUnsupported) || (ignore != nil && ignore(err))
	}
	c := &LLMChain{chain: NewChain[llm.Provider](cfg)}
	c.chain.Add(primaryName, primary)
	return c
}

// Add registers a fallback backend.
func (c *LLMChain) Add(name string, p llm.Provider) {
	c.chain.Add(name, p)
}

// Members reports breaker state per backend.
func (c *LLMChain) Members() []Member {
	return c.chain.Members()
}

// Complete sends req to the first healthy backend.
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := Call(ctx, c.chain, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}

// Capabilities returns the primary's capabilities, with SupportsVision set
// when any member can take images.
func (c *LLMChain) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	first := true
	c.chain.Each(func(_ string, p llm.Provider) {
		pc := p.Capabilities()
		if first {
			caps = pc
			first = false
		}
		caps.SupportsVision = caps.SupportsVision || pc.SupportsVision
	})
	return caps
}
