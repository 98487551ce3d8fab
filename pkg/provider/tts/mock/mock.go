// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("a1"), []byte("a2")}}
//	audio, _ := p.SynthesizeStream(ctx, textCh, tts.Voice{ID: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnav/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
//
// SynthesizeStream drains the text channel and records every fragment in
// Texts, then emits SynthesizeChunks and closes the audio channel.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on every audio channel.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []tts.Voice
	ListVoicesErr    error

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// Texts records every text fragment received across all streams.
	Texts []string

	// ListVoicesCalls counts ListVoices invocations.
	ListVoicesCalls int
}

// SynthesizeStream records the call and returns an audio channel.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for {
			select {
			case s, ok := <-text:
				if !ok {
					for _, audio := range chunks {
						select {
						case ch <- audio:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				p.mu.Lock()
				p.Texts = append(p.Texts, s)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// ReceivedTexts returns a copy of all text fragments received so far.
func (p *Provider) ReceivedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Texts))
	copy(out, p.Texts)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.Texts = nil
	p.ListVoicesCalls = 0
}

var _ tts.Provider = (*Provider)(nil)
