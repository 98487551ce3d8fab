// Package coqui implements [tts.Provider] on a self-hosted Coqui TTS server.
//
// Coqui synthesizes one request at a time, so text fragments are cut into
// sentences and each sentence becomes one HTTP call. A few calls run ahead of
// playback; their results are still delivered in sentence order. Every audio
// fragment on the returned channel is a complete WAV file, which a browser
// can play without further framing.
//
// Two server flavours are supported: the standard server image
// (GET /api/tts, voices from GET /details) and the XTTS v2 API server
// (POST /tts_to_audio/, voices from GET /studio_speakers).
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voxnav/pkg/provider/tts"
)

// Mode selects the server API.
type Mode string

const (
	// ModeStandard targets the standard Coqui TTS server. Default.
	ModeStandard Mode = "standard"
	// ModeXTTS targets the XTTS v2 API server. It needs a voice ID.
	ModeXTTS Mode = "xtts"
)

// DefaultLookahead is how many sentences may be synthesizing at once.
const DefaultLookahead = 3

// Provider synthesizes page text with a Coqui server.
type Provider struct {
	baseURL   string
	mode      Mode
	language  string
	lookahead int
	client    *http.Client
}

// Option tunes [New].
type Option func(*Provider)

// WithMode picks the server API.
func WithMode(m Mode) Option {
	return func(p *Provider) { p.mode = m }
}

// WithLanguage sets the language sent when the voice carries none, e.g. "de".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each synthesis request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithLookahead sets how many sentences may synthesize concurrently.
func WithLookahead(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.lookahead = n
		}
	}
}

// New returns a Provider for the server at baseURL, e.g.
// "http://localhost:5002".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: base URL is required")
	}
	p := &Provider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		mode:      ModeStandard,
		language:  "en",
		lookahead: DefaultLookahead,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.mode != ModeStandard && p.mode != ModeXTTS {
		return nil, fmt.Errorf("coqui: unknown mode %q, want %q or %q", p.mode, ModeStandard, ModeXTTS)
	}
	return p, nil
}

type result struct {
	wav []byte
	err error
}

// SynthesizeStream implements [tts.Provider]. The stream stops at the first
// sentence the server fails to synthesize.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" && p.mode == ModeXTTS {
		return nil, errors.New("coqui: xtts mode needs a voice ID")
	}
	ctx, cancel := context.WithCancel(ctx)

	pending := make(chan chan result, p.lookahead)
	go func() {
		defer close(pending)
		for s := range sentences(ctx, text) {
			out := make(chan result, 1)
			select {
			case pending <- out:
			case <-ctx.Done():
				return
			}
			go func() {
				wav, err := p.synthesize(ctx, s, voice)
				out <- result{wav, err}
			}()
		}
	}()

	audio := make(chan []byte, p.lookahead)
	go func() {
		defer close(audio)
		defer cancel()
		for next := range pending {
			var r result
			select {
			case r = <-next:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed", "err", r.err)
				}
				return
			}
			select {
			case audio <- r.wav:
			case <-ctx.Done():
				return
			}
		}
	}()
	return audio, nil
}

// sentences re-cuts text fragments at sentence ends. Whatever is left when
// text closes is sent as a final sentence.
func sentences(ctx context.Context, text <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		emit := func(s string) bool {
			if s = strings.TrimSpace(s); s == "" {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		var buf string
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					emit(buf)
					return
				}
				buf += fragment
				for {
					i := sentenceEnd(buf)
					if i < 0 {
						break
					}
					if !emit(buf[:i]) {
						return
					}
					buf = buf[i:]
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// sentenceEnd returns the index just past the first '.', '!' or '?' that is
// followed by whitespace, or -1. "3.14" and "e.g." mid-word do not count.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 < len(s) {
				if r, _ := utf8.DecodeRuneInString(s[i+1:]); unicode.IsSpace(r) {
					return i + 1
				}
			}
		}
	}
	return -1
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.Voice) ([]byte, error) {
	lang := p.language
	if voice.Language != "" {
		lang, _, _ = strings.Cut(voice.Language, "-")
	}

	var req *http.Request
	var err error
	if p.mode == ModeXTTS {
		body, _ := json.Marshal(struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}{sentence, voice.ID, lang})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts_to_audio/", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {sentence}, "language_id": {lang}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tts?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	if len(wav) < 12 || string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("coqui: synthesize: response is not a WAV file")
	}
	return wav, nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// ListVoices implements [tts.Provider]. A single-speaker standard model is
// reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	path := "/details"
	if p.mode == ModeXTTS {
		path = "/studio_speakers"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: voices: %w", err)
	}

	if p.mode == ModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(body, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: voices: decode: %w", err)
		}
		names := make([]string, 0, len(speakers))
		for n := range speakers {
			names = append(names, n)
		}
		slices.Sort(names)
		voices := make([]tts.Voice, len(names))
		for i, n := range names {
			voices[i] = tts.Voice{ID: n, Name: n, Metadata: map[string]string{"type": "studio"}}
		}
		return voices, nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Language  string   `json:"language"`
		Speakers  []string `json:"speakers"`
	}
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("coqui: voices: decode: %w", err)
	}
	if len(details.Speakers) == 0 {
		return []tts.Voice{{
			Name:     cmp.Or(details.ModelName, "default"),
			Language: details.Language,
			Metadata: map[string]string{"model_name": details.ModelName},
		}}, nil
	}
	speakers := slices.Sorted(slices.Values(details.Speakers))
	voices := make([]tts.Voice, len(speakers))
	for i, s := range speakers {
		voices[i] = tts.Voice{
			ID:       s,
			Name:     s,
			Language: details.Language,
			Metadata: map[string]string{"model_name": details.ModelName},
		}
	}
	return voices, nil
}

var _ tts.Provider = (*Provider)(nil)
