// Package elevenlabs implements [tts.Provider] on the ElevenLabs
// stream-input WebSocket API.
//
// A synthesis stream is one WebSocket: the first frame carries the API key
// and voice settings, every following frame one fragment of page text, and
// an empty frame asks the server to flush what it has buffered. Audio comes
// back as base64 in JSON frames until one is marked final.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxnav/pkg/provider/tts"
)

// Defaults used by [New].
const (
	DefaultModel        = "eleven_flash_v2_5"
	DefaultOutputFormat = "mp3_44100_128"
)

const (
	wsBase  = "wss://api.elevenlabs.io"
	apiBase = "https://api.elevenlabs.io"

	// The API rejects speeds outside this range.
	minSpeed = 0.7
	maxSpeed = 1.2
)

// Provider synthesizes page text with ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	format     string
	stability  float64
	similarity float64
	wsBase     string
	apiBase    string
	client     *http.Client
}

// Option tunes [New].
type Option func(*Provider)

// WithModel picks the model, e.g. "eleven_turbo_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat picks the audio encoding, e.g. "pcm_24000". Browsers
// play the default mp3 directly.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithVoiceSettings overrides stability and similarity boost, both in [0, 1].
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.stability = stability
		p.similarity = similarity
	}
}

// WithEndpoints points the provider at another server, mainly for tests.
func WithEndpoints(ws, api string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(ws, "/")
		p.apiBase = strings.TrimRight(api, "/")
	}
}

// WithHTTPClient replaces the client used by ListVoices.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      DefaultModel,
		format:     DefaultOutputFormat,
		stability:  0.5,
		similarity: 0.75,
		wsBase:     wsBase,
		apiBase:    apiBase,
		client:     http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	if p.stability < 0 || p.stability > 1 || p.similarity < 0 || p.similarity > 1 {
		return nil, fmt.Errorf("elevenlabs: voice settings %v/%v outside [0, 1]", p.stability, p.similarity)
	}
	return p, nil
}

type settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type inbound struct {
	Text          string    `json:"text"`
	VoiceSettings *settings `json:"voice_settings,omitempty"`
	XiAPIKey      string    `json:"xi_api_key,omitempty"`
}

type outbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// stream is one open synthesis session.
type stream struct {
	conn  *websocket.Conn
	audio chan []byte
}

func (s *stream) send(ctx context.Context, msg inbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receive forwards decoded audio until the server marks the end of the
// stream, reports an error, or the connection drops.
func (s *stream) receive(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		var frame outbound
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		if frame.Error != "" {
			slog.Warn("elevenlabs: server error", "error", frame.Error, "message", frame.Message)
			return
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				continue
			}
			select {
			case s.audio <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if frame.IsFinal {
			return
		}
	}
}

// pump sends every non-blank fragment, then the flush frame once text is
// closed, and waits for receive to finish.
func (s *stream) pump(ctx context.Context, text <-chan string, received <-chan struct{}) {
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				if err := s.send(ctx, inbound{}); err == nil {
					<-received
				}
				return
			}
			if strings.TrimSpace(fragment) == "" {
				continue
			}
			// The server holds text back until it sees trailing whitespace.
			if err := s.send(ctx, inbound{Text: fragment + " "}); err != nil {
				slog.Warn("elevenlabs: send fragment", "err", err)
				return
			}
		case <-received:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID is required")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: connect: %w", err)
	}
	s := &stream{conn: conn, audio: make(chan []byte, 64)}

	// A single space opens the stream without producing audio.
	if err := s.send(ctx, inbound{Text: " ", VoiceSettings: p.voiceSettings(voice), XiAPIKey: p.apiKey}); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("elevenlabs: handshake: %w", err)
	}

	go func() {
		defer close(s.audio)
		defer conn.Close(websocket.StatusNormalClosure, "")

		received := make(chan struct{})
		go func() {
			defer close(received)
			s.receive(ctx)
		}()
		s.pump(ctx, text, received)
	}()
	return s.audio, nil
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	return p.wsBase + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// voiceSettings clamps the voice rate into the accepted speed range. A rate of
// 0 or 1 leaves the server default.
func (p *Provider) voiceSettings(v tts.Voice) *settings {
	s := &settings{Stability: p.stability, SimilarityBoost: p.similarity}
	if v.Rate > 0 && v.Rate != 1 {
		s.Speed = min(max(v.Rate, minSpeed), maxSpeed)
	}
	return s
}

type voiceList struct {
	Voices []struct {
		ID       string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices implements [tts.Provider]. Labels and the category end up in
// Voice.Metadata; the "language" label, when present, fills Voice.Language.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: voices: %s", resp.Status)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: decode: %w", err)
	}

	voices := make([]tts.Voice, len(list.Voices))
	for i, v := range list.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices[i] = tts.Voice{ID: v.ID, Name: v.Name, Language: v.Labels["language"], Metadata: meta}
	}
	return voices, nil
}

var _ tts.Provider = (*Provider)(nil)
