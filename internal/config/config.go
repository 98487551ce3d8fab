// Package config provides the configuration schema, loader, provider
// registry and file watcher for voxnav.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SpeechBackend selects how page text is spoken.
type SpeechBackend string

const (
	// SpeechBrowser speaks through the controlled page's speechSynthesis.
	SpeechBrowser SpeechBackend = "browser"

	// SpeechSynth streams audio from the configured TTS provider to event
	// stream clients.
	SpeechSynth SpeechBackend = "synth"

	// SpeechNone disables reading aloud.
	SpeechNone SpeechBackend = "none"
)

// IsValid reports whether b is a recognised speech backend.
func (b SpeechBackend) IsValid() bool {
	switch b {
	case SpeechBrowser, SpeechSynth, SpeechNone:
		return true
	}
	return false
}

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader]; keys missing from the file keep the values of [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Parser    ParserConfig    `yaml:"parser"`
	Browser   BrowserConfig   `yaml:"browser"`
	Speech    SpeechConfig    `yaml:"speech"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are host patterns accepted for cross-origin event
	// stream connections, e.g. "localhost:*".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MCPPath mounts the MCP tool endpoint. Empty disables it.
	MCPPath string `yaml:"mcp_path"`

	// TraceSampleRatio is the fraction of new traces recorded. 0 means all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the model backends. Each entry is looked up by
// name in the [Registry].
type ProvidersConfig struct {
	// LLM answers the remote command parser.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails or its circuit is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Vision describes screenshots. It must be vision capable. When unset,
	// page descriptions are unavailable.
	Vision ProviderEntry `yaml:"vision"`

	// TTS is used by the synth speech backend.
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation ("openai", "anthropic", ...).
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values such as a TTS voice_id.
	Options map[string]any `yaml:"options"`
}

// ParserConfig tunes the remote command parser.
type ParserConfig struct {
	// Remote enables the model-backed parser. When false every transcript is
	// classified by the rule parser.
	Remote bool `yaml:"remote"`

	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`

	// FailureThreshold consecutive failures open a provider's circuit for
	// ResetTimeout.
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// BrowserConfig controls the automated browser.
type BrowserConfig struct {
	Headless bool   `yaml:"headless"`
	StartURL string `yaml:"start_url"`

	Viewport ViewportConfig `yaml:"viewport"`

	// Timeout bounds navigation and page calls.
	Timeout time.Duration `yaml:"timeout"`

	// ClickDelay is how long a scrolled-into-view element settles before it
	// is clicked.
	ClickDelay time.Duration `yaml:"click_delay"`

	// SkipInstall assumes the browser binaries are already present.
	SkipInstall bool `yaml:"skip_install"`
}

// ViewportConfig is the page size in CSS pixels.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SpeechConfig controls reading aloud.
type SpeechConfig struct {
	Backend SpeechBackend `yaml:"backend"`

	// ChunkSize is the maximum number of characters per utterance.
	ChunkSize int `yaml:"chunk_size"`

	// Step is how many chunks fast forward and rewind move.
	Step int `yaml:"step"`

	// Intro is spoken before the first chunk. Empty disables it.
	Intro string `yaml:"intro"`

	Lang   string  `yaml:"lang"`
	Rate   float64 `yaml:"rate"`
	Pitch  float64 `yaml:"pitch"`
	Volume float64 `yaml:"volume"`
}

// HistoryConfig sizes the in-memory command history.
type HistoryConfig struct {
	Size int `yaml:"size"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			MCPPath:    "/mcp",
		},
		Parser: ParserConfig{
			Remote:           true,
			Temperature:      0.2,
			Timeout:          10 * time.Second,
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:   true,
			StartURL:   "about:blank",
			Viewport:   ViewportConfig{Width: 1280, Height: 800},
			Timeout:    30 * time.Second,
			ClickDelay: 100 * time.Millisecond,
		},
		Speech: SpeechConfig{
			Backend:   SpeechBrowser,
			ChunkSize: 800,
			Step:      1,
			Intro:     "Reading page aloud.",
			Lang:      "en-US",
			Rate:      1,
			Pitch:     1,
			Volume:    1,
		},
		History: HistoryConfig{Size: 50},
	}
}
