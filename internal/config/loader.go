package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names outside these lists.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vision": {"openai"},
	"tts":    {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the
// result. Unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns all problems joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr == "" {
		add("server.listen_addr is required")
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		add("server.tls needs both cert_file and key_file")
	}
	if p := cfg.Server.MCPPath; p != "" && (!strings.HasPrefix(p, "/") || strings.HasPrefix(p, "/api/")) {
		add("server.mcp_path %q must start with / and stay outside /api/", p)
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		add("server.trace_sample_ratio %.2f is out of range [0, 1]", r)
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			add("providers.llm_fallbacks[%d].name is required", i)
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("vision", cfg.Providers.Vision.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("providers.vision is not configured; page descriptions will be unavailable")
	}

	// Parser
	if cfg.Parser.Remote && cfg.Providers.LLM.Name == "" {
		add("parser.remote requires providers.llm; set parser.remote: false to use only the rule parser")
	}
	if cfg.Parser.Temperature < 0 || cfg.Parser.Temperature > 2 {
		add("parser.temperature %.2f is out of range [0, 2]", cfg.Parser.Temperature)
	}
	if cfg.Parser.Timeout < 0 {
		add("parser.timeout must not be negative")
	}
	if cfg.Parser.FailureThreshold < 1 {
		add("parser.failure_threshold must be at least 1")
	}

	// Browser
	if cfg.Browser.Viewport.Width <= 0 || cfg.Browser.Viewport.Height <= 0 {
		add("browser.viewport %dx%d must be positive", cfg.Browser.Viewport.Width, cfg.Browser.Viewport.Height)
	}
	if cfg.Browser.Timeout < 0 || cfg.Browser.ClickDelay < 0 {
		add("browser.timeout and browser.click_delay must not be negative")
	}

	// Speech
	sp := cfg.Speech
	if !sp.Backend.IsValid() {
		add("speech.backend %q is invalid; valid values: browser, synth, none", sp.Backend)
	}
	if sp.Backend == SpeechSynth && cfg.Providers.TTS.Name == "" {
		add("speech.backend %q requires providers.tts", sp.Backend)
	}
	if sp.ChunkSize < 1 {
		add("speech.chunk_size must be at least 1")
	}
	if sp.Step < 1 {
		add("speech.step must be at least 1")
	}
	if sp.Rate < 0.1 || sp.Rate > 10 {
		add("speech.rate %.2f is out of range [0.1, 10]", sp.Rate)
	}
	if sp.Pitch < 0 || sp.Pitch > 2 {
		add("speech.pitch %.2f is out of range [0, 2]", sp.Pitch)
	}
	if sp.Volume < 0 || sp.Volume > 1 {
		add("speech.volume %.2f is out of range [0, 1]", sp.Volume)
	}

	// History
	if cfg.History.Size < 1 {
		add("history.size must be at least 1")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
