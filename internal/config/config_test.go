package config_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxnav/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["localhost:*"]
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      model: llama3
  vision:
    name: openai
    model: gpt-4o
  tts:
    name: elevenlabs
    options:
      voice_id: abc123
parser:
  remote: true
  temperature: 0.1
  timeout: 5s
  failure_threshold: 2
  reset_timeout: 1m
browser:
  headless: false
  start_url: https://example.com
  viewport: {width: 1024, height: 768}
  click_delay: 250ms
speech:
  backend: synth
  chunk_size: 400
  step: 2
  intro: ""
  rate: 1.5
history:
  size: 10
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("llm_fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Providers.TTS.Options["voice_id"] != "abc123" {
		t.Errorf("tts options = %v", cfg.Providers.TTS.Options)
	}
	if cfg.Parser.Timeout != 5*time.Second || cfg.Parser.ResetTimeout != time.Minute {
		t.Errorf("parser durations = %v, %v", cfg.Parser.Timeout, cfg.Parser.ResetTimeout)
	}
	if cfg.Browser.Headless || cfg.Browser.ClickDelay != 250*time.Millisecond {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Browser.Timeout != 30*time.Second {
		t.Errorf("browser.timeout = %v, want default 30s", cfg.Browser.Timeout)
	}
	if cfg.Speech.Backend != config.SpeechSynth || cfg.Speech.Step != 2 || cfg.Speech.ChunkSize != 400 {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Speech.Intro != "" {
		t.Errorf("intro = %q, want explicitly disabled", cfg.Speech.Intro)
	}
	if cfg.Speech.Volume != 1 || cfg.Speech.Lang != "en-US" {
		t.Errorf("speech defaults lost: %+v", cfg.Speech)
	}
	if cfg.History.Size != 10 {
		t.Errorf("history.size = %d", cfg.History.Size)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("parser:\n  remote: false\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.Default()
	want.Parser.Remote = false

	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("defaults not applied:\n got %+v\nwant %+v", cfg, want)
	}
	if cfg.Speech.Intro != "Reading page aloud." {
		t.Errorf("intro = %q", cfg.Speech.Intro)
	}
}

func TestLoadFromReader_EmptyDocumentNeedsProvider(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "parser.remote requires providers.llm") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("parser:\n  remote: false\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/voxnav.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestSpeechBackend_IsValid(t *testing.T) {
	t.Parallel()
	for _, b := range []config.SpeechBackend{config.SpeechBrowser, config.SpeechSynth, config.SpeechNone} {
		if !b.IsValid() {
			t.Errorf("%q should be valid", b)
		}
	}
	if config.SpeechBackend("espeak").IsValid() {
		t.Error("espeak should be invalid")
	}
}
