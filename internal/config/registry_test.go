package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxnav/internal/config"
	"github.com/MrWong99/voxnav/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxnav/pkg/provider/llm/mock"
	"github.com/MrWong99/voxnav/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxnav/pkg/provider/tts/mock"
)

func TestRegistry(t *testing.T) {
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("missing key")
	})
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	if got := reg.LLMNames(); !slices.Equal(got, []string{"anthropic", "openai"}) {
		t.Errorf("LLMNames = %v", got)
	}
	if got := reg.TTSNames(); !slices.Equal(got, []string{"elevenlabs"}) {
		t.Errorf("TTSNames = %v", got)
	}

	entry := config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
	if p, err := reg.CreateLLM(entry); err != nil || p == nil {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	if gotEntry.Model != "gpt-4o-mini" {
		t.Errorf("factory saw %+v", gotEntry)
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "anthropic"}); err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("factory error = %v, want it passed through", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "gemini"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown llm err = %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "polly"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown tts err = %v", err)
	}
	if p, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err != nil || p == nil {
		t.Errorf("CreateTTS = %v, %v", p, err)
	}
}
