package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voxnav/pkg/provider/llm"
)

func TestToMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      llm.Message
		wantErr bool
	}{
		{
			name: "system",
			in:   llm.Message{Role: llm.RoleSystem, Content: "answer with JSON"},
		},
		{
			name: "assistant",
			in:   llm.Message{Role: llm.RoleAssistant, Content: `{"action":"BACK"}`},
		},
		{
			name: "plain user turn",
			in:   llm.Message{Role: llm.RoleUser, Content: "scroll down"},
		},
		{
			name:    "image without url",
			in:      llm.Message{Role: llm.RoleUser, Images: []llm.Image{{Detail: "low"}}},
			wantErr: true,
		},
		{
			name:    "tool role",
			in:      llm.Message{Role: "tool"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := toMessage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch tt.in.Role {
			case llm.RoleSystem:
				if msg.OfSystem == nil {
					t.Error("OfSystem not set")
				}
			case llm.RoleAssistant:
				if msg.OfAssistant == nil {
					t.Error("OfAssistant not set")
				}
			case llm.RoleUser:
				if msg.OfUser == nil || len(msg.OfUser.Content.OfArrayOfContentParts) != 0 {
					t.Errorf("text-only user turn = %+v, want plain string content", msg.OfUser)
				}
			}
		})
	}
}

func TestToMessage_Screenshot(t *testing.T) {
	msg, err := toMessage(llm.Message{
		Role:    llm.RoleUser,
		Content: "Describe this page for a blind user.",
		Images:  []llm.Image{{URL: "data:image/png;base64,iVBORw0KGgo=", Detail: "high"}},
	})
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}
	parts := msg.OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want text + image", len(parts))
	}
	if parts[0].OfText == nil || !strings.HasPrefix(parts[0].OfText.Text, "Describe") {
		t.Errorf("first part = %+v, want the prompt", parts[0])
	}
	img := parts[1].OfImageURL
	if img == nil || img.ImageURL.URL != "data:image/png;base64,iVBORw0KGgo=" || img.ImageURL.Detail != "high" {
		t.Errorf("image part = %+v", img)
	}
}

func TestRequest(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params, err := p.request(llm.CompletionRequest{
		SystemPrompt: "Map the command to one action.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "open wikipedia"}},
		Temperature:  0.2,
		MaxTokens:    256,
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Fatalf("messages = %d, want system prompt first", len(params.Messages))
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("json_object response format not requested")
	}
	if params.Temperature.Value != 0.2 || params.MaxCompletionTokens.Value != 256 {
		t.Errorf("temperature %v max tokens %v", params.Temperature.Value, params.MaxCompletionTokens.Value)
	}

	bare, err := p.request(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if bare.Temperature.Valid() || bare.MaxCompletionTokens.Valid() || bare.ResponseFormat.OfJSONObject != nil {
		t.Error("zero values should leave provider defaults")
	}

	if _, err := p.request(llm.CompletionRequest{Messages: []llm.Message{{Role: "function"}}}); err == nil ||
		!strings.Contains(err.Error(), "message 0") {
		t.Errorf("err = %v, want message index", err)
	}
}

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		model      string
		wantVision bool
		wantCtx    int
		wantOut    int
	}{
		{"gpt-4o-mini", true, 128_000, 16_384},
		{"GPT-4o", true, 128_000, 16_384},
		{"gpt-4.1-nano", true, 128_000, 16_384},
		{"gpt-4-turbo-2024-04-09", true, 128_000, 4_096},
		{"gpt-4", false, 8_192, 4_096},
		{"gpt-3.5-turbo", false, 16_385, 4_096},
		{"gpt-5-mini", true, 400_000, 128_000},
		{"o3-mini", false, 200_000, 65_536},
		{"o3", true, 200_000, 100_000},
		{"qwen2.5-7b-instruct", false, 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := capabilitiesFor(tt.model)
			if caps.SupportsVision != tt.wantVision || caps.ContextWindow != tt.wantCtx || caps.MaxOutputTokens != tt.wantOut {
				t.Errorf("caps = %+v", caps)
			}
			if !caps.SupportsJSONMode {
				t.Error("JSON mode should always be reported")
			}
		})
	}
}

func TestNew_RequiredFields(t *testing.T) {
	tests := []struct{ key, model string }{
		{"", "gpt-4o"},
		{"sk-test", ""},
	}
	for _, tt := range tests {
		if _, err := New(tt.key, tt.model); err == nil {
			t.Errorf("New(%q, %q) accepted", tt.key, tt.model)
		}
	}
}

// fakeOpenAI answers chat completions with reply and records the request.
func fakeOpenAI(t *testing.T, status int, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func TestComplete(t *testing.T) {
	srv, body := fakeOpenAI(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o-mini",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "{\"action\":\"SEARCH\",\"query\":\"otters\"}"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 40, "completion_tokens": 9, "total_tokens": 49}
	}`)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "search for otters"}},
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"action":"SEARCH","query":"otters"}` || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage != (llm.Usage{PromptTokens: 40, CompletionTokens: 9, TotalTokens: 49}) {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if (*body)["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v", (*body)["model"])
	}
	if rf, _ := (*body)["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("response_format = %v", (*body)["response_format"])
	}
}

func TestComplete_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`},
		{"no choices", http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeOpenAI(t, tt.status, tt.reply)
			p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "refresh"}},
			})
			if err == nil || !strings.Contains(err.Error(), "gpt-4o-mini") {
				t.Errorf("err = %v, want model-tagged error", err)
			}
		})
	}
}

func TestComplete_VisionUnsupported(t *testing.T) {
	p, err := New("sk-test", "gpt-3.5-turbo")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Images: []llm.Image{{URL: "data:image/png;base64,AA"}}}},
	})
	if !errors.Is(err, llm.ErrVisionUnsupported) {
		t.Fatalf("err = %v, want ErrVisionUnsupported", err)
	}
}
