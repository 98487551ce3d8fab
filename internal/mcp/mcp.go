// Package mcp exposes the command dispatcher as Model Context Protocol tools,
// so an external agent can drive the browser with the same vocabulary a
// voice user has.
//
// Tools:
//   - "execute_command": runs a natural-language command end to end.
//   - "parse_command": classifies a command without executing it.
//   - "speech_control": pause, resume, stop, fastforward, rewind or status.
//   - "command_history": the most recent execution results, newest first.
//
// Results are JSON text content. Failed executions and blocked speech are
// tool results with IsError set, not protocol errors.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/dispatch"
	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/internal/speech"
)

// SpeechControl is the part of *speech.Controller the tools drive.
type SpeechControl interface {
	Pause() speech.Status
	Resume() (speech.Status, error)
	Stop() speech.Status
	FastForward() (speech.Status, error)
	Rewind() (speech.Status, error)
	Status() speech.Status
}

// SpeechOps lists the operations accepted by "speech_control".
var SpeechOps = []string{"pause", "resume", "stop", "fastforward", "rewind", "status"}

// Option configures [NewServer].
type Option func(*tools)

// WithSpeech enables playback control through s.
func WithSpeech(s SpeechControl) Option {
	return func(t *tools) { t.speech = s }
}

// WithVersion sets the implementation version reported on initialize.
func WithVersion(v string) Option {
	return func(t *tools) { t.version = v }
}

type tools struct {
	dispatcher *dispatch.Dispatcher
	speech     SpeechControl
	version    string
}

type executeArgs struct {
	Transcript string `json:"transcript" jsonschema:"the spoken command, e.g. open wikipedia or click sign in"`
}

type parseArgs struct {
	Text         string `json:"text" jsonschema:"the command to classify"`
	SystemPrompt string `json:"system_prompt,omitempty" jsonschema:"optional override of the parser instructions"`
}

type parseResult struct {
	Command action.Action `json:"command"`
	Raw     string        `json:"raw,omitempty"`
	Source  string        `json:"source"`
}

type speechArgs struct {
	Operation string `json:"operation" jsonschema:"one of pause, resume, stop, fastforward, rewind, status"`
}

type historyArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries, 0 for all"`
}

// NewServer returns an MCP server with the tools registered on d.
func NewServer(d *dispatch.Dispatcher, opts ...Option) *mcpsdk.Server {
	t := &tools{dispatcher: d, version: "dev"}
	for _, o := range opts {
		o(t)
	}

	s := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voxnav", Version: t.version}, nil)
	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "execute_command",
		Description: "Run a browser command such as 'scroll down', 'search for cats' or 'read this page' and return what happened.",
	}, t.execute)
	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "parse_command",
		Description: "Classify a command into a structured browser action without executing it.",
	}, t.parse)
	if t.speech != nil {
		mcpsdk.AddTool(s, &mcpsdk.Tool{
			Name:        "speech_control",
			Description: "Control page read-aloud playback.",
		}, t.speechControl)
	}
	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "command_history",
		Description: "List recently executed commands, newest first.",
	}, t.history)
	return s
}

// Handler serves s over the streamable HTTP transport.
func Handler(s *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s }, nil)
}

func (t *tools) execute(ctx context.Context, _ *mcpsdk.CallToolRequest, args executeArgs) (*mcpsdk.CallToolResult, any, error) {
	if args.Transcript == "" {
		return errorResult("transcript must not be empty"), nil, nil
	}
	observe.Logger(ctx).Debug("mcp: execute_command", "transcript", args.Transcript)
	res := t.dispatcher.Execute(ctx, args.Transcript)
	out, err := jsonResult(res)
	if err != nil {
		return nil, nil, err
	}
	out.IsError = res.Failed()
	return out, nil, nil
}

func (t *tools) parse(ctx context.Context, _ *mcpsdk.CallToolRequest, args parseArgs) (*mcpsdk.CallToolResult, any, error) {
	if args.Text == "" {
		return errorResult("text must not be empty"), nil, nil
	}
	res := t.dispatcher.Parse(ctx, args.Text, args.SystemPrompt)
	out, err := jsonResult(parseResult{Command: res.Action, Raw: res.Raw, Source: string(res.Source)})
	return out, nil, err
}

func (t *tools) speechControl(_ context.Context, _ *mcpsdk.CallToolRequest, args speechArgs) (*mcpsdk.CallToolResult, any, error) {
	var (
		st  speech.Status
		err error
	)
	switch args.Operation {
	case "pause":
		st = t.speech.Pause()
	case "resume":
		st, err = t.speech.Resume()
	case "stop":
		st = t.speech.Stop()
	case "fastforward":
		st, err = t.speech.FastForward()
	case "rewind":
		st, err = t.speech.Rewind()
	case "status":
		st = t.speech.Status()
	default:
		return errorResult(fmt.Sprintf("unknown operation %q, want one of %v", args.Operation, SpeechOps)), nil, nil
	}

	var blocked *speech.BlockedError
	if errors.As(err, &blocked) {
		return errorResult(blocked.Error()), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	out, err := jsonResult(st)
	return out, nil, err
}

func (t *tools) history(_ context.Context, _ *mcpsdk.CallToolRequest, args historyArgs) (*mcpsdk.CallToolResult, any, error) {
	list := t.dispatcher.History().List()
	if args.Limit > 0 && len(list) > args.Limit {
		list = list[:args.Limit]
	}
	out, err := jsonResult(list)
	return out, nil, err
}

func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}}}, nil
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}
