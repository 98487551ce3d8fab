package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxnav/internal/dispatch"
	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/internal/speech"
	"github.com/MrWong99/voxnav/internal/speech/synth"
)

const (
	defaultClientBuffer = 64
	writeTimeout        = 5 * time.Second
)

// Event types sent as JSON text frames. Every binary audio frame follows an
// EventAudio frame carrying its utterance tag; EventAudioEnd closes the
// utterance's audio.
const (
	EventSpeech     = "speech"
	EventCommand    = "command"
	EventAudio      = "audio"
	EventAudioEnd   = "audio_end"
	EventAudioFlush = "audio_flush"
)

// MessagePlayed is the client message confirming that an utterance's audio,
// up to its EventAudioEnd, has finished playing.
const MessagePlayed = "played"

// Event is one JSON frame on the event stream.
type Event struct {
	Type    string                    `json:"type"`
	Speech  *speech.Notification      `json:"speech,omitempty"`
	Command *dispatch.ExecutionResult `json:"command,omitempty"`
	Audio   *AudioTag                 `json:"audio,omitempty"`
}

// AudioTag identifies the utterance audio belongs to.
type AudioTag struct {
	Generation uint64 `json:"generation"`
	Index      int    `json:"index"`
}

// ClientMessage is a JSON text frame sent by a client.
type ClientMessage struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	Index      int    `json:"index"`
}

// PlayedFunc receives playback confirmations.
type PlayedFunc func(generation uint64, index int)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

type client struct {
	id   string
	send chan frame
}

// Hub fans speech notifications, command results and synthesized audio out
// to every connected WebSocket client. A client that cannot keep up loses
// frames instead of stalling the others.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	buffer  int
	origins []string
	metrics *observe.Metrics
	played  PlayedFunc
}

var (
	_ speech.Notifier = (*Hub)(nil)
	_ synth.AudioSink = (*Hub)(nil)
)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithClientBuffer sets how many frames may queue per client. Default: 64.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients whose host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithHubMetrics tracks the connected client count on m.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[string]*client),
		buffer:  defaultClientBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("server: websocket accept failed", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), send: make(chan frame, h.buffer)}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(c)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	log := observe.Logger(r.Context()).With("client", c.id)
	go h.read(ctx, cancel, conn, log)
	log.Info("server: event client connected")

	for {
		select {
		case <-ctx.Done():
			log.Info("server: event client disconnected")
			return
		case f, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, f.typ, f.data)
			cancel()
			if err != nil {
				log.Info("server: event client write failed", "err", err)
				return
			}
		}
	}
}

// read handles client messages until the connection fails. Reading also
// answers pings and the close handshake.
func (h *Hub) read(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log *slog.Logger) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var m ClientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug("server: malformed client message", "err", err)
			continue
		}
		switch m.Type {
		case MessagePlayed:
			h.mu.Lock()
			fn := h.played
			h.mu.Unlock()
			if fn != nil {
				fn(m.Generation, m.Index)
			}
		default:
			log.Debug("server: unknown client message", "type", m.Type)
		}
	}
}

// OnPlayed registers fn to receive playback confirmations from clients.
func (h *Hub) OnPlayed(fn PlayedFunc) {
	h.mu.Lock()
	h.played = fn
	h.mu.Unlock()
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	if h.metrics != nil {
		h.metrics.EventClients.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	if h.metrics != nil {
		h.metrics.EventClients.Add(context.Background(), -1)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify implements speech.Notifier.
func (h *Hub) Notify(n speech.Notification) {
	h.publish(Event{Type: EventSpeech, Speech: &n})
}

// CommandExecuted publishes a command result. It has the signature of
// dispatch.ResultFunc.
func (h *Hub) CommandExecuted(r dispatch.ExecutionResult) {
	h.publish(Event{Type: EventCommand, Command: &r})
}

// Audio implements synth.AudioSink by sending the utterance tag followed by
// data as a binary frame.
func (h *Hub) Audio(u speech.Utterance, data []byte) {
	h.publish(Event{Type: EventAudio, Audio: &AudioTag{Generation: u.Generation, Index: u.Index}})
	h.broadcast(frame{typ: websocket.MessageBinary, data: data})
}

// Finish implements synth.AudioSink. Playback is confirmed only when a client
// is connected to hear it.
func (h *Hub) Finish(u speech.Utterance) bool {
	h.publish(Event{Type: EventAudioEnd, Audio: &AudioTag{Generation: u.Generation, Index: u.Index}})
	return h.Clients() > 0
}

// Flush implements synth.AudioSink.
func (h *Hub) Flush() {
	h.publish(Event{Type: EventAudioFlush})
}

func (h *Hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("server: encode event", "type", ev.Type, "err", err)
		return
	}
	h.broadcast(frame{typ: websocket.MessageText, data: data})
}

func (h *Hub) broadcast(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- f:
		default:
			slog.Debug("server: dropping frame for slow client", "client", c.id)
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
		if h.metrics != nil {
			h.metrics.EventClients.Add(context.Background(), -1)
		}
	}
}
