// Package sse implements the server-sent-events stream used by the ask
// endpoint. One Stream wraps one response; business logic emits typed
// events through it and terminates the stream with exactly one final or
// error event.
package sse

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Event names on the wire.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventFinal    = "final"
	EventError    = "error"
)

// Stream is a single server-sent-events response. It is not safe for
// concurrent use; one turn writes to it sequentially.
type Stream struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	opened   bool
	closed   bool
	progress int
}

// New wraps a response writer. The returned stream is inert until Open.
func New(w http.ResponseWriter) *Stream {
	flusher, _ := w.(http.Flusher)
	return &Stream{w: w, flusher: flusher}
}

// Open writes the event-stream headers and flushes them so the client
// sees the connection immediately, before any business logic runs. After
// Open, HTTP status semantics no longer reach the client; failures must
// go through StreamError.
func (s *Stream) Open() {
	if s.opened {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.opened = true
	s.flush()
}

// Status emits a status event with a human-readable message, plus a
// parallel progress event for clients that only listen to one channel.
func (s *Stream) Status(message string, progress int) {
	progress = s.clamp(progress)
	s.write(EventStatus, map[string]any{"message": message, "progress": progress})
	s.write(EventProgress, map[string]any{"progress": progress})
}

// Progress emits a bare progress event. Values are clamped to [0,100]
// and never regress within the stream's lifetime.
func (s *Stream) Progress(percent int) {
	s.write(EventProgress, map[string]any{"progress": s.clamp(percent)})
}

// CloseWith emits one terminal named event and marks the stream closed.
// Only the first terminal event wins; later calls are ignored so a
// failure path can never double-close an already finished stream.
func (s *Stream) CloseWith(status int, event string, payload any) {
	if s.closed {
		return
	}
	if !s.opened {
		s.w.WriteHeader(status)
		s.opened = true
	}
	s.writeRaw(event, payload)
	s.closed = true
}

// StreamError is sugar over CloseWith for the error event. Extra context
// keys are merged beside code and message.
func (s *Stream) StreamError(status int, code, message string, extra map[string]any) {
	body := map[string]any{"code": code, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	s.CloseWith(status, EventError, body)
}

// Closed reports whether a terminal event has been written.
func (s *Stream) Closed() bool { return s.closed }

func (s *Stream) write(event string, payload any) {
	if s.closed {
		return
	}
	if !s.opened {
		s.Open()
	}
	s.writeRaw(event, payload)
}

func (s *Stream) writeRaw(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("sse payload marshal failed")
		return
	}
	if _, err := s.w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		log.Debug().Err(err).Msg("sse write failed, client likely gone")
		return
	}
	s.flush()
}

// clamp bounds percent to [0,100] and enforces monotonic progress.
func (s *Stream) clamp(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < s.progress {
		return s.progress
	}
	s.progress = percent
	return percent
}

func (s *Stream) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
