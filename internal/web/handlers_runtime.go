package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/logging"
)

// progressEvent is the data of an SSE progress event.
type progressEvent struct {
	Text string `json:"text"`
}

// eventStream writes server-sent events. Progress callbacks arrive on the
// bridge's dispatch goroutine, so writes are serialized and dropped once
// the handler has returned.
type eventStream struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &eventStream{w: w, rc: http.NewResponseController(w)}
}

func (s *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	_ = s.rc.Flush()
}

func (s *eventStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// handleLoadRuntime bootstraps the rule engine and streams its progress.
//
// Events: "progress" per step, then "complete" or "error". Loading is
// idempotent, so a second request completes without progress.
func (s *Server) handleLoadRuntime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	stream := newEventStream(w)
	defer stream.close()

	err := s.bridge.LoadRuntime(ctx, func(text string) {
		log.Info("runtime progress", "text", text)
		stream.send("progress", progressEvent{Text: text})
	})
	if err != nil {
		msg := core.MapError(err)
		log.Error("runtime load failed", "error", err, "code", msg.Code)
		stream.send("error", ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}

	stream.send("complete", struct{}{})
}
