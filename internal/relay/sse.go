package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventWriter frames outbound data as server-sent events. Headers are written
// lazily, on the first event, so failures before any byte is streamed can
// still produce a conventional error response.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	flusher, _ := w.(http.Flusher)
	return &eventWriter{w: w, flusher: flusher}
}

func (e *eventWriter) Started() bool {
	return e.started
}

func (e *eventWriter) start() {
	if e.started {
		return
	}
	header := e.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	e.w.WriteHeader(http.StatusOK)
	e.started = true
}

type contentEvent struct {
	Content string `json:"content"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// Content emits a data event carrying assistant text and flushes it.
func (e *eventWriter) Content(text string) error {
	return e.send(contentEvent{Content: text})
}

// Error emits an in-band error event. Used only once streaming has begun;
// before that, callers return a plain JSON error response instead.
func (e *eventWriter) Error(msg string) error {
	return e.send(errorEvent{Error: msg})
}

// Done emits the stream-termination sentinel.
func (e *eventWriter) Done() error {
	e.start()
	if _, err := fmt.Fprint(e.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *eventWriter) send(v any) error {
	e.start()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *eventWriter) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
