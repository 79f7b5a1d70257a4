package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attune-ai/attune/engine/pipeline"
)

// doneMarker terminates every server-sent event stream, success or failure.
const doneMarker = "[DONE]"

// jsonEmitter writes the single non-streaming response object.
type jsonEmitter struct {
	c *gin.Context
}

func newJSONEmitter(c *gin.Context) *jsonEmitter {
	return &jsonEmitter{c: c}
}

func (e *jsonEmitter) Completion(resp *pipeline.CompletionResponse) error {
	e.c.JSON(http.StatusOK, resp)
	return nil
}

func (e *jsonEmitter) Fragment(*pipeline.StreamFrame) error {
	return fmt.Errorf("json emitter cannot stream")
}

func (e *jsonEmitter) Final(*pipeline.StreamFrame) error {
	return fmt.Errorf("json emitter cannot stream")
}

func (e *jsonEmitter) Interrupted(*pipeline.ErrorFrame) error {
	return fmt.Errorf("json emitter cannot stream")
}

// sseEmitter writes stream frames as server-sent events. Headers go out
// lazily with the first frame, so pre-stream failures can still return a
// plain JSON error.
type sseEmitter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
	closed  bool
}

func newSSEEmitter(c *gin.Context) *sseEmitter {
	return &sseEmitter{c: c}
}

func (e *sseEmitter) start() error {
	if e.started {
		return nil
	}
	flusher, ok := e.c.Writer.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}
	header := e.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	e.c.Status(http.StatusOK)
	e.flusher = flusher
	e.started = true
	return nil
}

func (e *sseEmitter) writeEvent(payload any) error {
	if err := e.start(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding stream frame: %w", err)
	}
	if _, err := fmt.Fprintf(e.c.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing stream frame: %w", err)
	}
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) Completion(*pipeline.CompletionResponse) error {
	return fmt.Errorf("sse emitter cannot write a single response object")
}

func (e *sseEmitter) Fragment(frame *pipeline.StreamFrame) error {
	return e.writeEvent(frame)
}

func (e *sseEmitter) Final(frame *pipeline.StreamFrame) error {
	return e.writeEvent(frame)
}

func (e *sseEmitter) Interrupted(frame *pipeline.ErrorFrame) error {
	return e.writeEvent(frame)
}

// close writes the end-of-stream marker. Idempotent.
func (e *sseEmitter) close() {
	if !e.started || e.closed {
		return
	}
	e.closed = true
	fmt.Fprintf(e.c.Writer, "data: %s\n\n", doneMarker)
	e.flusher.Flush()
}
