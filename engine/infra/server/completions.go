package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/pipeline"
)

// handleCompletions serves both response modes of the completions endpoint.
// The mode is chosen by the request's stream flag; failures before the first
// streamed byte still produce a plain JSON error with a mapped status.
func (s *Server) handleCompletions(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.NewError(core.KindInvalidRequest, "invalid request body: "+err.Error(), err))
		return
	}
	if req.Stream {
		s.streamCompletion(c, &req)
		return
	}
	emitter := newJSONEmitter(c)
	if err := s.orchestrator.Execute(c.Request.Context(), &req, emitter); err != nil {
		writeError(c, err)
	}
}

func (s *Server) streamCompletion(c *gin.Context, req *pipeline.Request) {
	emitter := newSSEEmitter(c)
	err := s.orchestrator.Execute(c.Request.Context(), req, emitter)
	if err != nil && !emitter.started {
		writeError(c, err)
		return
	}
	if emitter.started {
		emitter.close()
	}
}

// statusForKind maps the error taxonomy onto HTTP statuses. Unknown kinds are
// internal by definition.
func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindInvalidRequest:
		return http.StatusBadRequest
	case core.KindConfigurationNotFound:
		return http.StatusNotFound
	case core.KindCapabilityNotFound:
		return http.StatusUnprocessableEntity
	case core.KindNoModelAvailable:
		return http.StatusConflict
	case core.KindProviderInvocation:
		return http.StatusBadGateway
	case core.KindStreamInterrupted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	c.JSON(statusForKind(kind), gin.H{
		"error": pipeline.ErrorInfo{
			Kind:    string(kind),
			Message: core.SafeMessage(err),
		},
	})
}
