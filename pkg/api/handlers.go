package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/lattice/pkg/executor"
	"github.com/lattice-run/lattice/pkg/types"
)

// encodedObjectDTO is the wire shape of one workflow input.
type encodedObjectDTO struct {
	Language types.Language `json:"language"`
	Payload  []byte         `json:"payload"`
}

// submitRequest is the wire shape of POST /v1/workflows.
type submitRequest struct {
	Graph     []types.Task                 `json:"graph"`
	Functions map[string]*types.FunctionSpec `json:"functions"`
	Inputs    map[string]encodedObjectDTO  `json:"inputs"`
}

type submitResponse struct {
	WorkflowID string `json:"workflow_id"`
}

type errorResponse struct {
	Kind    types.ErrorKind `json:"kind,omitempty"`
	Message string          `json:"message"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Kind: types.ErrInvalidArgument, Message: err.Error()})
		return
	}

	inputs := make(map[string]executor.EncodedObject, len(req.Inputs))
	for name, obj := range req.Inputs {
		inputs[name] = executor.EncodedObject{Language: obj.Language, Payload: obj.Payload}
	}

	workflowID, err := s.exec.Submit(req.Graph, req.Functions, inputs)
	if err != nil {
		writeExecError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{WorkflowID: workflowID})
}

func (s *Server) handleStatus(c *gin.Context) {
	instance, err := s.exec.Status(c.Param("id"))
	if err != nil {
		writeExecError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (s *Server) handleWait(c *gin.Context) {
	ctx, cancel := withOptionalTimeout(c)
	defer cancel()

	ref, err := s.exec.Wait(ctx, c.Param("id"))
	if err != nil {
		writeExecError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (s *Server) handleOutput(c *gin.Context) {
	instance, err := s.exec.Status(c.Param("id"))
	if err != nil {
		writeExecError(c, err)
		return
	}
	if instance.State != types.WorkflowSucceeded {
		c.JSON(http.StatusConflict, errorResponse{Kind: instance.ErrKind, Message: "workflow has not succeeded"})
		return
	}

	obj, err := s.resolver.Resolve(c.Request.Context(), instance.Output)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Message: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", obj.Payload)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.exec.Cancel(c.Param("id")); err != nil {
		writeExecError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEvents(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := s.exec.Events(ctx, c.Param("id"))
	if err != nil {
		writeExecError(c, err)
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func withOptionalTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	if d := c.Query("timeout"); d != "" {
		if parsed, err := time.ParseDuration(d); err == nil {
			return context.WithTimeout(c.Request.Context(), parsed)
		}
	}
	return context.WithCancel(c.Request.Context())
}

func writeExecError(c *gin.Context, err error) {
	var execErr *executor.Error
	if errors.As(err, &execErr) {
		c.JSON(statusForErrKind(execErr.Kind), errorResponse{Kind: execErr.Kind, Message: execErr.Message})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, errorResponse{Kind: types.ErrTimeout, Message: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
}

func statusForErrKind(kind types.ErrorKind) int {
	switch kind {
	case types.ErrInvalidArgument:
		return http.StatusBadRequest
	case types.ErrNoCapacity:
		return http.StatusServiceUnavailable
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrCancelled:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
