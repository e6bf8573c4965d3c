package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
)

const defaultListLimit = 100

// submitExecution accepts a run request and returns 202 immediately; the
// work is dispatched asynchronously and observed by polling
func (s *Server) submitExecution(c *gin.Context) {
	var req api.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.DefinitionID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "definition_id is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	x, err := s.engine.Submit(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, api.SubmitResponse{
		ExecutionID: x.ID,
		Status:      x.Status,
	})
}

func (s *Server) getExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))

	x, err := s.engine.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, x)
}

// listExecutions returns digests most-recent-first. Without a status
// filter only terminal executions are listed
func (s *Server) listExecutions(c *gin.Context) {
	f := store.Filter{
		DefinitionID: c.Query("definition_id"),
		Status:       api.ExecutionStatus(c.Query("status")),
		Limit:        defaultListLimit,
	}
	if f.Status == "" {
		f.TerminalOnly = true
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  "invalid limit",
				Status: http.StatusBadRequest,
			})
			return
		}
		f.Limit = n
	}

	executions, err := s.engine.ListExecutions(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	digests := make([]*api.ExecutionDigest, len(executions))
	for i, x := range executions {
		digests[i] = x.Digest()
	}
	c.JSON(http.StatusOK, api.ExecutionsListResponse{
		Executions: digests,
		Count:      len(digests),
	})
}

// cancelExecution requests cooperative cancellation. Cancelling a
// terminal execution is a no-op and still succeeds
func (s *Server) cancelExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))

	if err := s.engine.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "cancellation requested",
	})
}
