package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/loom/pkg/api"
)

// registerFlow validates and stores a flow definition. Registration
// never affects executions already snapshotted from a prior version
func (s *Server) registerFlow(c *gin.Context) {
	var def api.FlowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	def.ID = api.SanitizeID(def.ID)
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	if err := s.store.PutFlow(c.Request.Context(), &def); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.FlowRegisteredResponse{
		Flow:    &def,
		Message: "flow registered",
	})
}

func (s *Server) getFlow(c *gin.Context) {
	id := api.FlowID(c.Param("flowID"))

	def, err := s.store.GetFlow(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) listFlows(c *gin.Context) {
	flows, err := s.store.ListFlows(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flows)
}

// registerOrchestration validates and stores an orchestration
// definition, defaulting its publication status to active
func (s *Server) registerOrchestration(c *gin.Context) {
	var def api.OrchestrationDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	def.ID = api.SanitizeID(def.ID)
	if def.Status == "" {
		def.Status = api.DefinitionActive
	}
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.store.PutOrchestration(c.Request.Context(), &def)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.OrchestrationRegisteredResponse{
		Orchestration: &def,
		Message:       "orchestration registered",
	})
}

func (s *Server) getOrchestration(c *gin.Context) {
	id := api.OrchestrationID(c.Param("orchestrationID"))

	def, err := s.store.GetOrchestration(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) listOrchestrations(c *gin.Context) {
	defs, err := s.store.ListOrchestrations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}
