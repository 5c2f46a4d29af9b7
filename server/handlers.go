package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	orchestratorx "github.com/orthotrace/opsagent/agent/orchestrator"
)

type taskResponse struct {
	Success    bool           `json:"success"`
	Action     string         `json:"action,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Confidence float64        `json:"confidence"`
}

type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// handleTask is the single inbound entry point. Only request-shape errors
// produce a non-200 status; everything that happens inside the task travels
// in the 200 body.
func (s *Server) handleTask(c *gin.Context) {
	var task contractx.AgentTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: "invalid request body: " + err.Error(),
		})
		return
	}

	resp, err := s.orch.HandleTask(c.Request.Context(), task)
	if err != nil {
		var verr *orchestratorx.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, errorResponse{
				Error:  "validation failed",
				Fields: verr.Fields,
			})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, taskResponse{
		Success:    true,
		Action:     resp.Action,
		Data:       resp.Data,
		Confidence: resp.Confidence,
	})
}
