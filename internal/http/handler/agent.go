package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docuchat.app/engine/internal/agent"
	"docuchat.app/engine/internal/http/middleware"
	"docuchat.app/engine/internal/service"
)

// Error codes returned by the agent endpoints.
const (
	codeValidationError = "VALIDATION_ERROR"
	codeAgentError      = "AGENT_ERROR"
	codeInternalError   = "INTERNAL_ERROR"
)

// AgentRunRequest is the body for /agent/run and /agent/stream.
type AgentRunRequest struct {
	Question     string `json:"question"`
	Mode         string `json:"mode"`
	ReturnTrace  bool   `json:"returnTrace"`
	RefinePrompt bool   `json:"refine_prompt"`
	Rerank       bool   `json:"rerank"`
}

// AgentRunResponse is the success body for /agent/run.
type AgentRunResponse struct {
	Answer          string                   `json:"answer"`
	Citations       []agent.GroundedCitation `json:"citations"`
	Insufficiencies []agent.Insufficiency    `json:"insufficiencies,omitempty"`
	Trace           []agent.TraceEntry       `json:"trace,omitempty"`
}

// AgentHandler serves the agent run endpoints.
type AgentHandler struct {
	agents *service.AgentService
}

func NewAgentHandler(agents *service.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// Run handles POST /agent/run.
func (h *AgentHandler) Run(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	user := middleware.CurrentUser(c)
	userID := strconv.FormatInt(user.ID, 10)

	result, err := h.agents.Run(c.Request.Context(), userID, req.Question, req.Rerank)
	if err != nil {
		h.writeRunError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.buildResponse(result, req.ReturnTrace))
}

func (h *AgentHandler) bindRequest(c *gin.Context) (AgentRunRequest, bool) {
	var req AgentRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
			"code":  codeValidationError,
		})
		return req, false
	}

	if req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "question is required",
			"code":  codeValidationError,
		})
		return req, false
	}

	if req.Mode != "agent" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "only mode 'agent' is supported",
			"code":  codeValidationError,
		})
		return req, false
	}

	return req, true
}

func (h *AgentHandler) buildResponse(result *agent.Result, returnTrace bool) AgentRunResponse {
	resp := AgentRunResponse{
		Answer:          result.Answer,
		Citations:       result.Citations,
		Insufficiencies: result.Insufficiencies,
	}
	if resp.Citations == nil {
		resp.Citations = []agent.GroundedCitation{}
	}
	if returnTrace {
		resp.Trace = result.Trace
	}
	return resp
}

func (h *AgentHandler) writeRunError(c *gin.Context, err error) {
	if errors.Is(err, agent.ErrEmptyQuestion) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  codeAgentError,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "agent execution failed",
		"code":  codeInternalError,
	})
}
