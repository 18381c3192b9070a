package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"neurodiff/app"
	"neurodiff/domain/core"

	"github.com/gin-gonic/gin"
)

// PipelineRunner executes a pipeline request to completion
type PipelineRunner interface {
	Run(ctx context.Context, req app.PipelineRequest) (*app.RunReport, error)
}

// RunRequest is the body of POST /runs. Empty fields keep the server defaults.
type RunRequest struct {
	Source     string   `json:"source" binding:"required"`
	Group      string   `json:"group"`
	Reference  string   `json:"reference"`
	Test       string   `json:"test"`
	Covariates []string `json:"covariates"`
	Factors    []string `json:"factors"`
	Exclude    []string `json:"exclude"`
	Seed       *int64   `json:"seed"`
}

// PipelineHandler starts runs in the background; progress is followed on
// the run's event stream.
type PipelineHandler struct {
	runner   PipelineRunner
	defaults func(source string) app.PipelineRequest
	ctx      context.Context
}

// NewPipelineHandler creates a handler. Runs started by it are cancelled
// when ctx is done.
func NewPipelineHandler(ctx context.Context, runner PipelineRunner, defaults func(source string) app.PipelineRequest) *PipelineHandler {
	return &PipelineHandler{runner: runner, defaults: defaults, ctx: ctx}
}

// StartRun handles POST /runs
func (h *PipelineHandler) StartRun(c *gin.Context) {
	var body RunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.Source) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}

	req := h.defaults(body.Source)
	if body.Group != "" {
		req.Design.Group = body.Group
	}
	if body.Reference != "" {
		req.Design.Reference = body.Reference
	}
	if body.Test != "" {
		req.Design.Test = body.Test
	}
	if body.Covariates != nil {
		req.Design.Covariates = body.Covariates
	}
	if body.Factors != nil {
		req.Design.Factors = body.Factors
	}
	if body.Exclude != nil {
		req.Exclusions = body.Exclude
	}
	if body.Seed != nil {
		req.Seed = *body.Seed
	}
	req.RunID = core.NewRunID()

	go func() {
		if _, err := h.runner.Run(h.ctx, req); err != nil {
			log.Printf("[API] run %s failed: %v", req.RunID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": req.RunID,
		"status": "/runs/" + string(req.RunID),
		"events": "/runs/" + string(req.RunID) + "/events",
	})
}
