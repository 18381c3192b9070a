package api

import (
	"log"
	"net/http"
	"strconv"

	"neurodiff/domain/core"
	"neurodiff/domain/stats"
	"neurodiff/internal/errors"
	"neurodiff/ports"

	"github.com/gin-gonic/gin"
)

// ResultsHandler serves stored runs and their result tables read-only
type ResultsHandler struct {
	repo   ports.ResultRepository
	events *EventRecorder // optional
}

// NewResultsHandler creates a handler over repo. events may be nil.
func NewResultsHandler(repo ports.ResultRepository, events *EventRecorder) *ResultsHandler {
	return &ResultsHandler{repo: repo, events: events}
}

// ListRuns returns runs newest first, paged with ?limit= and ?offset=
func (h *ResultsHandler) ListRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	if limit < 1 || limit > 500 || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in [1,500] and offset >= 0"})
		return
	}
	runs, err := h.repo.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

// GetRun returns one run record with its latest progress event
func (h *ResultsHandler) GetRun(c *gin.Context) {
	id := core.RunID(c.Param("id"))
	rn, err := h.repo.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	body := gin.H{"run": rn}
	if h.events != nil {
		if e, ok := h.events.Latest(string(id)); ok {
			body["latest_event"] = e
		}
	}
	c.JSON(http.StatusOK, body)
}

// GetDE returns the DE table. ?significant=true keeps genes with padj below
// ?alpha= (default 0.1); ?limit= truncates after filtering.
func (h *ResultsHandler) GetDE(c *gin.Context) {
	id := core.RunID(c.Param("id"))
	records, err := h.repo.GetDERecords(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	alpha := stats.DefaultAlpha
	if v := c.Query("alpha"); v != "" {
		if alpha, err = strconv.ParseFloat(v, 64); err != nil || alpha <= 0 || alpha > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "alpha must be in (0,1]"})
			return
		}
	}
	if c.Query("significant") == "true" {
		kept := records[:0:0]
		for _, r := range records {
			if r.Tested() && r.PAdj != nil && *r.PAdj < alpha {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	if limit := queryInt(c, "limit", 0); limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	result := &stats.DEResult{Records: records}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  id,
		"summary": result.Summarize(alpha),
		"records": records,
	})
}

// GetEnrichment returns the report stored for the :config threshold name
func (h *ResultsHandler) GetEnrichment(c *gin.Context) {
	id := core.RunID(c.Param("id"))
	report, err := h.repo.GetEnrichment(c.Request.Context(), id, c.Param("config"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeValidationError, errors.CodeInvalidInput:
		status = http.StatusBadRequest
	default:
		log.Printf("[API] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
