package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the results API. pipeline and hub may be nil, in which
// case run submission and the event streams are not registered.
func NewRouter(results *ResultsHandler, pipeline *PipelineHandler, hub *SSEHub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	runs := router.Group("/runs")
	runs.GET("", results.ListRuns)
	runs.GET("/:id", results.GetRun)
	runs.GET("/:id/de", results.GetDE)
	runs.GET("/:id/enrichment/:config", results.GetEnrichment)
	if pipeline != nil {
		runs.POST("", pipeline.StartRun)
	}
	if hub != nil {
		router.GET("/events", hub.HandleSSE)
		runs.GET("/:id/events", hub.HandleSSE)
	}
	return router
}
