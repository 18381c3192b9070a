package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"neurodiff/app"
	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/domain/run"
	"neurodiff/domain/stats"
	"neurodiff/internal/testkit"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captureSink struct {
	events []run.StageEvent
}

func (s *captureSink) Publish(e run.StageEvent) { s.events = append(s.events, e) }

func seededRepo(t *testing.T) *testkit.InMemoryResultRepository {
	t.Helper()
	ctx := context.Background()
	repo := testkit.NewInMemoryResultRepository()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []core.RunID{"run-old", "run-new"} {
		rn := &run.Run{ID: id, Status: run.StatusSucceeded, StartedAt: started.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.SaveRun(ctx, rn))
	}

	result := &stats.DEResult{Records: []stats.GeneRecord{
		{GeneID: "g1", Symbol: "Pvalb", Log2FoldChange: 2, PValue: stats.Float(1e-6), PAdj: stats.Float(1e-4), Status: stats.StatusTested},
		{GeneID: "g2", Symbol: "Sst", Log2FoldChange: -1.5, PValue: stats.Float(1e-3), PAdj: stats.Float(0.05), Status: stats.StatusTested},
		{GeneID: "g3", Symbol: "Actb", Log2FoldChange: 0.1, PValue: stats.Float(0.6), PAdj: stats.Float(0.8), Status: stats.StatusTested},
		{GeneID: "g4", Symbol: "Zero", Status: stats.StatusUntested, Reason: "all-zero counts"},
	}}
	require.NoError(t, repo.SaveDEResult(ctx, "run-new", result))

	report := &stats.EnrichmentReport{
		Threshold: stats.DefaultThresholds()[0],
		ListSize:  2,
		Databases: []stats.DatabaseResult{{Database: "Neuro_Pathways", Hits: []stats.TermHit{}}},
	}
	require.NoError(t, repo.SaveEnrichment(ctx, "run-new", report))
	return repo
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestRouter(t *testing.T) {
	repo := seededRepo(t)
	events := NewEventRecorder(nil)
	events.Publish(run.StageEvent{RunID: "run-new", Kind: run.EventRunFinished, Stage: core.StageStore, Progress: 1})
	router := NewRouter(NewResultsHandler(repo, events), nil, nil)

	t.Run("health", func(t *testing.T) {
		w, body := get(t, router, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("list runs newest first", func(t *testing.T) {
		w, body := get(t, router, "/runs?limit=1")
		require.Equal(t, http.StatusOK, w.Code)
		runs := body["runs"].([]interface{})
		require.Len(t, runs, 1)
		assert.Equal(t, "run-new", runs[0].(map[string]interface{})["id"])
	})

	t.Run("bad paging", func(t *testing.T) {
		w, _ := get(t, router, "/runs?limit=abc")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get run with latest event", func(t *testing.T) {
		w, body := get(t, router, "/runs/run-new")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, body, "latest_event")

		w, body = get(t, router, "/runs/run-old")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, body, "latest_event")
	})

	t.Run("missing run is 404", func(t *testing.T) {
		w, body := get(t, router, "/runs/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("de table", func(t *testing.T) {
		w, body := get(t, router, "/runs/run-new/de")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["records"], 4)
		summary := body["summary"].(map[string]interface{})
		assert.EqualValues(t, 2, summary["significant"])
		assert.EqualValues(t, 1, summary["untested"])
	})

	t.Run("de significant only", func(t *testing.T) {
		w, body := get(t, router, "/runs/run-new/de?significant=true&alpha=0.01")
		require.Equal(t, http.StatusOK, w.Code)
		records := body["records"].([]interface{})
		require.Len(t, records, 1)
		assert.Equal(t, "Pvalb", records[0].(map[string]interface{})["symbol"])
	})

	t.Run("de bad alpha", func(t *testing.T) {
		w, _ := get(t, router, "/runs/run-new/de?alpha=2")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("enrichment by config", func(t *testing.T) {
		name := stats.DefaultThresholds()[0].Name
		w, body := get(t, router, "/runs/run-new/enrichment/"+name)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 2, body["list_size"])

		w, _ = get(t, router, "/runs/run-new/enrichment/unknown")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestEventRecorder(t *testing.T) {
	next := &captureSink{}
	rec := NewEventRecorder(next)

	_, ok := rec.Latest("r1")
	assert.False(t, ok)

	rec.Publish(run.StageEvent{RunID: "r1", Kind: run.EventStageStarted, Stage: core.StageLoad})
	rec.Publish(run.StageEvent{RunID: "r1", Kind: run.EventStageFinished, Stage: core.StageLoad, Progress: 0.1})
	rec.Publish(run.StageEvent{RunID: "r2", Kind: run.EventStageStarted, Stage: core.StageLoad})

	latest, ok := rec.Latest("r1")
	require.True(t, ok)
	assert.Equal(t, run.EventStageFinished, latest.Kind)
	assert.Len(t, next.events, 3)
}

func TestSSEHubPublishNeverBlocks(t *testing.T) {
	hub := NewSSEHub()
	defer hub.Close()
	for i := 0; i < 500; i++ {
		hub.Publish(run.StageEvent{RunID: "r", Kind: run.EventStageStarted})
	}
	assert.Equal(t, 0, hub.ClientCount("r"))
}

type fakeRunner struct {
	requests chan app.PipelineRequest
}

func (f *fakeRunner) Run(ctx context.Context, req app.PipelineRequest) (*app.RunReport, error) {
	f.requests <- req
	return nil, nil
}

func TestPipelineHandler_StartRun(t *testing.T) {
	runner := &fakeRunner{requests: make(chan app.PipelineRequest, 1)}
	defaults := func(source string) app.PipelineRequest {
		return app.PipelineRequest{
			Source: source,
			Design: dataset.Design{Group: "group", Reference: "PV", Covariates: []string{"rin"}},
			Seed:   42,
		}
	}
	handler := NewPipelineHandler(context.Background(), runner, defaults)
	router := NewRouter(NewResultsHandler(testkit.NewInMemoryResultRepository(), nil), handler, nil)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("accepted", func(t *testing.T) {
		w := post(`{"source":"data.xlsx","test":"SST","factors":["batch"],"seed":7}`)
		require.Equal(t, http.StatusAccepted, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body["run_id"])
		assert.Equal(t, "/runs/"+body["run_id"]+"/events", body["events"])

		select {
		case req := <-runner.requests:
			assert.Equal(t, core.RunID(body["run_id"]), req.RunID)
			assert.Equal(t, "data.xlsx", req.Source)
			assert.Equal(t, "PV", req.Design.Reference)
			assert.Equal(t, "SST", req.Design.Test)
			assert.Equal(t, []string{"rin"}, req.Design.Covariates)
			assert.Equal(t, []string{"batch"}, req.Design.Factors)
			assert.Equal(t, int64(7), req.Seed)
		case <-time.After(2 * time.Second):
			t.Fatal("pipeline was not started")
		}
	})

	t.Run("missing source", func(t *testing.T) {
		w := post(`{"reference":"PV"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := post(`{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
