package enrichr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"neurodiff/domain/core"
	apperrors "neurodiff/internal/errors"
	"neurodiff/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const enrichBody = `{"KEGG_2021_Human": [
  [1, "Synaptic vesicle cycle", 1.2e-6, -2.1, 30.5, ["SNAP25", "SYT1"], 3.4e-5, 0, 0],
  [2, "Axon guidance", 0.02, -1.5, 5.1, ["SEMA3A"], 0.2, 0, 0]
]}`

func newServer(t *testing.T, addList, enrich http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/addList", addList)
	mux.HandleFunc("/enrich", enrich)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 1000, Burst: 100})
}

func okAddList(calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("list") == "" {
			http.Error(w, "empty list", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"shortId": "abc", "userListId": 4242}`)
	}
}

func TestClient_Enrich(t *testing.T) {
	var addCalls int32
	_, client := newServer(t, okAddList(&addCalls), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4242", r.URL.Query().Get("userListId"))
		assert.Equal(t, "KEGG_2021_Human", r.URL.Query().Get("backgroundType"))
		fmt.Fprint(w, enrichBody)
	})

	hits, err := client.Enrich(context.Background(), []string{"SNAP25", "SYT1", "SEMA3A"}, "KEGG_2021_Human")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Synaptic vesicle cycle", hits[0].Term)
	assert.InDelta(t, 1.2e-6, hits[0].PValue, 1e-12)
	assert.InDelta(t, 3.4e-5, hits[0].AdjustedPValue, 1e-12)
	assert.Equal(t, []string{"SNAP25", "SYT1"}, hits[0].OverlapGenes)
	assert.Equal(t, 2, hits[0].OverlapCount)

	// The same gene set in another order reuses the registered list.
	_, err = client.Enrich(context.Background(), []string{"SEMA3A", "SNAP25", "SYT1"}, "KEGG_2021_Human")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&addCalls))
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		malformed bool
	}{
		{"rate limited", http.StatusTooManyRequests, "", true, false},
		{"server error", http.StatusBadGateway, "", true, false},
		{"bad request", http.StatusBadRequest, "nope", false, false},
		{"not json", http.StatusOK, "<html>", false, true},
		{"missing database", http.StatusOK, `{"Other": []}`, false, true},
		{"short row", http.StatusOK, `{"KEGG_2021_Human": [[1, "x", 0.1]]}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			_, client := newServer(t, okAddList(&calls), func(w http.ResponseWriter, r *http.Request) {
				if tt.status != http.StatusOK {
					http.Error(w, tt.body, tt.status)
					return
				}
				fmt.Fprint(w, tt.body)
			})

			_, err := client.Enrich(context.Background(), []string{"SNAP25"}, "KEGG_2021_Human")
			require.Error(t, err)
			assert.Equal(t, tt.transient, ports.IsTransient(err), "transient")
			assert.Equal(t, tt.malformed, IsMalformed(err), "malformed")
		})
	}
}

func TestClient_PermanentFailureIsExternalServiceError(t *testing.T) {
	var calls int32
	_, client := newServer(t, okAddList(&calls), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown library", http.StatusNotFound)
	})

	_, err := client.Enrich(context.Background(), []string{"SNAP25"}, "KEGG_2021_Human")
	require.Error(t, err)
	assert.False(t, ports.IsTransient(err))
	assert.Equal(t, apperrors.CodeExternalService, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrServiceUnavailable))
	assert.Contains(t, err.Error(), "enrichr service error")
}

func TestClient_AddListWithoutID(t *testing.T) {
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"shortId": "abc"}`)
	}, func(w http.ResponseWriter, r *http.Request) {
		t.Error("enrich must not be called without a list id")
	})

	_, err := client.Enrich(context.Background(), []string{"SNAP25"}, "KEGG_2021_Human")
	assert.True(t, errors.Is(err, core.ErrMalformedResponse))
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: base, RequestsPerSecond: 1000, Burst: 10})
	_, err := client.Enrich(context.Background(), []string{"SNAP25"}, "KEGG_2021_Human")
	require.Error(t, err)
	assert.True(t, ports.IsTransient(err))
	assert.True(t, errors.Is(err, core.ErrServiceUnavailable))
}

func TestClient_CancelledContext(t *testing.T) {
	var calls int32
	_, client := newServer(t, okAddList(&calls), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, enrichBody)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Enrich(ctx, []string{"SNAP25"}, "KEGG_2021_Human")
	require.Error(t, err)
	assert.False(t, ports.IsTransient(err))
}
