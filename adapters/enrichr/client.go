// Package enrichr is a client for Enrichr-compatible enrichment services:
// a gene list is registered with POST /addList and then tested against a
// library with GET /enrich.
package enrichr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"neurodiff/domain/core"
	"neurodiff/domain/stats"
	apperrors "neurodiff/internal/errors"
	"neurodiff/ports"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Enrichr endpoint.
const DefaultBaseURL = "https://maayanlab.cloud/Enrichr"

// Config configures the remote client
type Config struct {
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	Description       string        `json:"description"`
}

// DefaultConfig returns settings suitable for the public service.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2,
		Burst:             2,
		Description:       "neurodiff",
	}
}

// Client implements ports.EnrichmentService over HTTP
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu      sync.Mutex
	listIDs map[core.GeneListHash]int64
}

// NewClient creates a client; zero config fields take their defaults.
func NewClient(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.Description == "" {
		config.Description = def.Description
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		listIDs:    make(map[core.GeneListHash]int64),
	}
}

// Name identifies the backend.
func (c *Client) Name() string { return "enrichr" }

// Enrich registers symbols (once per distinct set) and fetches the results for
// database. Overlap genes are reported as returned by the service.
func (c *Client) Enrich(ctx context.Context, symbols []string, database string) ([]stats.TermHit, error) {
	listID, err := c.userListID(ctx, symbols)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("userListId", fmt.Sprintf("%d", listID))
	q.Set("backgroundType", database)
	body, err := c.do(ctx, http.MethodGet, c.config.BaseURL+"/enrich?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	return ParseEnrichResponse(body, database)
}

func (c *Client) userListID(ctx context.Context, symbols []string) (int64, error) {
	key := core.ComputeGeneListHash(symbols)
	c.mu.Lock()
	id, ok := c.listIDs[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("list", strings.Join(symbols, "\n")); err != nil {
		return 0, err
	}
	if err := w.WriteField("description", c.config.Description); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	body, err := c.do(ctx, http.MethodPost, c.config.BaseURL+"/addList", &buf, w.FormDataContentType())
	if err != nil {
		return 0, err
	}
	res := gjson.GetBytes(body, "userListId")
	if !res.Exists() || res.Int() <= 0 {
		return 0, fmt.Errorf("%w: addList response has no userListId", core.ErrMalformedResponse)
	}
	id = res.Int()

	c.mu.Lock()
	c.listIDs[key] = id
	c.mu.Unlock()
	log.Printf("[Enrichr] registered list of %d genes as %d (%s)", len(symbols), id, key.Short())
	return id, nil
}

// do performs one rate-limited request and classifies failures.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ports.NewTransientError(0, fmt.Errorf("%w: %v", core.ErrServiceUnavailable, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ports.NewTransientError(resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, ports.NewTransientError(resp.StatusCode,
			fmt.Errorf("%w: %s returned %d", core.ErrServiceUnavailable, req.URL.Path, resp.StatusCode))
	default:
		return nil, apperrors.ExternalServiceError("enrichr",
			fmt.Errorf("%w: %s returned %d: %s", core.ErrServiceUnavailable, req.URL.Path, resp.StatusCode, truncate(string(data), 200)))
	}
}

// ParseEnrichResponse extracts the rows for database from an /enrich body.
// Each row is [rank, term, p, z, combined score, [genes], adjusted p, ...].
func ParseEnrichResponse(body []byte, database string) ([]stats.TermHit, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not JSON", core.ErrMalformedResponse)
	}

	var rows gjson.Result
	found := false
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		if key.String() == database {
			rows, found = value, true
			return false
		}
		return true
	})
	if !found || !rows.IsArray() {
		return nil, fmt.Errorf("%w: no results for %s", core.ErrMalformedResponse, database)
	}

	var hits []stats.TermHit
	var rowErr error
	rows.ForEach(func(_, row gjson.Result) bool {
		fields := row.Array()
		if len(fields) < 7 || !fields[5].IsArray() {
			rowErr = fmt.Errorf("%w: row has %d fields", core.ErrMalformedResponse, len(fields))
			return false
		}
		var genes []string
		for _, g := range fields[5].Array() {
			genes = append(genes, g.String())
		}
		hits = append(hits, stats.TermHit{
			Term:           fields[1].String(),
			PValue:         fields[2].Float(),
			AdjustedPValue: fields[6].Float(),
			OverlapCount:   len(genes),
			OverlapGenes:   genes,
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return hits, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ports.EnrichmentService = (*Client)(nil)

// IsMalformed reports whether err came from an unparseable response.
func IsMalformed(err error) bool { return errors.Is(err, core.ErrMalformedResponse) }
