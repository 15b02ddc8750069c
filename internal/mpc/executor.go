package mpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPExecutor submits jobs to a cluster gateway as JSON over HTTP.
type HTTPExecutor struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPExecutor creates an executor for the gateway at baseURL.
func NewHTTPExecutor(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "mpc-executor").Logger(),
	}
}

// Execute posts job to {baseURL}/computations and decodes the result.
func (e *HTTPExecutor) Execute(ctx context.Context, job *Job) (*Result, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/computations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach cluster: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cluster returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cluster response: %w", err)
	}
	if result.RequestID != "" && result.RequestID != job.RequestID {
		return nil, fmt.Errorf("cluster answered request %s for job %s", result.RequestID, job.RequestID)
	}
	result.RequestID = job.RequestID

	e.log.Debug().Str("request_id", job.RequestID).Str("kind", string(job.Kind)).Msg("Cluster returned result")
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
