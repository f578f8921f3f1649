// Package provider implements the HTTP client for the artifact generation
// backend. The backend accepts dispatch and analysis requests and reports
// generation outcomes asynchronously through callbacks.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// Config captures the connection settings for the generation backend.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Client         *http.Client
	Logger         *slog.Logger
}

// Client talks to the generation backend over HTTP.
//
// Dispatch failures are classified: backend and network faults are
// transient and retried with doubling delays; rejections are permanent and
// surface immediately.
type Client struct {
	baseURL        string
	maxAttempts    int
	retryBaseDelay time.Duration
	client         *http.Client
	logger         *slog.Logger
}

var (
	_ core.GenerationProvider = (*Client)(nil)
	_ core.AnalysisProvider   = (*Client)(nil)
)

// NewClient builds a generation backend client. Callers should pass a
// validated config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("provider base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:        baseURL,
		maxAttempts:    attempts,
		retryBaseDelay: baseDelay,
		client:         hc,
		logger:         cfg.Logger,
	}, nil
}

type dispatchPayload struct {
	SourceArtifact string `json:"sourceArtifact"`
	Seed           int64  `json:"seed"`
	CallbackRef    string `json:"callbackRef"`
}

type dispatchResponse struct {
	ExternalRequestID string `json:"externalRequestId"`
}

// Dispatch submits one generation request and returns the backend's
// request id. Transient failures are retried up to the attempt budget with
// doubling delays.
func (c *Client) Dispatch(ctx context.Context, req core.DispatchRequest) (string, error) {
	body, err := json.Marshal(dispatchPayload{
		SourceArtifact: req.SourceArtifact,
		Seed:           req.Seed,
		CallbackRef:    req.CallbackRef,
	})
	if err != nil {
		return "", fmt.Errorf("encode dispatch payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			// Delays double per attempt: base, 2x, 4x.
			delay := c.retryBaseDelay << (attempt - 1)
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
			if c.logger != nil {
				c.logger.DebugContext(ctx, "retrying dispatch",
					"attempt", attempt+1, "delay", delay)
			}
		}

		var resp dispatchResponse
		err := c.post(ctx, "/generate", body, &resp)
		if err == nil {
			if resp.ExternalRequestID == "" {
				return "", apperrors.PermanentProvider("backend returned no request id", nil)
			}
			return resp.ExternalRequestID, nil
		}

		lastErr = err
		if !apperrors.IsTransientProvider(err) {
			return "", err
		}
	}
	return "", lastErr
}

type analyzePayload struct {
	SourceArtifact string   `json:"sourceArtifact"`
	ArtifactKeys   []string `json:"artifactKeys"`
}

type analyzeResponse struct {
	Summary string `json:"summary"`
	Areas   []struct {
		Label       string `json:"label"`
		Observation string `json:"observation"`
	} `json:"areas"`
}

// Analyze asks the backend to analyse the generated artifacts. Not
// retried: assembly reruns on the next callback or sweep if this fails.
func (c *Client) Analyze(ctx context.Context, req core.AnalyzeRequest) (*core.AnalysisResult, error) {
	body, err := json.Marshal(analyzePayload{
		SourceArtifact: req.SourceArtifact,
		ArtifactKeys:   req.ArtifactKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyze payload: %w", err)
	}

	var resp analyzeResponse
	if err := c.post(ctx, "/analyze", body, &resp); err != nil {
		return nil, err
	}

	result := &core.AnalysisResult{Summary: resp.Summary}
	for _, a := range resp.Areas {
		result.Areas = append(result.Areas, model.ImprovementArea{
			Label:       a.Label,
			Observation: a.Observation,
		})
	}
	if len(result.Areas) == 0 {
		return nil, apperrors.PermanentProvider("analysis returned no improvement areas", nil)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.TransientProvider("backend unreachable", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		return apperrors.TransientProvider(
			fmt.Sprintf("backend returned %d", httpResp.StatusCode), nil)
	case httpResp.StatusCode >= 400:
		return apperrors.PermanentProvider(
			fmt.Sprintf("backend rejected request with %d", httpResp.StatusCode), nil)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return apperrors.PermanentProvider("malformed backend response", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
