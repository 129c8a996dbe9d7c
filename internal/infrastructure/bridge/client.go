// Package bridge implements the HTTP transport the kernel and the
// specialist registry use to reach the external specialist workers: the
// kernel itself never runs agent logic in process, it only knows how to
// invoke a worker and interpret its response.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/resilience"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
	apperrors "github.com/Johnsonbros/Zeke-sub000/pkg/errors"
)

// Config points the client at a running worker bridge.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client invokes a single named agent over HTTP, guarded by a per-agent
// circuit breaker and a jittered-backoff retry, the same resilience
// wrapper every other outbound call in this module goes through.
type Client struct {
	cfg     Config
	http    *http.Client
	circuit *resilience.Registry
	retry   resilience.RetryConfig
	logger  *zap.Logger
}

// New builds a bridge Client. circuit may be nil, in which case a
// registry with package defaults is created.
func New(cfg Config, circuit *resilience.Registry, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if circuit == nil {
		circuit = resilience.NewRegistry(resilience.Config{})
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		circuit: circuit,
		retry:   resilience.RetryConfig{IsRetryable: resilience.DefaultIsRetryable},
		logger:  logger,
	}
}

type runRequest struct {
	Utterance      string         `json:"utterance"`
	ConversationID string         `json:"conversation_id"`
	PhoneNumber    string         `json:"phone_number"`
	MemoryContext  map[string]any `json:"memory_context"`
	UserProfile    map[string]any `json:"user_profile"`
	Metadata       map[string]any `json:"metadata"`
	TraceID        string         `json:"trace_id"`
}

type runResponse struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// Call invokes the worker registered for target and translates its HTTP
// response into an AgentResponse, never letting a transport error
// propagate past this boundary — satisfying the worker-contract clause
// that errors convert to a failed AgentResponse rather than bubbling up.
func (c *Client) Call(ctx context.Context, target specialist.ID, actx *specialist.AgentContext) (specialist.AgentResponse, error) {
	breaker := c.circuit.Get(string(target))
	if err := breaker.Acquire(); err != nil {
		return specialist.AgentResponse{}, &apperrors.AppError{
			Code:    apperrors.CodeCircuitOpen,
			Message: fmt.Sprintf("circuit open for specialist %s", target),
			Err:     err,
		}
	}

	start := time.Now()
	content, err := c.doCallWithRetry(ctx, target, actx)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		breaker.RecordFailure()
		return specialist.AgentResponse{
			AgentID:          target,
			Success:          false,
			Error:            err.Error(),
			ProcessingTimeMS: elapsed,
		}, nil
	}
	breaker.RecordSuccess()
	return specialist.AgentResponse{
		AgentID:          target,
		Success:          true,
		Content:          content,
		ProcessingTimeMS: elapsed,
	}, nil
}

func (c *Client) doCallWithRetry(ctx context.Context, target specialist.ID, actx *specialist.AgentContext) (string, error) {
	var lastErr error
	cfg := c.retry
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = resilience.DefaultMaxAttempts
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := resilience.JitteredBackoff(attempt-1, cfg)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		content, err := c.doCall(ctx, target, actx)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if cfg.IsRetryable != nil && !cfg.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

func (c *Client) doCall(ctx context.Context, target specialist.ID, actx *specialist.AgentContext) (string, error) {
	var traceID string
	if actx.Trace != nil {
		traceID = actx.Trace.TraceID
	}
	body, err := json.Marshal(runRequest{
		Utterance:      actx.UserMessage,
		ConversationID: actx.ConversationID,
		PhoneNumber:    actx.PhoneNumber,
		MemoryContext:  actx.MemoryContext,
		UserProfile:    actx.UserProfile,
		Metadata:       actx.Metadata,
		TraceID:        traceID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal bridge request: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/run", c.cfg.BaseURL, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// A connection-level failure (refused, reset, timed out) is
		// transient transport trouble, not a fatal rejection of the
		// request itself.
		return "", resilience.MarkRetryable(fmt.Errorf("bridge call to %s failed: %w", target, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		callErr := fmt.Errorf("bridge call to %s returned status %d: %s", target, resp.StatusCode, string(raw))
		if resilience.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", resilience.MarkRetryable(callErr)
		}
		return "", callErr
	}

	var rr runResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("decode bridge response from %s: %w", target, err)
	}
	if rr.Error != "" {
		return "", fmt.Errorf("%s", rr.Error)
	}
	return rr.Content, nil
}
