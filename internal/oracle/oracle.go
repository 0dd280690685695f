// Package oracle provides the text-completion client used for risk
// refinement, dynamic challenge generation, and semantic answer checks.
// Every caller must tolerate the oracle being absent or failing.
package oracle

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

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/circuitbreaker"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/metrics"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/traces"
)

var (
	// ErrUnavailable means the circuit is open and no call was attempted.
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrBadResponse means the oracle answered with something unusable.
	ErrBadResponse = errors.New("oracle returned bad response")
)

// breakerKey is shared by all call sites: one failing upstream should
// shed load for everyone, not per-site.
const breakerKey = "oracle"

// TextOracle is the narrow completion interface the engine consumes.
// The site is a short label for the call site, used in metrics.
type TextOracle interface {
	Complete(ctx context.Context, site, systemPrompt, userPrompt string) (string, error)
}

// Config holds the settings for the HTTP oracle client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewClient builds an oracle client. The circuit breaker opens after a
// few consecutive failures so a dead upstream does not slow every join.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New(3, 30*time.Second),
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete makes a single completion attempt. There are no retries; the
// caller falls back to static behavior on any error.
func (c *Client) Complete(ctx context.Context, site, systemPrompt, userPrompt string) (string, error) {
	if !c.breaker.Allow(breakerKey) {
		metrics.OracleCallsTotal.WithLabelValues(site, "unavailable").Inc()
		return "", ErrUnavailable
	}

	ctx, span := traces.StartSpan(ctx, "oracle.complete", traces.OracleSite(site))
	defer span.End()

	start := time.Now()
	out, err := c.complete(ctx, systemPrompt, userPrompt)
	metrics.OracleCallDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		metrics.OracleCallsTotal.WithLabelValues(site, "error").Inc()
		c.logger.Warn("oracle call failed", "site", site, "error", err)
		return "", err
	}

	c.breaker.RecordSuccess(breakerKey)
	metrics.OracleCallsTotal.WithLabelValues(site, "ok").Inc()
	return out, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   512,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling oracle request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	return StripFences(parsed.Choices[0].Message.Content), nil
}

// StripFences removes markdown code fences that chat models wrap around
// JSON payloads, then trims whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
		// Language tag, e.g. "json", on the opening fence line.
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			first := strings.TrimSpace(s[:idx])
			if first != "" && !strings.ContainsAny(first, "{}[]\"") {
				s = s[idx+1:]
			}
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
