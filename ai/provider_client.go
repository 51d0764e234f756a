package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// ProviderConfig configures the HTTP client for an OpenAI-compatible endpoint
type ProviderConfig struct {
	BaseURL      string
	APIKey       string
	TextTimeout  time.Duration
	ImageTimeout time.Duration
	// HTTPClient is optional; its own Timeout is ignored in favour of the per-call ones
	HTTPClient *http.Client
	// Breaker is optional; when set every call goes through it
	Breaker *resilience.CircuitBreaker
}

// ProviderClient talks to the chat completion and image generation endpoints.
// Each call is a single attempt bounded by its own timeout.
type ProviderClient struct {
	baseURL      string
	apiKey       string
	textTimeout  time.Duration
	imageTimeout time.Duration
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
	log          *logger.Logger
	latency      metric.Float64Histogram
}

func NewProviderClient(cfg ProviderConfig, log *logger.Logger) *ProviderClient {
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = 30 * time.Second
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"ai_provider_request_duration_seconds",
		metric.WithDescription("Latency of provider calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.LogError(err, "Failed to create provider latency histogram")
	}

	return &ProviderClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		textTimeout:  cfg.TextTimeout,
		imageTimeout: cfg.ImageTimeout,
		httpClient:   httpClient,
		breaker:      cfg.Breaker,
		log:          log,
		latency:      latency,
	}
}

// Configured reports whether an API key is present
func (c *ProviderClient) Configured() bool {
	return c.apiKey != ""
}

type chatCompletionPayload struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type imageGenerationPayload struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type imageGenerationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// CompleteText runs a chat completion (text or vision). Empty choices or empty
// content come back as ("", nil) so the caller can degrade softly.
func (c *ProviderClient) CompleteText(ctx context.Context, req *ProviderRequest) (string, error) {
	payload := chatCompletionPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var resp chatCompletionResponse
	if err := c.call(ctx, "chat", "/chat/completions", c.textTimeout, payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", &ProviderError{Kind: KindUpstream, Message: resp.Error.Message}
	}
	if len(resp.Choices) == 0 {
		c.log.WithContext(ctx).Warn("Provider returned no choices", "model", req.Model)
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage asks for one image and returns its URL, or "" when none came back
func (c *ProviderClient) GenerateImage(ctx context.Context, req *ProviderRequest) (string, error) {
	payload := imageGenerationPayload{
		Model:   req.Model,
		Prompt:  req.Prompt,
		N:       req.N,
		Size:    req.Size,
		Quality: req.Quality,
	}

	var resp imageGenerationResponse
	if err := c.call(ctx, "image", "/images/generations", c.imageTimeout, payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", &ProviderError{Kind: KindUpstream, Message: resp.Error.Message}
	}
	if len(resp.Data) == 0 {
		c.log.WithContext(ctx).Warn("Provider returned no images", "model", req.Model)
		return "", nil
	}
	return resp.Data[0].URL, nil
}

// call performs one POST under timeout, through the breaker when configured
func (c *ProviderClient) call(ctx context.Context, op, path string, timeout time.Duration, payload, out any) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "provider."+op)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	do := func() error { return c.post(ctx, path, payload, out) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(do)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &ProviderError{Kind: KindUpstream, Message: "provider temporarily disabled", Err: err}
		}
	} else {
		err = do()
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var perr *ProviderError
		if errors.As(err, &perr) {
			outcome = string(perr.Kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if c.latency != nil {
		c.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
	return err
}

func (c *ProviderClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ProviderError{Kind: KindUpstream, Message: "error marshaling request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Kind: KindUpstream, Message: "error creating request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ProviderError{Kind: KindUnauthorized, StatusCode: resp.StatusCode, Message: truncate(string(respBody), 200)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ProviderError{Kind: KindUpstream, StatusCode: resp.StatusCode, Message: truncate(string(respBody), 200)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderError{Kind: KindUpstream, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &ProviderError{Kind: KindUpstream, Message: fmt.Sprintf("request failed: %v", err), Err: err}
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// isBreakerFailure keeps credential problems from opening the circuit
func isBreakerFailure(err error) bool {
	return !IsKind(err, KindUnauthorized)
}

// NewProviderBreaker returns a breaker tuned for the provider client
func NewProviderBreaker(threshold uint, cooldown time.Duration, log *logger.Logger) *resilience.CircuitBreaker {
	cfg := resilience.DefaultCircuitBreakerConfig("ai-provider")
	if threshold > 0 {
		cfg.FailureThreshold = threshold
	}
	if cooldown > 0 {
		cfg.RetryTimeout = cooldown
	}
	cfg.IsFailure = isBreakerFailure
	return resilience.NewCircuitBreaker(cfg, log)
}
