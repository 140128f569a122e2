package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/admission-criteria-server/internal/domain"
)

const (
	defaultRewriterBaseURL = "https://api.groq.com/openai/v1"
	defaultRewriterModel   = "llama-3.3-70b-versatile"
	defaultRewriterTimeout = 20 * time.Second
	defaultMaxTokens       = 800
	defaultRateLimit       = 5
	defaultBaseBackoff     = 500 * time.Millisecond
	maxErrorBodyBytes      = 4096
)

const rewritePromptTemplate = `
You are a clinical documentation improvement specialist.

Rewrite the following physician note in a structured,
concise, payer-focused way emphasizing:

- Severity of illness
- Risk of deterioration
- Medical necessity for inpatient admission
- Why discharge may be unsafe

Original Note:
%s

Supporting Analysis:
%s

Return ONLY the rewritten clinical note.
Do not explain your reasoning.
`

// RewriterClient rewrites physician notes through an OpenAI-compatible chat
// completions API (Groq by default).
type RewriterClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *logrus.Logger
}

// NewRewriterClient creates a rewriter client. An API key is required.
func NewRewriterClient(config domain.RewriterConfig, logger *logrus.Logger) (*RewriterClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("rewriter API key required")
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRewriterBaseURL
	}
	model := config.Model
	if model == "" {
		model = defaultRewriterModel
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRewriterTimeout
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	retries := config.RetryCount
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &RewriterClient{
		baseURL:     baseURL,
		apiKey:      config.APIKey,
		model:       model,
		temperature: config.Temperature,
		maxTokens:   maxTokens,
		maxRetries:  retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		breaker: NewCircuitBreaker("note-rewriter", DefaultCircuitBreakerConfig(), logger),
		logger:  logger,
	}, nil
}

// Model returns the chat model used for rewriting.
func (c *RewriterClient) Model() string {
	return c.model
}

// BreakerStatus reports the state of the upstream circuit breaker.
func (c *RewriterClient) BreakerStatus() BreakerStatus {
	return StatusOf(c.breaker)
}

// BuildRewritePrompt renders the instruction sent to the model.
func BuildRewritePrompt(originalNote, analysisSummary string) string {
	return fmt.Sprintf(rewritePromptTemplate, originalNote, analysisSummary)
}

// Rewrite implements domain.NoteRewriter.
func (c *RewriterClient) Rewrite(ctx context.Context, originalNote, analysisSummary string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []chatMessage{
			{Role: "user", Content: BuildRewritePrompt(originalNote, analysisSummary)},
		},
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.completeWithRetry(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("rewriting note: %w", err)
	}
	return result.(string), nil
}

func (c *RewriterClient) completeWithRetry(ctx context.Context, req chatRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"model":   c.model,
		}).Debug("Retrying rewrite request")
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *RewriterClient) doRequest(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, truncate(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp chatErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, truncate(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}

	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty rewrite returned by model %s", c.model)
	}

	c.logger.WithFields(logrus.Fields{
		"model":             chatResp.Model,
		"prompt_tokens":     chatResp.Usage.PromptTokens,
		"completion_tokens": chatResp.Usage.CompletionTokens,
	}).Debug("Note rewrite completed")

	return text, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return string(body)
}
