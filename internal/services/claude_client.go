package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/pkg/config"
)

// Recommender is the narrow boundary to the language-model recommendation
// service. Implementations must be substitutable with a deterministic stub in
// tests.
type Recommender interface {
	Recommend(ctx context.Context, contextDoc string) ([]models.AgentRecommendation, error)
}

// ClaudeClient calls the Claude Messages API to turn a calibration context
// document into structured improvement recommendations.
type ClaudeClient struct {
	httpClient     *http.Client
	cache          *CacheService
	logger         *logrus.Logger
	apiKey         string
	model          string
	baseURL        string
	rateLimiter    *time.Ticker
	circuitBreaker *gobreaker.CircuitBreaker
	retryAttempts  int
}

// claudeRequest is the Messages API request payload.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
	System    string          `json:"system,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// agentSystemPrompt is the fixed instruction contract for the improvement
// agent. Weight adjustments within [0.5, 2.0] may be marked auto-applicable;
// anything more drastic, and any code or data-source change, must not be.
const agentSystemPrompt = `You are a calibration analyst for a fantasy football start/sit prediction system.
You receive current signal weights, detected failure patterns, and the worst recent misses.
Respond with ONLY a JSON array of recommendation objects, each shaped as:
{
  "type": "weight_adjustment" | "threshold_change" | "new_edge" | "code_change" | "data_source",
  "priority": "critical" | "high" | "medium" | "low",
  "title": "...",
  "description": "...",
  "evidence": ["..."],
  "proposed_change": {"edge_type": "...", "current_weight": 1.0, "new_weight": 1.1, "reasoning": "..."},
  "auto_applicable": true | false,
  "expected_improvement": "..."
}
Mark a recommendation auto_applicable ONLY if it is a weight_adjustment whose new_weight
lies within [0.5, 2.0]. Code changes, data-source changes, threshold changes and new edges
are never auto-applicable. Do not include prose outside the JSON array.`

// NewClaudeClient creates a Claude API client with rate limiting and a
// circuit breaker.
func NewClaudeClient(cfg *config.Config, cache *CacheService, logger *logrus.Logger) *ClaudeClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "claude-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit":    name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Info("Claude API circuit breaker state changed")
		},
	})

	rateLimit := cfg.AIRateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}

	timeout := cfg.AIRequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ClaudeClient{
		httpClient:     &http.Client{Timeout: timeout},
		cache:          cache,
		logger:         logger,
		apiKey:         cfg.AnthropicAPIKey,
		model:          cfg.AnthropicModel,
		baseURL:        "https://api.anthropic.com/v1",
		rateLimiter:    time.NewTicker(time.Minute / time.Duration(rateLimit)),
		circuitBreaker: cb,
		retryAttempts:  3,
	}
}

// Recommend submits the context document and parses the JSON recommendation
// array. Callers treat any returned error as "no recommendations this cycle".
func (c *ClaudeClient) Recommend(ctx context.Context, contextDoc string) ([]models.AgentRecommendation, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	promptHash := hashPrompt(contextDoc)
	var cached []models.AgentRecommendation
	if err := c.cache.GetModelResponse(ctx, promptHash, &cached); err == nil {
		c.logger.WithField("prompt_hash", promptHash).Debug("Model response cache hit")
		return cached, nil
	}

	request := claudeRequest{
		Model:     c.model,
		MaxTokens: 4000,
		Messages:  []claudeMessage{{Role: "user", Content: contextDoc}},
		System:    agentSystemPrompt,
	}

	response, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.makeRequest(ctx, request)
	})
	if err != nil {
		return nil, fmt.Errorf("claude API request failed: %w", err)
	}

	claudeResp := response.(*claudeResponse)
	if len(claudeResp.Content) == 0 {
		return nil, fmt.Errorf("no content in API response")
	}

	recommendations, err := ParseRecommendations(claudeResp.Content[0].Text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetModelResponse(ctx, promptHash, recommendations); err != nil {
		c.logger.WithError(err).Debug("Model response not cached")
	}
	return recommendations, nil
}

// makeRequest handles the HTTP request with retries and backoff.
func (c *ClaudeClient) makeRequest(ctx context.Context, request claudeRequest) (*claudeResponse, error) {
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(requestBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var claudeResp claudeResponse
			err := json.NewDecoder(resp.Body).Decode(&claudeResp)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			return &claudeResp, nil
		}

		var apiErr claudeError
		decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr)
		resp.Body.Close()
		if decodeErr != nil {
			lastErr = fmt.Errorf("API request failed with status %d", resp.StatusCode)
			continue
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("invalid API credentials: %s", apiErr.Message)
		case http.StatusBadRequest:
			return nil, fmt.Errorf("bad request: %s", apiErr.Message)
		default:
			lastErr = fmt.Errorf("claude API error (status %d): %s", resp.StatusCode, apiErr.Message)
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.retryAttempts, lastErr)
}

// IsHealthy reports whether the circuit breaker is closed.
func (c *ClaudeClient) IsHealthy() bool {
	return c.circuitBreaker.State() == gobreaker.StateClosed
}

// ParseRecommendations extracts the JSON recommendation array from a model
// response, tolerating fenced code blocks and surrounding prose.
func ParseRecommendations(text string) ([]models.AgentRecommendation, error) {
	cleaned := strings.TrimSpace(text)

	// Strip a fenced code block if the response is wrapped in one.
	if idx := strings.Index(cleaned, "```"); idx != -1 {
		rest := cleaned[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			cleaned = rest[:end]
		} else {
			cleaned = rest
		}
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in model response")
	}

	var recommendations []models.AgentRecommendation
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &recommendations); err != nil {
		return nil, fmt.Errorf("failed to parse recommendations: %w", err)
	}
	return recommendations, nil
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
