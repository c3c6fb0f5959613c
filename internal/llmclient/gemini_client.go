// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
)

// ErrBlocked is returned when the provider refused to answer on safety grounds.
var ErrBlocked = errors.New("gemini blocked the request")

// contentGenerator is the part of the genai SDK the client calls. *genai.Models
// satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the genai SDK. It does not
// retry: the orchestrator owns the retry budget. Errors that cannot succeed on a
// retry are wrapped with backoff.Permanent.
type GeminiClient struct {
	models  contentGenerator
	cfg     config.LLMModelConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGenAIClient builds an SDK client for the Gemini API backend.
func NewGenAIClient(ctx context.Context, cfg config.LLMModelConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	client, err := NewGenAIClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &GeminiClient{
		models: models,
		cfg:    cfg,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c
}

// Generate sends the prompts to Gemini and returns the generated text.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}
	if c.cfg.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
		defer cancel()
	}

	startTime := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.UserPrompt), c.buildConfig(req))
	duration := time.Since(startTime)
	if err != nil {
		return "", c.classify(err)
	}

	if len(resp.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}
	candidate := resp.Candidates[0]
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		switch candidate.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
			return "", backoff.Permanent(fmt.Errorf("%w (reason: %s)", ErrBlocked, candidate.FinishReason))
		}
		return "", fmt.Errorf("gemini API returned empty content (reason: %s)", candidate.FinishReason)
	}

	fields := []zap.Field{zap.Duration("duration", duration)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount),
		)
	}
	c.logger.Info("LLM generation complete (Gemini)", fields...)
	return text, nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	gc := &genai.GenerateContentConfig{
		Temperature:    &temperature,
		SafetySettings: c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}

	topP := c.cfg.TopP
	if req.Options.TopP > 0 {
		topP = float32(req.Options.TopP)
	}
	if topP > 0 {
		gc.TopP = genai.Ptr(topP)
	}
	topK := c.cfg.TopK
	if req.Options.TopK > 0 {
		topK = req.Options.TopK
	}
	if topK > 0 {
		gc.TopK = genai.Ptr(float32(topK))
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	return gc
}

// classify marks client-side API errors as permanent so the orchestrator does not
// spend its retry on them.
func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Error("Gemini API returned error status", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
		wrapped := fmt.Errorf("gemini API error: status %d: %w", apiErr.Code, err)
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusGatewayTimeout:
			return wrapped
		default:
			if apiErr.Code >= 400 && apiErr.Code < 500 {
				return backoff.Permanent(wrapped)
			}
			return wrapped
		}
	}
	c.logger.Warn("Gemini request failed", zap.Error(err))
	return fmt.Errorf("gemini request failed: %w", err)
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	if len(c.cfg.SafetyFilters) == 0 {
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(c.cfg.SafetyFilters))
	for category, threshold := range c.cfg.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *GeminiClient) Close() error {
	return nil
}
