// Package transform turns raw notes into structured documents through an
// LLM, metered by the user's transformation quota.
package transform

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/entitlements"
	"github.com/notewise/notewise/pkg/observability"
)

// Config holds model parameters
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig returns the production model parameters
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4,
		Temperature: 0.7,
		MaxTokens:   2000,
		Timeout:     60 * time.Second,
	}
}

// Request is a transformation request
type Request struct {
	Notes    string `json:"notes"`
	Template string `json:"template"`
	Tone     string `json:"tone"`
}

// Result is a completed transformation
type Result struct {
	Content   string                 `json:"content"`
	Template  Template               `json:"template"`
	Tone      Tone                   `json:"tone"`
	Remaining entitlements.Remaining `json:"remaining"`
}

// Service runs metered transformations
type Service struct {
	guard     *entitlements.Guard
	completer Completer
	cfg       Config
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewService creates a new Service
func NewService(guard *entitlements.Guard, completer Completer, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Service {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Service{guard: guard, completer: completer, cfg: cfg, logger: logger, metrics: metrics}
}

// Transform validates the request, consumes one unit of quota and calls the
// model. The unit is given back if the model call fails.
func (s *Service) Transform(ctx context.Context, userID string, req Request) (*Result, error) {
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return nil, apperrors.NewValidationError("notes", "is required")
	}
	template, ok := ParseTemplate(req.Template)
	if !ok {
		return nil, apperrors.NewValidationError("template", "must be one of business, personal, sales")
	}
	tone, ok := ParseTone(req.Tone)
	if !ok {
		return nil, apperrors.NewValidationError("tone", "must be one of professional, casual, friendly, formal")
	}

	if err := s.guard.CheckNoteLength(ctx, userID, len([]rune(notes))); err != nil {
		return nil, err
	}

	usage, err := s.guard.CheckAndConsumeTransformation(ctx, userID)
	if err != nil {
		if apperrors.IsQuotaExceeded(err) {
			s.metrics.TransformationsTotal.WithLabelValues(string(template), "quota_exceeded").Inc()
		}
		return nil, err
	}

	logger := observability.FromContextOr(ctx, s.logger).WithFields(map[string]interface{}{
		"template": string(template),
		"tone":     string(tone),
	})

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	content, err := s.completer.Complete(cctx, CompletionRequest{
		Messages: []Message{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(notes, template, tone)},
		},
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	s.metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.TransformationsTotal.WithLabelValues(string(template), "failed").Inc()
		logger.WithError(err).Error("Transformation failed")

		if relErr := s.guard.ReleaseTransformation(context.WithoutCancel(ctx), userID); relErr != nil {
			logger.WithError(relErr).Error("Failed to release transformation quota")
		}
		return nil, &apperrors.TransformationFailedError{Err: err}
	}

	s.metrics.TransformationsTotal.WithLabelValues(string(template), "ok").Inc()
	logger.Info("Transformation completed")

	return &Result{
		Content:   content,
		Template:  template,
		Tone:      tone,
		Remaining: entitlements.Remaining{Count: usage.Remaining, Unlimited: usage.Unlimited},
	}, nil
}
