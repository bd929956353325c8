package utils

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RewriteResult is the outcome of a tone rewrite.
type RewriteResult struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// Rewriter produces a tone-adjusted version of an email body.
type Rewriter interface {
	Rewrite(text, tone string) (RewriteResult, error)
}

// HTTPRewriter delegates rewriting to the hosted model service.
type HTTPRewriter struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

func NewHTTPRewriter(endpoint, apiKey string) *HTTPRewriter {
	return &HTTPRewriter{Endpoint: endpoint, APIKey: apiKey, Timeout: 30 * time.Second}
}

type rewriteRequest struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

func (r *HTTPRewriter) Rewrite(text, tone string) (RewriteResult, error) {
	if r.Endpoint == "" {
		return RewriteResult{}, errors.New("rewrite service is not configured")
	}

	agent := fiber.Post(r.Endpoint)
	agent.Timeout(r.Timeout)
	if r.APIKey != "" {
		agent.Set("Authorization", "Bearer "+r.APIKey)
	}
	agent.JSON(rewriteRequest{Text: text, Tone: tone})

	var result RewriteResult
	status, _, errs := agent.Struct(&result)
	if len(errs) > 0 {
		return RewriteResult{}, errs[0]
	}
	if status != fiber.StatusOK {
		return RewriteResult{}, errors.New("rewrite service returned an error")
	}
	return result, nil
}
