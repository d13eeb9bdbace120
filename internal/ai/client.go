// Package ai talks to an OpenAI-compatible API for moderation and
// chat completions.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"agentsync/internal/domain"
	"agentsync/internal/fetch"
)

type Config struct {
	BaseURL         string
	APIKey          string
	ModerationModel string
	CompletionModel string
}

// Client calls the moderation and chat completion endpoints through a
// retrying fetch client.
type Client struct {
	http            *fetch.Client
	baseURL         string
	apiKey          string
	moderationModel string
	completionModel string
}

func New(httpClient *fetch.Client, cfg Config) *Client {
	return &Client{
		http:            httpClient,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		moderationModel: cfg.ModerationModel,
		completionModel: cfg.CompletionModel,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// ModerationResult is the classifier verdict for one input.
type ModerationResult struct {
	Flagged    bool               `json:"flagged"`
	Categories []string           `json:"categories,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// Reason renders flagged categories for storage.
func (r *ModerationResult) Reason() string {
	if r == nil || !r.Flagged {
		return ""
	}
	if len(r.Categories) == 0 {
		return "flagged"
	}
	return "flagged: " + strings.Join(r.Categories, ", ")
}

type moderationRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type moderationInput struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// ModerateText classifies text. It returns domain.ErrClassifierUnavailable
// when no API key is configured or the API rejects the key.
func (c *Client) ModerateText(ctx context.Context, text string) (*ModerationResult, error) {
	return c.moderate(ctx, []moderationInput{{Type: "text", Text: text}})
}

// ModerateImage classifies the image at imageURL.
func (c *Client) ModerateImage(ctx context.Context, url string) (*ModerationResult, error) {
	return c.moderate(ctx, []moderationInput{{Type: "image_url", ImageURL: &imageURL{URL: url}}})
}

func (c *Client) moderate(ctx context.Context, input []moderationInput) (*ModerationResult, error) {
	if !c.Configured() {
		return nil, domain.ErrClassifierUnavailable
	}

	var resp moderationResponse
	err := c.http.PostJSON(ctx, c.baseURL+"/moderations", c.authHeader(), moderationRequest{
		Model: c.moderationModel,
		Input: input,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("moderation request: %w", classify(err))
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("moderation response: no results")
	}

	r := resp.Results[0]
	result := &ModerationResult{Flagged: r.Flagged, Scores: r.CategoryScores}
	for name, hit := range r.Categories {
		if hit {
			result.Categories = append(result.Categories, name)
		}
	}
	sort.Strings(result.Categories)
	return result, nil
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends messages to the completion model and returns the reply text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if !c.Configured() {
		return "", domain.ErrClassifierUnavailable
	}

	var resp chatResponse
	err := c.http.PostJSON(ctx, c.baseURL+"/chat/completions", c.authHeader(), chatRequest{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   200,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify marks a rejected API key as an unavailable classifier. The
// original error stays in the chain.
func classify(err error) error {
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) &&
		(netErr.StatusCode == http.StatusUnauthorized || netErr.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, err)
	}
	return err
}

func (c *Client) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
