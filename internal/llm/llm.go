// Package llm generates newsletter content with Google Gemini.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"letterdesk/internal/config"
	"letterdesk/internal/core"
)

const (
	// DefaultModel is the Gemini model used when none is configured.
	DefaultModel = "gemini-2.5-flash"
	// DefaultMaxTokens bounds the newsletter response.
	DefaultMaxTokens = int32(8192)
)

var (
	// ErrNoJSON is returned when the model response holds no JSON object.
	ErrNoJSON = errors.New("Failed to parse AI response as JSON")
	// ErrMissingAPIKey is returned when no Gemini key is configured.
	ErrMissingAPIKey = errors.New("gemini API key is required: set GEMINI_API_KEY or ai.gemini.api_key")
)

// Request describes one newsletter generation.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Articles     []core.Article
	DayStart     time.Time
	DayEnd       time.Time
	SequenceName string
}

// Generator produces the raw newsletter JSON object for a request.
type Generator interface {
	GenerateNewsletter(ctx context.Context, req Request) (map[string]any, error)
}

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	SystemInstruction string
	MaxTokens         int32
	Temperature       float32
	JSON              bool // Ask the model for application/json output
}

// Client is a Gemini-backed Generator.
type Client struct {
	gClient     *genai.Client
	modelName   string
	maxTokens   int32
	temperature float32
	timeout     time.Duration
}

// NewClient creates a Gemini client from configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		gClient:     gClient,
		modelName:   model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     config.Duration(cfg.Timeout, 2*time.Minute),
	}, nil
}

// ModelName returns the configured model.
func (c *Client) ModelName() string {
	return c.modelName
}

// GenerateText sends a single-turn prompt and returns the response text.
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{MaxOutputTokens: c.maxTokens}
	if options.MaxTokens > 0 {
		cfg.MaxOutputTokens = options.MaxTokens
	}
	temp := c.temperature
	if options.Temperature > 0 {
		temp = options.Temperature
	}
	if temp > 0 {
		cfg.Temperature = &temp
	}
	if options.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: options.SystemInstruction}}}
	}
	if options.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from LLM")
	}
	return text, nil
}

// GenerateNewsletter substitutes the request placeholders into both prompts,
// asks Gemini for JSON and extracts the first JSON object from the reply.
func (c *Client) GenerateNewsletter(ctx context.Context, req Request) (map[string]any, error) {
	vars, err := PromptVars(req)
	if err != nil {
		return nil, err
	}

	text, err := c.GenerateText(ctx, Substitute(req.UserPrompt, vars), TextGenerationOptions{
		SystemInstruction: Substitute(req.SystemPrompt, vars),
		JSON:              true,
	})
	if err != nil {
		return nil, err
	}
	return ExtractJSON(text)
}

// ExtractJSON parses the substring between the first '{' and the last '}'
// of text as a JSON object.
func ExtractJSON(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return out, nil
}
