// Package llm wraps the Gemini API for text generation and embeddings. The
// rest of the pipeline consumes it through small interfaces so tests and
// offline runs can substitute deterministic fakes.
package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	// DefaultModel is the generation model used when none is configured.
	DefaultModel = "gemini-1.5-flash"
	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = "text-embedding-004"
)

// Client wraps a Gemini API client.
type Client struct {
	gClient        *genai.Client
	modelName      string
	embeddingModel string
	temperature    float32
	topP           float32
}

// Config holds client construction parameters.
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	TopP           float32
}

// NewClient creates a Gemini-backed client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required; set GEMINI_API_KEY or ai.api_key")
	}
	gClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embModel := cfg.EmbeddingModel
	if embModel == "" {
		embModel = DefaultEmbeddingModel
	}
	return &Client{
		gClient:        gClient,
		modelName:      model,
		embeddingModel: embModel,
		temperature:    cfg.Temperature,
		topP:           cfg.TopP,
	}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() {
	if c.gClient != nil {
		c.gClient.Close()
	}
}

// ModelName returns the configured generation model.
func (c *Client) ModelName() string {
	return c.modelName
}

// GenerateText sends a system prompt plus user prompt and returns the
// assistant text. Errors are recoverable: callers fall back to heuristic
// summarization.
func (c *Client) GenerateText(ctx context.Context, system, user string) (string, error) {
	model := c.gClient.GenerativeModel(c.modelName)
	model.SetTemperature(c.temperature)
	model.SetTopP(c.topP)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response part type %T", resp.Candidates[0].Content.Parts[0])
	}
	return string(text), nil
}

// EmbeddingModelName returns the configured embedding model, recorded on
// embedding cache rows.
func (c *Client) EmbeddingModelName() string {
	return c.embeddingModel
}

// Embed returns a fixed-dimension embedding vector for the text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	em := c.gClient.EmbeddingModel(c.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding from model")
	}
	vec := make([]float64, len(res.Embedding.Values))
	for i, v := range res.Embedding.Values {
		vec[i] = float64(v)
	}
	return vec, nil
}
