package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/claimguard-jp/claimguard/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultDetectionModel is the chat model used for violation detection
	DefaultDetectionModel = openai.GPT4oMini
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions, expected 1536")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrEmptyVerdict is returned when the detector reply carries no content
	ErrEmptyVerdict = errors.New("detector returned an empty verdict")
)

// API defines the OpenAI operations the client depends on
type API interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
	CreateDetection(ctx context.Context, system, user string) (string, error)
}

// Client wraps the OpenAI API client for embeddings and detection
type Client struct {
	api        API
	dimensions int
}

type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	detectionModel string
}

func NewOpenAIAdapter(apiKey string, embeddingModel openai.EmbeddingModel, detectionModel string) *OpenAIAdapter {
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if detectionModel == "" {
		detectionModel = DefaultDetectionModel
	}
	return &OpenAIAdapter{
		client:         openai.NewClient(apiKey),
		embeddingModel: embeddingModel,
		detectionModel: detectionModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CreateDetection runs a JSON-mode chat completion and returns the raw reply
func (a *OpenAIAdapter) CreateDetection(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.detectionModel,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyVerdict
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	DetectionModel      string
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel, cfg.DetectionModel),
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	if len(embedding) != expected {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

// DetectViolations screens text against the supplied NG phrases and
// returns the model's structured verdict.
func (c *Client) DetectViolations(ctx context.Context, text string, candidates []*domain.RankedCandidate) (*domain.DetectionResult, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	reply, err := c.api.CreateDetection(ctx, detectionSystemPrompt, buildDetectionUserPrompt(text, candidates))
	if err != nil {
		return nil, fmt.Errorf("failed to run violation detection: %w", err)
	}

	return parseVerdict(reply)
}

type verdictPayload struct {
	ModifiedText string `json:"modified_text"`
	Violations   []struct {
		Start        int    `json:"start"`
		End          int    `json:"end"`
		Reason       string `json:"reason"`
		DictionaryID string `json:"dictionary_id,omitempty"`
	} `json:"violations"`
}

func parseVerdict(reply string) (*domain.DetectionResult, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, ErrEmptyVerdict
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(reply), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse detector verdict: %w", err)
	}

	result := &domain.DetectionResult{
		ModifiedText: payload.ModifiedText,
		Violations:   make([]domain.DetectedViolation, 0, len(payload.Violations)),
	}
	for _, v := range payload.Violations {
		result.Violations = append(result.Violations, domain.DetectedViolation{
			StartPos:     v.Start,
			EndPos:       v.End,
			Reason:       v.Reason,
			DictionaryID: v.DictionaryID,
		})
	}
	return result, nil
}
