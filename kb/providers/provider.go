// Package providers constructs the external model capabilities the engine
// consumes: an OpenAI-compatible chat model and embedding model.
package providers

import (
	"context"
	"fmt"
	"os"

	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
)

// ChatModelConfig defines the configuration for creating a chat model.
type ChatModelConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewChatModel creates an OpenAI-compatible chat model from specific configuration.
func NewChatModel(ctx context.Context, config *ChatModelConfig) (model.ToolCallingChatModel, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required in config")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	modelName := config.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	return openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
		APIKey:  config.APIKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
}

// CreateChatModel creates an OpenAI-compatible chat model from environment variables.
// Required environment variables:
//   - API_KEY: API key for the LLM provider
//
// Optional environment variables:
//   - BASE_URL: Base URL for an OpenAI-compatible API (default: https://api.openai.com/v1)
//   - MODEL: Model name (default: gpt-4o-mini)
func CreateChatModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("API_KEY environment variable is required")
	}

	return NewChatModel(ctx, &ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: os.Getenv("BASE_URL"),
		Model:   os.Getenv("MODEL"),
	})
}

// EmbeddingConfig defines the configuration for creating an embedding model.
type EmbeddingConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewEmbeddingModel creates an OpenAI-compatible embedding model from specific configuration.
func NewEmbeddingModel(ctx context.Context, config *EmbeddingConfig) (einoEmbedding.Embedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required in config")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	modelName := config.Model
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}

	return openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:  config.APIKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
}

// CreateEmbeddingModel creates an OpenAI-compatible embedding model from
// environment variables, falling back to the chat model's API key when no
// embedding-specific key is set.
func CreateEmbeddingModel(ctx context.Context) (einoEmbedding.Embedder, error) {
	apiKey := os.Getenv("EMBEDDING_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("EMBEDDING_API_KEY or API_KEY environment variable is required")
	}

	return NewEmbeddingModel(ctx, &EmbeddingConfig{
		APIKey:  apiKey,
		BaseURL: os.Getenv("EMBEDDING_BASE_URL"),
		Model:   os.Getenv("EMBEDDING_MODEL"),
	})
}
