package textgen

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region client

// OpenAIClient implements Generator and Encoder against an OpenAI-compatible
// endpoint.
type OpenAIClient struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

// NewOpenAIClient builds a client. baseURL may be empty for the default
// endpoint; chatModel and embedModel may be empty for defaults.
func NewOpenAIClient(apiKey, baseURL, chatModel, embedModel string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if chatModel == "" {
		chatModel = openai.ChatModelGPT4oMini
	}
	if embedModel == "" {
		embedModel = openai.EmbeddingModelTextEmbedding3Small
	}
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

// #endregion client

// #region produce-text

// ProduceText implements Generator.
func (c *OpenAIClient) ProduceText(ctx context.Context, strategy policy.StrategyConfig, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemDirective(strategy)),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// #endregion produce-text

// #region encode

// Encode implements Encoder. Provider embeddings are folded down to
// core.ContextDim by summing strided groups, preserving rough locality.
func (c *OpenAIClient) Encode(ctx context.Context, text string) (core.ContextVector, error) {
	var vec core.ContextVector

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embedModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return vec, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return vec, fmt.Errorf("embedding: empty data")
	}

	emb := resp.Data[0].Embedding
	for i, v := range emb {
		vec[i%core.ContextDim] += float32(v)
	}
	normalize(&vec)
	return vec, nil
}

// #endregion encode
