package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/pkg/circuitbreaker"
	"github.com/wintrouble/backend/pkg/retry"
)

const embeddingBatchSize = 100

type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	EmbeddingDim   int
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
}

type Client struct {
	client      *openai.Client
	opts        Options
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	log         *zap.Logger
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           log,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isTransient,
		Logger:         log,
	}

	log.Info("LLM client initialized",
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &Client{
		client:      openai.NewClientWithConfig(cfg),
		opts:        opts,
		cb:          cb,
		retryConfig: retryConfig,
		log:         log,
	}
}

// isTransient retries rate limits, server errors and transport failures, but
// not request errors such as a bad key or an oversized input.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.opts.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.opts.MaxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
	}

	var result *CompletionResponse
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.opts.Model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			metrics.LLMTokensUsed.WithLabelValues(c.opts.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.opts.Model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("LLM completion generated",
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
	)
	return result, nil
}

// EmbedBatch embeds texts in request-sized batches; the result is aligned
// with texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(texts))
		batch := texts[start:end]

		err := c.cb.Execute(ctx, func(ctx context.Context) error {
			return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
				req := openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.opts.EmbeddingModel),
				}
				if c.opts.EmbeddingDim > 0 {
					req.Dimensions = c.opts.EmbeddingDim
				}

				resp, err := c.client.CreateEmbeddings(ctx, req)
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return retry.Permanent(fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(batch)))
				}

				metrics.LLMTokensUsed.WithLabelValues(c.opts.EmbeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))

				out := make([][]float32, len(batch))
				for _, d := range resp.Data {
					if d.Index < 0 || d.Index >= len(out) {
						return retry.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
					}
					out[d.Index] = d.Embedding
				}
				embeddings = append(embeddings, out...)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	c.log.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}

// GenerateAnswer answers question from the retrieved contexts using the
// troubleshooting template.
func (c *Client) GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   AnswerPrompt(question, contexts),
		MaxTokens:    c.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return resp.Content, nil
}

// RateConfidence asks the model how well answer is supported, on a 0-100
// scale. ok is false when the reply carried no usable number.
func (c *Client) RateConfidence(ctx context.Context, question, answer string) (float64, bool, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: "You grade answers. Reply with a single number.",
		UserPrompt:   RatingPrompt(question, answer),
		MaxTokens:    8,
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to rate answer: %w", err)
	}
	score, ok := ParseScore(resp.Content)
	return score, ok, nil
}
