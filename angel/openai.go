package angel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	serviceNameAI    = "AI service"
	serviceNameImage = "image service"
)

// OpenAIClient is the subset of the go-openai client the bot uses
type OpenAIClient interface {
	// CreateChatCompletion sends a chat conversation and returns the
	// model's reply.
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)

	// CreateImage generates an image from a text prompt.
	CreateImage(
		ctx context.Context,
		request openai.ImageRequest,
	) (response openai.ImageResponse, err error)
}

// OpenAI wraps an [OpenAIClient] with rate limiting, a per-request
// timeout, and classification of failures into [ExternalError].
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	configured     bool
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		config:     config,
		logger:     newComponentLogger(config.LogLevel, "openai"),
		configured: config.Token != "",
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		),
	}

	if !o.configured {
		o.logger.Warn("no openai token set, AI features are disabled")
		o.client = placeholderOpenAIClient{}
		return o
	}

	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)
	return o
}

// Configured reports whether a token was provided
func (o *OpenAI) Configured() bool {
	return o.configured
}

// Chat sends messages to the configured chat model and returns the
// reply text. The request (including time spent waiting on the rate
// limiter) is bounded by OpenAIConfig.RequestTimeout.
func (o *OpenAI) Chat(
	ctx context.Context,
	messages []openai.ChatCompletionMessage,
) (string, error) {
	logger := contextLoggerOr(ctx, o.logger)
	ctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	if err := o.requestLimiter.Wait(ctx); err != nil {
		return "", classifyUpstreamError(serviceNameAI, err)
	}

	req := openai.ChatCompletionRequest{
		Model:     o.config.ChatModel,
		Messages:  messages,
		MaxTokens: o.config.MaxTokens,
	}

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		logger.WarnContext(
			ctx,
			"chat completion failed",
			tint.Err(err),
			"model", req.Model,
			"elapsed", time.Since(started),
		)
		return "", classifyUpstreamError(serviceNameAI, err)
	}
	logger.InfoContext(
		ctx,
		"chat completion finished",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(started),
	)

	if len(resp.Choices) == 0 {
		return "", &ExternalError{
			Service: serviceNameAI,
			Err:     fmt.Errorf("%w: no choices returned", ErrUpstreamUnavailable),
		}
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", &ExternalError{
			Service: serviceNameAI,
			Err:     fmt.Errorf("%w: empty reply", ErrUpstreamUnavailable),
		}
	}
	return answer, nil
}

// Image generates a PNG from prompt using the configured image model
func (o *OpenAI) Image(ctx context.Context, prompt string) ([]byte, error) {
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return nil, classifyUpstreamError(serviceNameImage, err)
	}

	resp, err := o.client.CreateImage(
		ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          o.config.ImageModel,
			Size:           o.config.ImageSize,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
			N:              1,
		},
	)
	if err != nil {
		return nil, classifyUpstreamError(serviceNameImage, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &ExternalError{
			Service: serviceNameImage,
			Err:     fmt.Errorf("%w: no image returned", ErrUpstreamUnavailable),
		}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &ExternalError{
			Service: serviceNameImage,
			Err:     fmt.Errorf("%w: bad image encoding: %w", ErrUpstreamUnavailable, err),
		}
	}
	return data, nil
}

// classifyUpstreamError wraps err in an [ExternalError] for service.
// Cancellation is passed through unchanged, since it means we're
// shutting down rather than that the service failed.
func classifyUpstreamError(service string, err error) error {
	var externalErr *ExternalError
	var validationErr *ValidationError
	var apiErr *openai.APIError
	var reqErr *openai.RequestError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &externalErr), errors.As(err, &validationErr):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &ExternalError{Service: service, Err: fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)}
	case errors.As(err, &apiErr):
		return &ExternalError{
			Service: service,
			Err:     fmt.Errorf("%w: status %d: %w", ErrUpstreamUnavailable, apiErr.HTTPStatusCode, err),
		}
	case errors.As(err, &reqErr):
		return &ExternalError{
			Service: service,
			Err:     fmt.Errorf("%w: status %d: %w", ErrUpstreamUnavailable, reqErr.HTTPStatusCode, err),
		}
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrNotConfigured):
		return &ExternalError{Service: service, Err: err}
	default:
		return &ExternalError{Service: service, Err: fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)}
	}
}

// placeholderOpenAIClient stands in when no token is configured
type placeholderOpenAIClient struct{}

var errOpenAINotConfigured = fmt.Errorf("%w: %w", ErrNotConfigured, ErrUpstreamUnavailable)

func (placeholderOpenAIClient) CreateChatCompletion(
	context.Context,
	openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, errOpenAINotConfigured
}

func (placeholderOpenAIClient) CreateImage(
	context.Context,
	openai.ImageRequest,
) (openai.ImageResponse, error) {
	return openai.ImageResponse{}, errOpenAINotConfigured
}
