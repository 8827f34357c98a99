package angel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	hfMaxErrorBody = 512
	hfGuidance     = 7.5

	// maxImageBytes is discord's attachment limit for unboosted servers
	maxImageBytes = 25 << 20
)

// ErrBadImagePrompt is returned when the image service rejects the
// prompt itself, in which case retrying with another provider won't help.
var ErrBadImagePrompt = errors.New("image prompt rejected")

// ImageGenerator turns a text prompt into PNG (or JPEG) bytes
type ImageGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type hfParameters struct {
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

// huggingFaceImages calls the Hugging Face inference API directly. Each
// token is tried in order, moving on when one is rejected, rate limited,
// or the model is still loading.
type huggingFaceImages struct {
	client         *http.Client
	url            string
	model          string
	tokens         []string
	negativePrompt string
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

func newHuggingFaceImages(
	config *ImageConfig,
	client *http.Client,
	logger *slog.Logger,
) *huggingFaceImages {
	if client == nil {
		client = http.DefaultClient
	}
	tokens := make([]string, 0, len(config.HuggingFaceTokens))
	for _, t := range config.HuggingFaceTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &huggingFaceImages{
		client:         client,
		url:            strings.TrimSuffix(config.HuggingFaceURL, "/") + "/" + config.HuggingFaceModel,
		model:          config.HuggingFaceModel,
		tokens:         tokens,
		negativePrompt: config.NegativePrompt,
		logger:         logger,
		requestLimiter: rate.NewLimiter(rate.Limit(config.MaxRequestsPerSecond), 1),
	}
}

func (h *huggingFaceImages) Name() string {
	return "huggingface"
}

// parameters picks the resolution and step count for the model. SDXL
// models are trained at 1024px, everything else gets the faster 512px.
func (h *huggingFaceImages) parameters() hfParameters {
	p := hfParameters{
		NegativePrompt:    h.negativePrompt,
		NumInferenceSteps: 20,
		GuidanceScale:     hfGuidance,
		Width:             512,
		Height:            512,
	}
	if strings.Contains(strings.ToLower(h.model), "xl") {
		p.NumInferenceSteps = 30
		p.Width = 1024
		p.Height = 1024
	}
	return p
}

func (h *huggingFaceImages) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if len(h.tokens) == 0 {
		return nil, &ExternalError{Service: serviceNameImage, Err: ErrNotConfigured}
	}
	body, err := json.Marshal(hfRequest{Inputs: prompt, Parameters: h.parameters()})
	if err != nil {
		return nil, err
	}
	if err = h.requestLimiter.Wait(ctx); err != nil {
		return nil, classifyUpstreamError(serviceNameImage, err)
	}

	logger := contextLoggerOr(ctx, h.logger)
	var lastErr error
	for idx, token := range h.tokens {
		data, retry, err := h.post(ctx, token, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logger.WarnContext(
			ctx,
			"huggingface request failed",
			tint.Err(err),
			"token_index", idx,
			"retry_next_token", retry,
		)
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, classifyUpstreamError(serviceNameImage, lastErr)
}

// post makes one inference request. retry reports whether another
// token might succeed where this one didn't.
func (h *huggingFaceImages) post(
	ctx context.Context,
	token string,
	body []byte,
) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
		if err != nil {
			return nil, true, err
		}
		if len(data) > maxImageBytes {
			return nil, true, fmt.Errorf(
				"%w: image is larger than %d bytes",
				ErrUpstreamUnavailable,
				maxImageBytes,
			)
		}
		if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
			return nil, true, fmt.Errorf(
				"%w: expected an image, got %s",
				ErrUpstreamUnavailable,
				shortenString(string(data), hfMaxErrorBody),
			)
		}
		return data, false, nil
	case http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, hfMaxErrorBody))
		return nil, false, newValidationError(
			ErrBadImagePrompt,
			"The image service couldn't use that prompt. Try rewording it.\n-# %s",
			strings.TrimSpace(string(msg)),
		)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, hfMaxErrorBody))
		return nil, true, fmt.Errorf(
			"%w: status %d: %s",
			ErrUpstreamUnavailable,
			resp.StatusCode,
			strings.TrimSpace(string(msg)),
		)
	}
}

// openAIImages generates images through [OpenAI.Image]
type openAIImages struct {
	openai *OpenAI
}

func (o openAIImages) Name() string {
	return "openai"
}

func (o openAIImages) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if !o.openai.Configured() {
		return nil, &ExternalError{Service: serviceNameImage, Err: ErrNotConfigured}
	}
	return o.openai.Image(ctx, prompt)
}

// imageChain tries each provider in turn, returning the first image
type imageChain struct {
	providers []ImageGenerator
	logger    *slog.Logger
}

func (c imageChain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ",")
}

// Generate returns the first provider's image. A rejected prompt stops
// the chain. When nothing is configured, that is reported as such
// rather than as an outage.
func (c imageChain) Generate(ctx context.Context, prompt string) ([]byte, error) {
	logger := contextLoggerOr(ctx, c.logger)
	var errs []error
	for _, p := range c.providers {
		data, err := p.Generate(ctx, prompt)
		if err == nil {
			logger.InfoContext(ctx, "image generated", "provider", p.Name(), "bytes", len(data))
			return data, nil
		}
		if errors.Is(err, ErrBadImagePrompt) || ctx.Err() != nil {
			return nil, err
		}
		if !errors.Is(err, ErrNotConfigured) {
			logger.WarnContext(ctx, "image provider failed", "provider", p.Name(), tint.Err(err))
		}
		errs = append(errs, err)
	}

	for _, err := range errs {
		if !errors.Is(err, ErrNotConfigured) {
			return nil, err
		}
	}
	return nil, &ExternalError{Service: serviceNameImage, Err: ErrNotConfigured}
}
