/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/internal/apierror"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// zeroTemperature stands in for 0 because the request encoder omits zero values.
const zeroTemperature float32 = 1e-6

type Message struct {
	Role    string
	Content string
}

type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// Client is the chat completion contract used by the generators.
// Returned text is untrusted and must be parsed defensively.
type Client interface {
	ChatCompletion(ctx context.Context, messages []Message, opts Options) (string, error)
}

type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   uint64
	retryDelay   time.Duration
	pricing      Pricing
}

func NewOpenAIClient(cnf config.LLMConfig) *OpenAIClient {
	return NewOpenAIClientWithHTTP(cnf, &http.Client{Timeout: time.Duration(cnf.TimeoutSec) * time.Second})
}

func NewOpenAIClientWithHTTP(cnf config.LLMConfig, httpClient *http.Client) *OpenAIClient {
	openaiConfig := openai.DefaultConfig(cnf.APIKey)
	if cnf.BaseURL != "" {
		openaiConfig.BaseURL = cnf.BaseURL
	}
	openaiConfig.HTTPClient = httpClient

	logrus.WithFields(logrus.Fields{"base_url": openaiConfig.BaseURL, "model": cnf.Model}).Info("llm client created")

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(openaiConfig),
		defaultModel: cnf.Model,
		maxRetries:   uint64(cnf.MaxRetries),
		retryDelay:   time.Duration(cnf.RetryDelayMs) * time.Millisecond,
		pricing: Pricing{
			InputPerMillion:  decimal.NewFromFloat(cnf.InputPricePerMillion),
			OutputPerMillion: decimal.NewFromFloat(cnf.OutputPricePerMillion),
		},
	}
}

// ChatCompletion sends messages and returns the first choice's content.
// Server errors and network failures are retried with linear backoff; the
// final failure is returned as a TRANSIENT error.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, messages []Message, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if req.Temperature == 0 {
		req.Temperature = zeroTemperature
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var content string
	attempt := 0
	operation := func() error {
		attempt++
		text, err := c.complete(ctx, req)
		if err == nil {
			content = text
			return nil
		}
		if !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		logrus.WithFields(logrus.Fields{"model": model, "attempt": attempt}).WithError(err).Warn("llm request failed, retrying")
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: c.retryDelay}, c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil || retryable(ctx, err) {
			return "", apierror.NewAPIError(apierror.ErrTransient, fmt.Sprintf("llm request failed after %d attempts", attempt), err)
		}
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "llm request rejected", err)
	}
	return content, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	requestDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(req.Model, "error").Inc()
		return "", err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		requestsTotal.WithLabelValues(req.Model, "empty").Inc()
		return "", errEmptyResponse
	}
	requestsTotal.WithLabelValues(req.Model, "success").Inc()

	content := resp.Choices[0].Message.Content
	prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if resp.Usage.TotalTokens == 0 {
		texts := make([]string, len(req.Messages))
		for i, m := range req.Messages {
			texts[i] = m.Content
		}
		prompt = estimateTokens(req.Model, texts...)
		completion = estimateTokens(req.Model, content)
	}
	promptTokens.WithLabelValues(req.Model).Observe(float64(prompt))
	completionTokens.WithLabelValues(req.Model).Observe(float64(completion))
	if cost := c.pricing.Cost(prompt, completion); cost.IsPositive() {
		estimatedCostUSD.WithLabelValues(req.Model).Add(cost.InexactFloat64())
	}
	return content, nil
}

var errEmptyResponse = errors.New("llm returned an empty response")

// retryable reports whether err is a server-class or network failure.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errEmptyResponse) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= http.StatusInternalServerError || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= http.StatusInternalServerError || reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
