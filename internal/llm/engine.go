package llm

import (
	"context"
	"fmt"
	"strings"

	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/models"
)

// EngineRequest is one generation call against a concrete engine.
type EngineRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// Endpoint overrides the engine's base URL when set.
	Endpoint string
}

// EngineResult is the text an engine produced and how many tokens it reported.
type EngineResult struct {
	Text       string
	TokenCount int
}

// Engine is an inference backend.
type Engine interface {
	Kind() models.BackendKind
	Complete(ctx context.Context, req EngineRequest) (EngineResult, error)
}

func baseURL(def, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return strings.TrimRight(def, "/")
}

func countTokens(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return len(strings.Fields(text))
}

// NativeEngine talks to the primary engine's /api/generate endpoint.
type NativeEngine struct {
	url    string
	client *commonhttp.Client
}

func NewNativeEngine(url string, client *commonhttp.Client) *NativeEngine {
	return &NativeEngine{url: url, client: client}
}

func (e *NativeEngine) Kind() models.BackendKind { return models.BackendPrimary }

type nativeRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options nativeOptions `json:"options"`
}

type nativeOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type nativeResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

func (e *NativeEngine) Complete(ctx context.Context, req EngineRequest) (EngineResult, error) {
	var resp nativeResponse
	err := e.client.DoJSON(ctx, commonhttp.Request{
		Method: "POST",
		URL:    baseURL(e.url, req.Endpoint) + "/api/generate",
		Body: nativeRequest{
			Model:   req.Model,
			Prompt:  req.Prompt,
			Options: nativeOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
		},
	}, &resp)
	if err != nil {
		return EngineResult{}, fmt.Errorf("primary engine: %w", err)
	}
	return EngineResult{Text: resp.Response, TokenCount: countTokens(resp.EvalCount, resp.Response)}, nil
}

// CompletionsEngine talks to an OpenAI-compatible /v1/completions endpoint.
type CompletionsEngine struct {
	url    string
	apiKey string
	client *commonhttp.Client
}

func NewCompletionsEngine(url, apiKey string, client *commonhttp.Client) *CompletionsEngine {
	return &CompletionsEngine{url: url, apiKey: apiKey, client: client}
}

func (e *CompletionsEngine) Kind() models.BackendKind { return models.BackendAlternate }

type completionsRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type completionsResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (e *CompletionsEngine) Complete(ctx context.Context, req EngineRequest) (EngineResult, error) {
	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}
	var resp completionsResponse
	err := e.client.DoJSON(ctx, commonhttp.Request{
		Method:  "POST",
		URL:     baseURL(e.url, req.Endpoint) + "/v1/completions",
		Headers: headers,
		Body: completionsRequest{
			Model:       req.Model,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		},
	}, &resp)
	if err != nil {
		return EngineResult{}, fmt.Errorf("alternate engine: %w", err)
	}
	if len(resp.Choices) == 0 {
		return EngineResult{}, fmt.Errorf("alternate engine: no choices returned")
	}
	text := resp.Choices[0].Text
	return EngineResult{Text: text, TokenCount: countTokens(resp.Usage.CompletionTokens, text)}, nil
}
