// Package dify provides an LLM provider backed by a Dify chat application.
//
// Dify hosts the model and its configuration; this provider only forwards the
// prompt as a blocking chat message:
//
//	POST {baseURL}/chat-messages
//	Authorization: Bearer {apiKey}
//	{"inputs": {...}, "query": "...", "response_mode": "blocking", "user": "...", "app_id": "..."}
//
// The system prompt and the conversation are flattened into the query.
// [llm.CompletionRequest.Metadata] becomes the application's "inputs" object.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
)

const (
	defaultBaseURL = "https://api.dify.ai/v1"
	defaultUser    = "default-user"

	// maxErrorBody caps how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the Dify API base URL. Default: https://api.dify.ai/v1.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAppID sets the app_id sent with every request.
func WithAppID(id string) Option {
	return func(p *Provider) {
		p.appID = id
	}
}

// WithDefaultUser sets the user reported when a request carries none.
// Default: "default-user".
func WithDefaultUser(user string) Option {
	return func(p *Provider) {
		p.defaultUser = user
	}
}

// WithHTTPClient replaces the HTTP client. Default: 60 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithContextWindow declares the context window of the model behind the
// application. Dify does not expose it.
func WithContextWindow(tokens int) Option {
	return func(p *Provider) {
		p.caps.ContextWindow = tokens
	}
}

// Provider implements llm.Provider against a Dify application.
type Provider struct {
	apiKey      string
	baseURL     string
	appID       string
	defaultUser string
	httpClient  *http.Client
	caps        llm.ModelCapabilities
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("dify: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		defaultUser: defaultUser,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.baseURL == "" {
		return nil, errors.New("dify: baseURL must not be empty")
	}
	return p, nil
}

// chatRequest is the body of POST /chat-messages.
type chatRequest struct {
	Inputs       map[string]string `json:"inputs"`
	Query        string            `json:"query"`
	ResponseMode string            `json:"response_mode"`
	User         string            `json:"user"`
	AppID        string            `json:"app_id,omitempty"`
}

// chatResponse is the blocking-mode answer.
type chatResponse struct {
	Answer   string `json:"answer"`
	Message  string `json:"message"`
	Metadata struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"metadata"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	query := buildQuery(req)
	if query == "" {
		return nil, errors.New("dify: empty query")
	}

	inputs := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		inputs[k] = v
	}
	user := req.User
	if user == "" {
		user = p.defaultUser
	}

	body, err := json.Marshal(chatRequest{
		Inputs:       inputs,
		Query:        query,
		ResponseMode: "blocking",
		User:         user,
		AppID:        p.appID,
	})
	if err != nil {
		return nil, fmt.Errorf("dify: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dify: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dify: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dify: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("dify: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(snippet))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("dify: parse JSON response: %w", err)
	}

	content := out.Answer
	if content == "" {
		content = out.Message
	}
	if content == "" {
		content = "[]"
	}
	return &llm.CompletionResponse{
		Content: content,
		Usage: llm.Usage{
			PromptTokens:     out.Metadata.Usage.PromptTokens,
			CompletionTokens: out.Metadata.Usage.CompletionTokens,
			TotalTokens:      out.Metadata.Usage.TotalTokens,
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.caps
}

// buildQuery flattens the system prompt and messages into one query string.
func buildQuery(req llm.CompletionRequest) string {
	parts := make([]string, 0, len(req.Messages)+1)
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		parts = append(parts, s)
	}
	for _, m := range req.Messages {
		if s := strings.TrimSpace(m.Content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
