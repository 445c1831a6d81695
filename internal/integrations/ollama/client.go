package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"llm-chat-api/internal/domain"
)

const defaultBaseURL = "http://localhost:11434"

// generateRequest is the minimal request shape for the /api/generate endpoint.
// Streaming is disabled; the whole completion arrives in one response.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the minimal response shape returned by /api/generate.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// tagsResponse is the response shape of the /api/tags model listing.
type tagsResponse struct {
	Models []modelEntry `json:"models"`
}

type modelEntry struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    modelDetails `json:"details"`
}

type modelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ollama: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for an Ollama-compatible inference provider.
// It performs no retries; callers own retry policy.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	urlOnce     sync.Once
	resolvedURL string
	urlErr      error
}

type Option func(*Client)

// WithBaseURL pins the provider base URL, bypassing parameter-store lookup.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given parameter-store Getter.
// Unless WithBaseURL is set, the provider base URL is fetched from the
// parameter store on the first call and reused for the process lifetime.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("ollama: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("ollama: parameter prefix must not be empty")
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveBaseURL returns the pinned base URL if one was configured, otherwise
// fetches it from the parameter store exactly once per process lifetime.
func (c *Client) resolveBaseURL(ctx context.Context) (string, error) {
	if c.baseURL != "" {
		return c.baseURL, nil
	}
	c.urlOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/config/ollama_base_url")
		if err != nil {
			c.urlErr = fmt.Errorf("ollama: fetch base url from paramstore: %w", err)
			return
		}
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			raw = defaultBaseURL
		}
		c.resolvedURL = raw
	})
	return c.resolvedURL, c.urlErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func generateURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/generate"
}

func tagsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/tags"
}

// Generate requests a completion for prompt from model and returns the
// response text. A non-2xx provider response surfaces as *HTTPStatusError;
// transport failures surface as plain wrapped errors.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		return "", errors.New("ollama: model must not be empty")
	}

	baseURL, err := c.resolveBaseURL(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	url := generateURL(baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("ollama: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("ollama: generate request failed: %w", err)
	}

	var payload generateResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("ollama: decode response: %w", decErr)
	}
	if payload.Response == "" {
		return "", errors.New("ollama: empty response text")
	}
	return payload.Response, nil
}

// ListModels fetches the provider's model catalog. Provider errors propagate
// to the caller; they are never masked as an empty list.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	baseURL, err := c.resolveBaseURL(ctx)
	if err != nil {
		return nil, err
	}

	url := tagsURL(baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("ollama: create tags request: %w", reqErr)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("ollama: tags request failed: %w", err)
	}

	var payload tagsResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("ollama: decode tags response: %w", decErr)
	}

	models := make([]domain.ModelInfo, 0, len(payload.Models))
	for _, m := range payload.Models {
		models = append(models, domain.ModelInfo{
			Name:       m.Name,
			Model:      m.Model,
			ModifiedAt: m.ModifiedAt,
			Size:       m.Size,
			Digest:     m.Digest,
			Details: domain.ModelDetails{
				ParentModel:       m.Details.ParentModel,
				Format:            m.Details.Format,
				Family:            m.Details.Family,
				Families:          m.Details.Families,
				ParameterSize:     m.Details.ParameterSize,
				QuantizationLevel: m.Details.QuantizationLevel,
			},
		})
	}
	return models, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
