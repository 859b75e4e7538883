package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luguanhuang/nano-banana/pkg/config"
	"github.com/luguanhuang/nano-banana/pkg/observability"
)

const (
	DefaultModel = "google/gemini-2.5-flash-image"
	DefaultURL   = "https://openrouter.ai/api/v1"

	providerName     = "openrouter"
	promptPrefix     = "Generate a new image based on the provided image and prompt: "
	maxPromptLength  = 4000
	maxErrorBodySize = 4096
)

// Request is one image edit
type Request struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image"` // data URL or https URL
}

// Validate checks the request before any upstream call
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" || r.Image == "" {
		return fmt.Errorf("%w: missing prompt or image", ErrInvalidInput)
	}
	if len(r.Prompt) > maxPromptLength {
		return fmt.Errorf("%w: prompt longer than %d characters", ErrInvalidInput, maxPromptLength)
	}
	if !strings.HasPrefix(r.Image, "data:image/") && !strings.HasPrefix(r.Image, "https://") {
		return fmt.Errorf("%w: image must be a data URL or https URL", ErrInvalidInput)
	}
	return nil
}

// Result is the model output. Image is set when the model returned an
// image; Text carries any accompanying message.
type Result struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
	Model string `json:"model"`
}

// Client calls the OpenRouter chat-completions endpoint
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	referer    string
	httpClient *http.Client
	metrics    *observability.Metrics
}

// NewClient creates a model client. siteURL is sent as HTTP-Referer.
func NewClient(cfg config.ImageGenConfig, siteURL string, httpClient *http.Client, metrics *observability.Metrics) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: observability.InstrumentTransport(nil),
		}
	}
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = DefaultURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		referer:    siteURL,
		httpClient: httpClient,
		metrics:    metrics,
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
			Images  []struct {
				ImageURL imageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt and image to the model. It is not retried.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	result, err := c.generate(ctx, req)
	c.metrics.ObserveUpstream(providerName, "generate", start, err)
	return result, err
}

func (c *Client) generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: promptPrefix + req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: req.Image}},
			},
		}},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Title", "Nano Banana")
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(msg))),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return extractResult(out, c.model)
}

func extractResult(out chatResponse, model string) (*Result, error) {
	if len(out.Choices) == 0 {
		return nil, &UpstreamError{Err: fmt.Errorf("response has no choices")}
	}
	if out.Model != "" {
		model = out.Model
	}

	msg := out.Choices[0].Message
	result := &Result{Model: model}
	if msg.Content != nil {
		result.Text = *msg.Content
	}

	switch {
	case len(msg.Images) > 0:
		result.Image = msg.Images[0].ImageURL.URL
	case strings.HasPrefix(result.Text, "data:image/"):
		result.Image, result.Text = result.Text, ""
	case msg.Refusal != nil && *msg.Refusal != "":
		return nil, &refusalError{reason: *msg.Refusal}
	case result.Text == "":
		return nil, &UpstreamError{Err: fmt.Errorf("no content returned")}
	}
	return result, nil
}
