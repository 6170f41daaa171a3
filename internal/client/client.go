// Package client is a small REST client for the prediction API.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is the body sent to /api/predict.
type Request struct {
	Features  map[string]any `json:"features"`
	RequestID string         `json:"request_id,omitempty"`
}

// View mirrors the rendered message block returned by the server.
type View struct {
	Style       string `json:"style"`
	Message     string `json:"message"`
	Probability string `json:"probability,omitempty"`
}

// Prediction is a successful /api/predict response.
type Prediction struct {
	Label        int       `json:"label"`
	Outcome      string    `json:"outcome"`
	Probability  *float64  `json:"probability,omitempty"`
	Message      string    `json:"message"`
	Filled       []string  `json:"filled,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	Latency      float64   `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
	View         View      `json:"view"`
}

// Lines returns the rendered result as text lines.
func (p Prediction) Lines() []string {
	lines := []string{p.View.Message}
	if p.View.Probability != "" {
		lines = append(lines, p.View.Probability)
	}
	return lines
}

// SchemaField describes one input the server accepts.
type SchemaField struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Kind    string   `json:"kind"`
	Default string   `json:"default"`
	Options []string `json:"options,omitempty"`
}

// Schema is the /api/schema response.
type Schema struct {
	Columns []string      `json:"columns"`
	Fields  []SchemaField `json:"fields"`
	Strict  bool          `json:"strict"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

type errorResp struct {
	Error string `json:"error"`
}

type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the server at base, e.g. "http://127.0.0.1:8501".
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict submits raw feature values and returns the server's prediction.
func (c *Client) Predict(ctx context.Context, req Request) (*Prediction, error) {
	result := &Prediction{}
	apiErr := &errorResp{}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		SetError(apiErr).
		Post(c.base + "/api/predict")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return nil, &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return result, nil
}

// Schema fetches the field list the server expects.
func (c *Client) Schema(ctx context.Context) (*Schema, error) {
	result := &Schema{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		Get(c.base + "/api/schema")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return result, nil
}

// Health returns nil when the server reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get(c.base + "/health")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}
