package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/me/wic/pkg/model"
)

// Client talks to a WIC compile service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a client for the service at baseURL. Compiles of large
// trees can take minutes, so the timeout is generous.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

// envelope is model.Response with the payload left undecoded.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// compileBody is the POST /compile request.
type compileBody struct {
	Root               string            `json:"root"`
	Files              map[string]string `json:"files"`
	Overrides          map[string]any    `json:"overrides,omitempty"`
	InlineSubworkflows bool              `json:"inline_subworkflows,omitempty"`
	InlineCWL          bool              `json:"inline_cwl,omitempty"`
}

type compileResult struct {
	model.Compilation
	Cached bool `json:"cached"`
}

// Compile posts a file set and returns the recorded compilation. A
// rejected compile comes back as a *model.APIError carrying the details.
func (c *Client) Compile(ctx context.Context, body compileBody) (*compileResult, error) {
	var res compileResult
	if _, err := c.call(ctx, http.MethodPost, "/api/v1/compile", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Compilations lists recorded compilations, newest first.
func (c *Client) Compilations(ctx context.Context, status string, limit int) ([]model.Compilation, *model.Pagination, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if status != "" {
		q.Set("status", status)
	}
	var comps []model.Compilation
	page, err := c.call(ctx, http.MethodGet, "/api/v1/compilations?"+q.Encode(), nil, &comps)
	if err != nil {
		return nil, nil, err
	}
	return comps, page, nil
}

func (c *Client) Compilation(ctx context.Context, id string) (*model.Compilation, error) {
	var comp model.Compilation
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/compilations/"+url.PathEscape(id), nil, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

// call sends one request and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) (*model.Pagination, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", env.RequestID, "duration", time.Since(start).String())

	if env.Status == model.StatusError && env.Error != nil {
		return nil, env.Error
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return env.Pagination, nil
}
