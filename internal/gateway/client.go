package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// APIError is the single error shape every failed call is normalized into,
// whether the failure was a network error, a non-2xx response, or an
// unreadable body. Status is 0 when no HTTP response was received.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// errorBody is the JSON shape the backend uses for error responses.
type errorBody struct {
	Detail string `json:"detail"`
}

// Client talks to the chat backend. It performs no retries; retry policy is a
// caller concern.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the backend at baseURL. The underlying HTTP client
// applies a 30 second timeout, which also bounds uploads whose transport
// never answers.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithHTTPClient creates a Client using the given http.Client. Used by
// tests and by callers that need custom transport settings.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Message: fmt.Sprintf("marshalling request: %v", err)}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("backend not reachable: %v", err)}
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// upload sends a multipart/form-data request with one file part plus any
// extra form fields. The Content-Type header comes from the multipart writer
// so the boundary is always the one it computed; setting the header by hand
// corrupts the boundary.
func (c *Client) upload(ctx context.Context, path, filename string, file io.Reader, fields map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("building multipart body: %v", err)}
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("reading %s: %v", filename, err)}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, &APIError{Message: fmt.Sprintf("building multipart body: %v", err)}
		}
	}
	if err := w.Close(); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("building multipart body: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("backend not reachable: %v", err)}
	}
	return resp, nil
}

// decode drains resp into v, converting any non-2xx status into an APIError.
// Error bodies are expected to carry a JSON "detail" string; anything else
// falls back to the raw status text.
func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}

func errorMessage(resp *http.Response) string {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Status
	}
	var eb errorBody
	if jsonErr := json.Unmarshal(data, &eb); jsonErr == nil && eb.Detail != "" {
		return eb.Detail
	}
	return resp.Status
}
