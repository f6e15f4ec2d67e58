package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/types"
)

// Client talks to a recognition+translation service over HTTP/JSON
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// recognizeRequest is the wire format for recognition calls
type recognizeRequest struct {
	Fingerprint string            `json:"fingerprint"`
	MIME        string            `json:"mime"`
	ImageB64    string            `json:"image_base64"`
	Options     map[string]string `json:"options,omitempty"`
}

// recognizeResponse is the wire format for recognition results
type recognizeResponse struct {
	Regions []types.Region `json:"regions"`
}

type translateRequest struct {
	Text    string            `json:"text"`
	Options map[string]string `json:"options,omitempty"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// errorResponse is the service's error payload shape
type errorResponse struct {
	Message string `json:"message"`
}

// NewClient creates a recognition service client. The base URL is the
// fallback endpoint; a non-empty SessionOptions.Endpoint overrides it
// per call so the set-endpoint command takes effect immediately.
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8765"
	}
	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// Recognize implements Recognizer
func (c *Client) Recognize(ctx context.Context, fingerprint string, content *encoding.Encoded, opts types.SessionOptions) ([]types.Region, error) {
	req := recognizeRequest{
		Fingerprint: fingerprint,
		MIME:        content.MIME,
		ImageB64:    content.Base64(),
		Options:     opts.SelectedOptions,
	}

	var resp recognizeResponse
	if err := c.post(ctx, c.endpoint(opts), "/recognize", req, &resp); err != nil {
		return nil, err
	}
	return resp.Regions, nil
}

// Translate implements Recognizer
func (c *Client) Translate(ctx context.Context, text string, opts types.SessionOptions) (string, error) {
	req := translateRequest{Text: text, Options: opts.SelectedOptions}
	var resp translateResponse
	if err := c.post(ctx, c.endpoint(opts), "/translate", req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) endpoint(opts types.SessionOptions) string {
	if opts.Endpoint != "" {
		return strings.TrimSuffix(opts.Endpoint, "/")
	}
	return c.baseURL
}

// post sends a JSON request and decodes the response, mapping failures
// onto the recognition error taxonomy
func (c *Client) post(ctx context.Context, base, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &UnknownError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return &UnknownError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := httpResp.Status
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return &BadResponseError{Status: httpResp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &UnknownError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
