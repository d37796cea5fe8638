package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://translate.googleapis.com/translate_a/single"

// Client is the raw translation capability. Unlike Gateway it surfaces
// errors; Gateway applies the degrade-to-identity policy on top.
type Client interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// HTTPClient translates through the public Google Translate endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a translation client. An empty endpoint selects the
// default public endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) Translate(ctx context.Context, text, target string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate API error (status %d)", resp.StatusCode)
	}
	return decodeSegments(body)
}

// decodeSegments concatenates the translated segments out of the endpoint's
// nested-array response: [[["translated","original",...],...],...].
func decodeSegments(body []byte) (string, error) {
	var raw []any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty response")
	}
	segments, ok := raw[0].([]any)
	if !ok {
		return "", fmt.Errorf("unexpected response shape")
	}
	var sb strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			sb.WriteString(s)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no translated segments")
	}
	return sb.String(), nil
}
