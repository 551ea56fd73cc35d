package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// HTTPTransport posts payloads to a connection management API that follows
// the "POST {endpoint}/@connections/{connectionId}" convention.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPTransport(endpoint string, apiKey string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// ReadEndpointFile loads an endpoint URL written to a file by the deployment.
func ReadEndpointFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read endpoint file: %w", err)
	}

	endpoint := strings.TrimSpace(string(raw))
	if endpoint == "" {
		return "", fmt.Errorf("endpoint file %s is empty", path)
	}

	return endpoint, nil
}

func (t *HTTPTransport) Deliver(ctx context.Context, connectionId string, payload []byte) error {
	target := t.endpoint + "/@connections/" + url.PathEscape(connectionId)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if t.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	switch {
	case response.StatusCode == http.StatusGone:
		return ErrPeerGone
	case response.StatusCode < 200 || response.StatusCode > 299:
		return fmt.Errorf("post to connection %s: unexpected status %d", connectionId, response.StatusCode)
	}

	return nil
}
