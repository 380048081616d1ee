package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBody = 1 << 20

// ErrResponseTooLarge is returned instead of relaying a truncated answer.
var ErrResponseTooLarge = errors.New("response body too large")

// CloudAPIClient sends messages through the WhatsApp Cloud API.
type CloudAPIClient struct {
	baseURL string
	version string
	client  *http.Client
}

func NewCloudAPIClient(baseURL, version string, timeout time.Duration) *CloudAPIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CloudAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: strings.Trim(version, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendResult is the remote answer, relayed to callers unchanged.
type SendResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports whether the remote acknowledged the send.
func (r *SendResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func (c *CloudAPIClient) messagesURL(businessPhoneID string) string {
	return fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, url.PathEscape(businessPhoneID))
}

// Send posts payload verbatim to the phone's messages endpoint. A non-2xx
// answer is not an error; only transport failures are.
func (c *CloudAPIClient) Send(ctx context.Context, businessPhoneID, authorization string, payload []byte) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(businessPhoneID), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseBody {
		return nil, fmt.Errorf("%w: status %d, over %d bytes", ErrResponseTooLarge, resp.StatusCode, maxResponseBody)
	}

	return &SendResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
