package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"busbot/internal/integrations/paramstore"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v2.6"
)

// sendRequest is the Send API payload for a plain text reply.
type sendRequest struct {
	Recipient     recipient   `json:"recipient"`
	Message       textMessage `json:"message"`
	MessagingType string      `json:"messaging_type,omitempty"`
}

type recipient struct {
	ID string `json:"id"`
}

type textMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SecretSource resolves named secrets such as the page access token.
type SecretSource interface {
	Secret(ctx context.Context, key string) (string, error)
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("messenger: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text messages through the Messenger Send API.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	secrets    SecretSource
	log        *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		c.apiVersion = strings.Trim(strings.TrimSpace(version), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a Client that looks the page access token up through
// secrets on every send; the source is expected to cache it.
func NewClient(secrets SecretSource, opts ...Option) (*Client, error) {
	if secrets == nil {
		return nil, errors.New("messenger: secret source must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		secrets:    secrets,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "integrations.messenger")
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func messagesURL(baseURL, version string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if version == "" {
		version = defaultAPIVersion
	}
	return base + "/" + version + "/me/messages"
}

// Send delivers one text message to recipientID.
func (c *Client) Send(ctx context.Context, recipientID, text string) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return errors.New("messenger: recipient id must not be empty")
	}
	if text == "" {
		return errors.New("messenger: text must not be empty")
	}

	token, err := c.secrets.Secret(ctx, paramstore.AccessToken)
	if err != nil {
		return fmt.Errorf("messenger: resolve access token: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		Recipient:     recipient{ID: recipientID},
		Message:       textMessage{Text: text},
		MessagingType: "RESPONSE",
	})
	if err != nil {
		return fmt.Errorf("messenger: marshal request: %w", err)
	}

	endpoint := messagesURL(c.baseURL, c.apiVersion)
	q := url.Values{}
	q.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// endpoint, not the full URL, goes into errors so the token never reaches logs.
	raw, err := c.doJSONRequest(req, endpoint)
	if err != nil {
		return fmt.Errorf("messenger: request failed: %w", err)
	}

	var payload sendResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("messenger: decode response: %w", err)
	}
	c.log.Debug("Successfully sent message", "message_id", payload.MessageID, "recipient_id", payload.RecipientID)
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// url.Error repeats the request URL, which carries the token.
			return nil, fmt.Errorf("%s %s: %w", uerr.Op, endpoint, uerr.Err)
		}
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
