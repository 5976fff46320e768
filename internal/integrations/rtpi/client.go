package rtpi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"busbot/internal/domain"
)

const defaultBaseURL = "https://data.dublinked.ie/cgi-bin/rtpi"

// dueNowLiteral is how the service marks an arrival that is at the stop.
const dueNowLiteral = "Due"

// realtimeResponse is the subset of the realtimebusinformation payload the bot
// reads. errorcode and duetime arrive as strings; flexValue also accepts numbers.
type realtimeResponse struct {
	ErrorCode    flexValue `json:"errorcode"`
	ErrorMessage string    `json:"errormessage"`
	StopID       string    `json:"stopid"`
	Results      []struct {
		Route   string    `json:"route"`
		DueTime flexValue `json:"duetime"`
	} `json:"results"`
}

// flexValue holds a JSON string or number as text.
type flexValue string

func (v *flexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = flexValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*v = flexValue(n.String())
	return nil
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("rtpi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client queries the real-time passenger information service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

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

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func realtimeURL(baseURL string, stop domain.StopID) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	q := url.Values{}
	q.Set("stopid", stop.String())
	q.Set("format", "json")
	return base + "/realtimebusinformation?" + q.Encode()
}

// Query never returns an error: every failure is folded into the result so the
// caller can decide what the user sees.
func (c *Client) Query(ctx context.Context, stop domain.StopID) domain.QueryResult {
	res, err := c.fetch(ctx, stop)
	if err != nil {
		return domain.TransportFailure{Cause: err}
	}
	return res
}

func (c *Client) fetch(ctx context.Context, stop domain.StopID) (domain.QueryResult, error) {
	u := realtimeURL(c.baseURL, stop)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("rtpi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.doRequest(req, u)
	if err != nil {
		return nil, fmt.Errorf("rtpi: request failed: %w", err)
	}

	var payload realtimeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("rtpi: decode response: %w", err)
	}
	return toResult(payload)
}

func toResult(payload realtimeResponse) (domain.QueryResult, error) {
	code := 0
	if payload.ErrorCode != "" {
		n, err := strconv.Atoi(string(payload.ErrorCode))
		if err != nil {
			return nil, fmt.Errorf("rtpi: decode errorcode %q: %w", payload.ErrorCode, err)
		}
		code = n
	}
	if code != 0 {
		return domain.UpstreamError{Code: code, Message: payload.ErrorMessage}, nil
	}

	arrivals := make([]domain.ArrivalRecord, 0, len(payload.Results))
	for i, r := range payload.Results {
		due, err := parseDueTime(string(r.DueTime))
		if err != nil {
			return nil, fmt.Errorf("rtpi: result %d: %w", i, err)
		}
		arrivals = append(arrivals, domain.ArrivalRecord{Route: r.Route, Due: due})
	}
	return domain.Records{Arrivals: arrivals}, nil
}

func parseDueTime(s string) (domain.DueTime, error) {
	if strings.EqualFold(s, dueNowLiteral) {
		return domain.DueNow(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return domain.DueTime{}, fmt.Errorf("decode duetime %q: %w", s, err)
	}
	return domain.DueIn(n), nil
}

func (c *Client) doRequest(req *http.Request, u string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, errors.New("empty response body")
	}
	return buf, nil
}
