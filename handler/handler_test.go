package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"busbot/internal/domain"
	"busbot/internal/integrations/paramstore"
	"busbot/internal/usecase"
)

type stubDispatcher struct {
	mu      sync.Mutex
	batches [][]domain.InboundEvent
	block   chan struct{}
}

func (s *stubDispatcher) DispatchBatch(_ context.Context, evs []domain.InboundEvent) []usecase.Outcome {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, evs)
	return make([]usecase.Outcome, len(evs))
}

func (s *stubDispatcher) events() []domain.InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InboundEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type stubSecrets map[string]string

func (s stubSecrets) Secret(_ context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", errors.New("missing " + key)
	}
	return v, nil
}

func defaultSecrets() stubSecrets {
	return stubSecrets{paramstore.VerifyToken: "verify-me", paramstore.AppSecret: "app-secret"}
}

func newTestHandler(t *testing.T, d Dispatcher, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(d, defaultSecrets(), opts...)
	require.NoError(t, err)
	return h
}

func postEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const batchedNotification = `{
	"object": "page",
	"entry": [
		{
			"id": "PAGE_ID",
			"time": 1458692752478,
			"messaging": [
				{
					"sender": {"id": "USER_1"},
					"recipient": {"id": "PAGE_ID"},
					"timestamp": 1458692752478,
					"message": {"mid": "mid.1", "text": "Stop 555411"}
				},
				{
					"sender": {"id": "USER_2"},
					"recipient": {"id": "PAGE_ID"},
					"timestamp": 1458692752479,
					"message": {"mid": "mid.2", "attachments": [{"type": "image", "payload": {"url": "https://example.com/cat.gif"}}]}
				}
			]
		},
		{
			"id": "PAGE_ID",
			"time": 1458692752480,
			"messaging": [
				{
					"sender": {"id": "USER_3"},
					"recipient": {"id": "PAGE_ID"},
					"timestamp": 1458692752480,
					"postback": {"title": "Get Started", "payload": "GET_STARTED"}
				},
				{
					"sender": {"id": "USER_4"},
					"recipient": {"id": "PAGE_ID"},
					"timestamp": 1458692752481,
					"delivery": {"mids": ["mid.9"], "watermark": 1458668856253}
				},
				{
					"sender": {"id": "PAGE_ID"},
					"recipient": {"id": "USER_1"},
					"timestamp": 1458692752482,
					"message": {"mid": "mid.3", "is_echo": true, "text": "A 46A bus is arriving now!"}
				}
			]
		}
	]
}`

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, defaultSecrets())
	require.Error(t, err)

	_, err = NewHandler(&stubDispatcher{}, nil)
	require.Error(t, err)
}

func TestHandle_Health(t *testing.T) {
	h := newTestHandler(t, &stubDispatcher{})
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "The busbot is online!", resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_Verify(t *testing.T) {
	cases := []struct {
		name   string
		query  map[string]string
		status int
		body   string
	}{
		{name: "valid", query: map[string]string{"hub.mode": "subscribe", "hub.verify_token": "verify-me", "hub.challenge": "1158201444"}, status: http.StatusOK, body: "1158201444"},
		{name: "wrong token", query: map[string]string{"hub.mode": "subscribe", "hub.verify_token": "nope", "hub.challenge": "1"}, status: http.StatusForbidden, body: "Error, wrong token"},
		{name: "wrong mode", query: map[string]string{"hub.mode": "unsubscribe", "hub.verify_token": "verify-me", "hub.challenge": "1"}, status: http.StatusForbidden, body: "Error, wrong token"},
		{name: "missing token", query: map[string]string{"hub.challenge": "1"}, status: http.StatusForbidden, body: "Error, wrong token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubDispatcher{})
			resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
				HTTPMethod:            http.MethodGet,
				Path:                  "/webhook/",
				QueryStringParameters: tc.query,
			})
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.body, resp.Body)
		})
	}
}

func TestHandle_VerifySecretUnavailable(t *testing.T) {
	h, err := NewHandler(&stubDispatcher{}, stubSecrets{})
	require.NoError(t, err)
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/webhook"})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandle_DecodesBatchInOrder(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d)

	resp, err := h.Handle(context.Background(), postEvent(batchedNotification))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "EVENT_RECEIVED", resp.Body)

	require.Len(t, d.batches, 1)
	require.Equal(t, []domain.InboundEvent{
		{SenderID: "USER_1", RecipientID: "PAGE_ID", Timestamp: 1458692752478, Payload: domain.TextMessage{MessageID: "mid.1", Text: "Stop 555411"}},
		{SenderID: "USER_2", RecipientID: "PAGE_ID", Timestamp: 1458692752479, Payload: domain.AttachmentMessage{
			MessageID:   "mid.2",
			Attachments: []domain.Attachment{{Type: "image", URL: "https://example.com/cat.gif"}},
		}},
		{SenderID: "USER_3", RecipientID: "PAGE_ID", Timestamp: 1458692752480, Payload: domain.Postback{Payload: "GET_STARTED", Title: "Get Started"}},
		{SenderID: "USER_4", RecipientID: "PAGE_ID", Timestamp: 1458692752481},
		{SenderID: "PAGE_ID", RecipientID: "USER_1", Timestamp: 1458692752482},
	}, d.batches[0])
}

func TestHandle_EmptyTextIsStillText(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d)

	_, err := h.Handle(context.Background(), postEvent(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"U"},"message":{"mid":"m","text":""}}]}]}`))
	require.NoError(t, err)
	require.Equal(t, domain.TextMessage{MessageID: "m", Text: ""}, d.events()[0].Payload)
}

func TestHandle_RejectsBadRequests(t *testing.T) {
	cases := []struct {
		name   string
		req    events.APIGatewayProxyRequest
		status int
		code   string
	}{
		{name: "malformed json", req: postEvent(`not-json`), status: http.StatusBadRequest, code: errorInvalidInput},
		{name: "not a page", req: postEvent(`{"object":"instagram","entry":[]}`), status: http.StatusNotFound, code: errorNotFound},
		{name: "bad base64", req: events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Path: "/webhook", Body: "%%%", IsBase64Encoded: true}, status: http.StatusBadRequest, code: errorInvalidInput},
		{name: "unknown route", req: events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/admin"}, status: http.StatusNotFound, code: errorNotFound},
		{name: "wrong method", req: events.APIGatewayProxyRequest{HTTPMethod: http.MethodDelete, Path: "/webhook"}, status: http.StatusMethodNotAllowed, code: errorMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &stubDispatcher{}
			h := newTestHandler(t, d)
			resp, err := h.Handle(context.Background(), tc.req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			var out errorResponse
			require.NoError(t, json.Unmarshal([]byte(resp.Body), &out))
			require.Equal(t, tc.code, out.Error)
			require.Empty(t, d.events())
		})
	}
}

func TestHandle_Base64Body(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d)

	req := postEvent(base64.StdEncoding.EncodeToString([]byte(batchedNotification)))
	req.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, d.events(), 5)
}

func TestHandle_SignatureVerification(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, WithSignatureVerification(true))

	req := postEvent(batchedNotification)
	req.Headers["x-hub-signature-256"] = sign("app-secret", batchedNotification)
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, d.events(), 5)

	for _, bad := range []string{"", "sha256=zz", sign("other-secret", batchedNotification), strings.TrimPrefix(sign("app-secret", batchedNotification), "sha256=")} {
		req := postEvent(batchedNotification)
		req.Headers["X-Hub-Signature-256"] = bad
		resp, err := h.Handle(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, "signature=%q", bad)
	}
	require.Len(t, d.events(), 5)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubDispatcher{})

	req := postEvent(batchedNotification)
	req.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_AsyncAcknowledgesBeforeDispatch(t *testing.T) {
	d := &stubDispatcher{block: make(chan struct{})}
	h := newTestHandler(t, d, WithAsyncDispatch(true))

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := h.Handle(ctx, postEvent(batchedNotification))
	cancel()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, d.events())

	close(d.block)
	h.Wait()
	require.Len(t, d.events(), 5)
}

func TestServeHTTP_Verify(t *testing.T) {
	h := newTestHandler(t, &stubDispatcher{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEmpty(t, res.Header.Get("X-Correlation-Id"))
}

func TestServeHTTP_Post(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d)
	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(batchedNotification))
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, d.events(), 5)
}
