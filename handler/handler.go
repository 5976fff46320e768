package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"busbot/internal/domain"
	"busbot/internal/integrations/paramstore"
	"busbot/internal/logger"
	"busbot/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	signatureHeader   = "X-Hub-Signature-256"
	signaturePrefix   = "sha256="

	healthText     = "The busbot is online!"
	wrongTokenText = "Error, wrong token"
	ackText        = "EVENT_RECEIVED"
)

const (
	errorInvalidInput     = "INVALID_INPUT"
	errorForbidden        = "FORBIDDEN"
	errorNotFound         = "NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
	errorInternal         = "INTERNAL_ERROR"
)

type Dispatcher interface {
	DispatchBatch(ctx context.Context, events []domain.InboundEvent) []usecase.Outcome
}

type SecretSource interface {
	Secret(ctx context.Context, key string) (string, error)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handler serves the Messenger webhook: subscription verification on GET and
// event notifications on POST.
type Handler struct {
	dispatcher       Dispatcher
	secrets          SecretSource
	verifySignatures bool
	async            bool
	log              *slog.Logger

	inflight sync.WaitGroup
}

type Option func(*Handler)

// WithSignatureVerification rejects notifications whose X-Hub-Signature-256
// does not match the app secret.
func WithSignatureVerification(enabled bool) Option {
	return func(h *Handler) {
		h.verifySignatures = enabled
	}
}

// WithAsyncDispatch acknowledges notifications before their events are
// handled. Only useful for long-lived servers; Lambda freezes after return.
func WithAsyncDispatch(enabled bool) Option {
	return func(h *Handler) {
		h.async = enabled
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

func NewHandler(d Dispatcher, secrets SecretSource, opts ...Option) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("handler: secret source must not be nil")
	}
	h := &Handler{
		dispatcher: d,
		secrets:    secrets,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "handler")
	return h, nil
}

// Handle is the API Gateway proxy entry point.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := strings.TrimSpace(headerValue(req.Headers, correlationHeader))
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.log.With("correlation_id", corrID)
	ctx = logger.IntoContext(ctx, log)

	switch route := normalizePath(req.Path); {
	case route == "/" && req.HTTPMethod == http.MethodGet:
		return textResponse(http.StatusOK, healthText, corrID), nil
	case route == "/webhook" && req.HTTPMethod == http.MethodGet:
		return h.verify(ctx, log, req, corrID), nil
	case route == "/webhook" && req.HTTPMethod == http.MethodPost:
		return h.receive(ctx, log, req, corrID), nil
	case route == "/webhook" || route == "/":
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: errorMethodNotAllowed}, corrID), nil
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: errorNotFound}, corrID), nil
	}
}

// Wait blocks until background dispatches started by async mode finish.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) verify(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	expected, err := h.secrets.Secret(ctx, paramstore.VerifyToken)
	if err != nil {
		log.Error("Failed to resolve verify token", "error", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: errorInternal}, corrID)
	}

	mode := q["hub.mode"]
	token := q["hub.verify_token"]
	if (mode != "" && mode != "subscribe") || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		log.Warn("Webhook verification failed", "mode", mode)
		return textResponse(http.StatusForbidden, wrongTokenText, corrID)
	}
	log.Info("Webhook verified")
	return textResponse(http.StatusOK, q["hub.challenge"], corrID)
}

func (h *Handler) receive(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: errorInvalidInput, Message: "body is not valid base64"}, corrID)
		}
		body = decoded
	}

	if h.verifySignatures {
		ok, err := h.signatureValid(ctx, body, headerValue(req.Headers, signatureHeader))
		if err != nil {
			log.Error("Failed to resolve app secret", "error", err)
			return jsonResponse(http.StatusInternalServerError, errorResponse{Error: errorInternal}, corrID)
		}
		if !ok {
			log.Warn("Rejected notification with bad signature")
			return jsonResponse(http.StatusForbidden, errorResponse{Error: errorForbidden, Message: "signature mismatch"}, corrID)
		}
	}

	n, err := decodeNotification(body)
	if err != nil {
		log.Warn("Malformed notification", "error", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: errorInvalidInput}, corrID)
	}
	if n.Object != pageObject {
		log.Warn("Ignoring non-page notification", "object", n.Object)
		return jsonResponse(http.StatusNotFound, errorResponse{Error: errorNotFound}, corrID)
	}
	for _, e := range n.Entry {
		log.Debug("Notification entry", "page_id", e.ID, "time", e.Time, "events", len(e.Messaging))
	}

	batch := n.inboundEvents()
	if h.async {
		h.inflight.Add(1)
		go func() {
			defer h.inflight.Done()
			h.dispatch(context.WithoutCancel(ctx), log, batch)
		}()
	} else {
		h.dispatch(ctx, log, batch)
	}
	return textResponse(http.StatusOK, ackText, corrID)
}

func (h *Handler) dispatch(ctx context.Context, log *slog.Logger, batch []domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Dispatch panicked", "panic", r)
		}
	}()
	outcomes := h.dispatcher.DispatchBatch(ctx, batch)
	sent, failed := 0, 0
	for _, o := range outcomes {
		sent += o.Sent
		failed += o.Failed
	}
	log.Info("Notification processed", "events", len(batch), "sent", sent, "failed_sends", failed)
}

func (h *Handler) signatureValid(ctx context.Context, body []byte, header string) (bool, error) {
	secret, err := h.secrets.Secret(ctx, paramstore.AppSecret)
	if err != nil {
		return false, err
	}
	got, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false, nil
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false, nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil)), nil
}

func normalizePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	return p
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func textResponse(status int, body, corrID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			correlationHeader: corrID,
		},
		Body: body,
	}
}

func jsonResponse(status int, v any, corrID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"` + errorInternal + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}
