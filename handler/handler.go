// Package handler exposes the bot over API Gateway proxy events. The same
// routes are served over plain HTTP in local mode.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"travel-time-bot/internal/domain"
	"travel-time-bot/internal/usecase"
)

const (
	pathMessages     = "/api/messages"
	pathCode         = "/code"
	pathAuth         = "/auth/aadv2"
	pathAuthCallback = "/auth/aadv2/callback"

	correlationHeader = "X-Correlation-Id"
	authHeader        = "Authorization"
	maxBodyBytes      = 1 << 20
)

const codePage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Signed in</title></head>
<body>
<p>You're signed in. You can close this window and return to the conversation.</p>
</body>
</html>
`

type BotService interface {
	HandleActivity(ctx context.Context, a domain.Activity) error
	SignInURL(ctx context.Context, state string) (string, error)
	CompleteSignIn(ctx context.Context, code, state string) error
}

// Authenticator checks that an inbound activity was sent by the channel
// service.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string, activity domain.Activity) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	bot    BotService
	auth   Authenticator
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithAuthenticator requires every /api/messages request to pass a.
func WithAuthenticator(a Authenticator) Option {
	return func(h *Handler) {
		h.auth = a
	}
}

func NewHandler(bot BotService, opts ...Option) (*Handler, error) {
	if bot == nil {
		return nil, errors.New("handler: bot must not be nil")
	}
	h := &Handler{bot: bot, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle is the Lambda entry point.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	resp := h.route(ctx, logger, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	logger.InfoContext(ctx, "request handled", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	path := strings.TrimRight(req.Path, "/")
	switch {
	case path == pathMessages && req.HTTPMethod == http.MethodPost:
		return h.messages(ctx, logger, req)
	case path == pathCode && req.HTTPMethod == http.MethodGet:
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:       codePage,
		}
	case path == pathAuth && req.HTTPMethod == http.MethodGet:
		target, err := h.bot.SignInURL(ctx, req.QueryStringParameters["state"])
		if err != nil {
			return h.fail(ctx, logger, err)
		}
		return redirect(target)
	case path == pathAuthCallback && req.HTTPMethod == http.MethodGet:
		q := req.QueryStringParameters
		if e := q["error"]; e != "" {
			logger.WarnContext(ctx, "provider returned an error", "error", e, "description", q["error_description"])
			return jsonResponse(http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorUnauthorized)})
		}
		if err := h.bot.CompleteSignIn(ctx, q["code"], q["state"]); err != nil {
			return h.fail(ctx, logger, err)
		}
		return redirect(pathCode)
	case path == pathMessages || path == pathCode || path == pathAuth || path == pathAuthCallback:
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}
}

func (h *Handler) messages(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var activity domain.Activity
	if err := json.Unmarshal([]byte(req.Body), &activity); err != nil {
		logger.WarnContext(ctx, "invalid activity body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}
	if h.auth != nil {
		if err := h.auth.Authenticate(ctx, headerValue(req.Headers, authHeader), activity); err != nil {
			logger.WarnContext(ctx, "activity rejected", "err", err, "service_url", activity.ServiceURL)
			return jsonResponse(http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorUnauthorized)})
		}
	}
	logger.DebugContext(ctx, "activity received", "type", activity.Type, "channel", activity.ChannelID, "conversation", activity.Conversation.ID)
	if err := h.bot.HandleActivity(ctx, activity); err != nil {
		return h.fail(ctx, logger, err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusAccepted}
}

func (h *Handler) fail(ctx context.Context, logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "code", code, "err", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "code", code, "err", err)
	}
	return jsonResponse(status, errorResponse{Error: code})
}

func mapError(err error) (int, string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, string(ucErr.Code)
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized, string(ucErr.Code)
	case usecase.ErrorConflict:
		return http.StatusConflict, string(ucErr.Code)
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, string(ucErr.Code)
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(raw),
	}
}

func redirect(location string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": location},
	}
}

// headerValue looks a header up case-insensitively; API Gateway preserves the
// client's casing.
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

// ServeHTTP adapts the handler to net/http for local runs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	req := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               map[string]string{},
		QueryStringParameters: map[string]string{},
		Body:                  string(body),
	}
	for k := range r.Header {
		req.Headers[k] = r.Header.Get(k)
	}
	for k := range r.URL.Query() {
		req.QueryStringParameters[k] = r.URL.Query().Get(k)
	}

	resp, _ := h.Handle(r.Context(), req)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
