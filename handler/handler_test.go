package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"travel-time-bot/internal/domain"
	"travel-time-bot/internal/usecase"
)

type stubBot struct {
	activity domain.Activity
	code     string
	state    string
	url      string
	err      error
}

func (s *stubBot) HandleActivity(_ context.Context, a domain.Activity) error {
	s.activity = a
	return s.err
}

func (s *stubBot) SignInURL(_ context.Context, state string) (string, error) {
	s.state = state
	return s.url, s.err
}

func (s *stubBot) CompleteSignIn(_ context.Context, code, state string) error {
	s.code, s.state = code, state
	return s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_MessageAccepted(t *testing.T) {
	bot := &stubBot{}
	h, err := NewHandler(bot)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/api/messages",
		`{"type":"message","text":"signin","channelId":"msteams","conversation":{"id":"c1"},"from":{"id":"u1"},"recipient":{"id":"b1"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "signin", bot.activity.Text)
	require.Equal(t, "c1", bot.activity.Conversation.ID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

// stubAuth accepts only the token it was built with.
type stubAuth struct {
	token string
	seen  string
}

func (s *stubAuth) Authenticate(_ context.Context, authorization string, _ domain.Activity) error {
	s.seen = authorization
	if authorization != "Bearer "+s.token {
		return errors.New("bad token")
	}
	return nil
}

func TestHandle_MessagesRequireAuthentication(t *testing.T) {
	const body = `{"type":"trigger","channelId":"msteams","serviceUrl":"https://attacker.example","conversation":{"id":"c1"},"value":{"action":"NOTIFICATION_RECEIVED"}}`

	t.Run("unsigned request is rejected", func(t *testing.T) {
		bot := &stubBot{}
		h, err := NewHandler(bot, WithAuthenticator(&stubAuth{token: "good"}))
		require.NoError(t, err)

		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/api/messages", body))
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, string(usecase.ErrorUnauthorized), parseBody[errorResponse](t, resp.Body).Error)
		require.Empty(t, bot.activity.Conversation.ID, "bot must not see the activity")
	})

	t.Run("signed request is handled", func(t *testing.T) {
		bot := &stubBot{}
		auth := &stubAuth{token: "good"}
		h, err := NewHandler(bot, WithAuthenticator(auth))
		require.NoError(t, err)

		ev := makeEvent(http.MethodPost, "/api/messages", body)
		ev.Headers["authorization"] = "Bearer good"
		resp, err := h.Handle(context.Background(), ev)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Equal(t, "Bearer good", auth.seen)
		require.Equal(t, "c1", bot.activity.Conversation.ID)
	})
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubBot{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/api/messages", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_conversation"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_state"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthorized)},
		{name: "conflict", err: &usecase.Error{Code: usecase.ErrorConflict, Reason: "state_conflict"}, status: http.StatusConflict, code: string(usecase.ErrorConflict)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "send_default_reply"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "dispatch_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubBot{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/api/messages", `{"type":"message"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_SignInRedirectsToProvider(t *testing.T) {
	bot := &stubBot{url: "https://login.example/authorize?state=s1"}
	h, err := NewHandler(bot)
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/auth/aadv2", "")
	event.QueryStringParameters = map[string]string{"state": "s1"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "https://login.example/authorize?state=s1", resp.Headers["Location"])
	require.Equal(t, "s1", bot.state)
}

func TestHandle_CallbackCompletesSignIn(t *testing.T) {
	bot := &stubBot{}
	h, err := NewHandler(bot)
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/auth/aadv2/callback", "")
	event.QueryStringParameters = map[string]string{"code": "abc", "state": "s1"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/code", resp.Headers["Location"])
	require.Equal(t, "abc", bot.code)
	require.Equal(t, "s1", bot.state)
}

func TestHandle_CallbackProviderError(t *testing.T) {
	bot := &stubBot{}
	h, err := NewHandler(bot)
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/auth/aadv2/callback", "")
	event.QueryStringParameters = map[string]string{"error": "access_denied", "state": "s1"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, bot.code)
}

func TestHandle_CodePage(t *testing.T) {
	h, err := NewHandler(&stubBot{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/code", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Headers["Content-Type"], "text/html")
	require.Contains(t, resp.Body, "signed in")
}

func TestHandle_UnknownRouteAndMethod(t *testing.T) {
	h, err := NewHandler(&stubBot{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/nope", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/api/messages", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubBot{})
	require.NoError(t, err)

	event := makeEvent(http.MethodPost, "/api/messages", `{"type":"message"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestServeHTTP_AdaptsRequest(t *testing.T) {
	bot := &stubBot{}
	h, err := NewHandler(bot)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"type":"message","text":"hi"}`))
	req.Header.Set("X-Correlation-Id", "corr-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "corr-9", rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "hi", bot.activity.Text)

	req = httptest.NewRequest(http.MethodGet, "/auth/aadv2/callback?code=c&state=s", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/code", rec.Header().Get("Location"))
	require.Equal(t, "c", bot.code)
}
