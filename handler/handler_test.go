package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/usecase"
)

type stubUseCase struct {
	thread  usecase.ThreadOutput
	convs   usecase.ConversationsOutput
	tickets usecase.TicketsOutput
	ticket  usecase.TicketOutput
	bots    usecase.BotsOutput
	sel     domain.Selection
	err     error

	req            usecase.Request
	conversationID string
	botID          int64
	question       string
	flag           usecase.FlagInput
	resolve        usecase.ResolveInput
	topic          string
	description    string
}

func (s *stubUseCase) ListConversations(_ context.Context, req usecase.Request) (usecase.ConversationsOutput, error) {
	s.req = req
	return s.convs, s.err
}

func (s *stubUseCase) SelectConversation(_ context.Context, req usecase.Request, id string) (usecase.ThreadOutput, error) {
	s.req, s.conversationID = req, id
	return s.thread, s.err
}

func (s *stubUseCase) NewConversation(_ context.Context, req usecase.Request) (domain.Selection, error) {
	s.req = req
	return s.sel, s.err
}

func (s *stubUseCase) ListBots(_ context.Context, req usecase.Request) (usecase.BotsOutput, error) {
	s.req = req
	return s.bots, s.err
}

func (s *stubUseCase) SelectBot(_ context.Context, req usecase.Request, botID int64) (domain.Selection, error) {
	s.req, s.botID = req, botID
	return s.sel, s.err
}

func (s *stubUseCase) SendMessage(_ context.Context, req usecase.Request, botID int64, question string) (usecase.ThreadOutput, error) {
	s.req, s.botID, s.question = req, botID, question
	return s.thread, s.err
}

func (s *stubUseCase) FlagForAssistance(_ context.Context, req usecase.Request, in usecase.FlagInput) (usecase.ThreadOutput, error) {
	s.req, s.flag = req, in
	return s.thread, s.err
}

func (s *stubUseCase) ListTickets(_ context.Context, req usecase.Request) (usecase.TicketsOutput, error) {
	s.req = req
	return s.tickets, s.err
}

func (s *stubUseCase) RaiseTicket(_ context.Context, req usecase.Request, topic, description string) (usecase.TicketOutput, error) {
	s.req, s.topic, s.description = req, topic, description
	return s.ticket, s.err
}

func (s *stubUseCase) ResolveTicket(_ context.Context, req usecase.Request, in usecase.ResolveInput) (usecase.ThreadOutput, error) {
	s.req, s.resolve = req, in
	return s.thread, s.err
}

func bearer(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func makeEvent(t *testing.T, method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": bearer(t),
			"X-Session-Id":  "sess-1",
		},
		Body: body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, uc ChatUseCase) *Handler {
	t.Helper()
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_SelectConversation(t *testing.T) {
	tid := int64(42)
	uc := &stubUseCase{thread: usecase.ThreadOutput{
		SelectionToken: 3,
		ConversationID: "5",
		Messages: []domain.DisplayMessage{
			{ID: "5-question", Role: domain.RoleUser, Text: "hi", Escalation: domain.EscalationNone},
			{ID: "5-answer", Role: domain.RoleAI, Text: "hello (Ticket #42)", TicketID: &tid, ShowResolveButton: true, Escalation: domain.EscalationOpen},
		},
	}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodGet, "/v1/conversations/5", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "5", uc.conversationID)
	require.Equal(t, "sess-1", uc.req.SessionID)
	require.True(t, uc.req.Creds.Valid())

	out := parseBody[threadResponse](t, resp.Body)
	require.Equal(t, int64(3), out.SelectionToken)
	require.Len(t, out.Messages, 2)
	require.Equal(t, domain.EscalationOpen, out.Messages[1].Escalation)
	require.Equal(t, int64(42), *out.Messages[1].TicketID)
	require.Equal(t, "sess-1", resp.Headers["X-Session-Id"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesSessionID(t *testing.T) {
	uc := &stubUseCase{convs: usecase.ConversationsOutput{Conversations: []domain.ConversationSummary{}}}
	h := newTestHandler(t, uc)

	event := makeEvent(t, http.MethodGet, "/v1/conversations", "")
	delete(event.Headers, "X-Session-Id")
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, uc.req.SessionID)
	require.Equal(t, uc.req.SessionID, resp.Headers["X-Session-Id"])
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	event := makeEvent(t, http.MethodGet, "/v1/tickets", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_SendMessage(t *testing.T) {
	uc := &stubUseCase{thread: usecase.ThreadOutput{SelectionToken: 1}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/bots/7/messages", `{"question":"How do I sleep better?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(7), uc.botID)
	require.Equal(t, "How do I sleep better?", uc.question)

	out := parseBody[threadResponse](t, resp.Body)
	require.NotNil(t, out.Messages)
}

func TestHandle_FlagCurrentConversation(t *testing.T) {
	uc := &stubUseCase{}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/conversations/current/flag", `{"topic":"Diet","description":"need a nutritionist"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, usecase.FlagInput{Topic: "Diet", Description: "need a nutritionist"}, uc.flag)

	_, err = h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/conversations/12/flag", `{"topic":"Diet"}`))
	require.NoError(t, err)
	require.Equal(t, "12", uc.flag.ConversationID)
}

func TestHandle_TicketRoutes(t *testing.T) {
	uc := &stubUseCase{ticket: usecase.TicketOutput{Ticket: domain.Ticket{ID: 9, Topic: "Billing"}, Tickets: []domain.Ticket{{ID: 9}}}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/tickets", `{"topic":"Billing"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "Billing", uc.topic)
	out := parseBody[ticketsResponse](t, resp.Body)
	require.Equal(t, int64(9), out.Ticket.ID)

	resp, err = h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/tickets/9/resolve", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ResolveInput{TicketID: 9}, uc.resolve)

	resp, err = h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/tickets/abc/resolve", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_path_id", parseBody[errorResponse](t, resp.Body).Reason)
}

func TestHandle_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/bots/1/messages", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json_body", out.Reason)
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodGet, "/v2/nothing", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unauthenticated", err: &usecase.Error{Code: usecase.ErrorUnauthenticated, Reason: "invalid_credentials"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthenticated)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "conversation_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "in flight", err: &usecase.Error{Code: usecase.ErrorActionInFlight, Reason: "query_in_flight"}, status: http.StatusConflict, code: string(usecase.ErrorActionInFlight)},
		{name: "stale", err: &usecase.Error{Code: usecase.ErrorStaleSelection, Reason: "selection_superseded"}, status: http.StatusConflict, code: string(usecase.ErrorStaleSelection)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "query_failed"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "query_failed"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_write_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubUseCase{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/bots/1/messages", `{"question":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, resp.Headers["X-Correlation-Id"], out.CorrelationID)
		})
	}
}

func TestServeHTTP_ListBots(t *testing.T) {
	uc := &stubUseCase{bots: usecase.BotsOutput{Bots: []domain.Bot{{ID: 1, Name: "Coach"}}, SelectedBotID: 1}}
	h := newTestHandler(t, uc)

	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/bots", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))
	var out botsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, int64(1), out.SelectedBotID)
	require.Len(t, out.Bots, 1)
}

func TestHandle_FlagLiveMessage(t *testing.T) {
	uc := &stubUseCase{}
	h := newTestHandler(t, uc)

	body := `{"topic":"Nurse","message":{"id":"m-1","text":"I can flag this for human assistance.","timestamp":"2024-05-01T12:00:00Z"}}`
	resp, err := h.Handle(context.Background(), makeEvent(t, http.MethodPost, "/v1/conversations/current/flag", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, uc.flag.Message)
	require.Equal(t, "m-1", uc.flag.Message.ID)
	require.Equal(t, domain.RoleAI, uc.flag.Message.Role)
	require.Equal(t, "I can flag this for human assistance.", uc.flag.Message.Text)
	require.True(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Equal(uc.flag.Message.Timestamp))
}
