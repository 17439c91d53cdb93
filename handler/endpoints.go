package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lifebot-chat/internal/auth"
	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/usecase"
)

// currentConversation addresses the conversation the session has open.
const currentConversation = "current"

type messageRequest struct {
	Question string `json:"question"`
}

type ticketRequest struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

type liveMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type flagRequest struct {
	Topic       string       `json:"topic"`
	Description string       `json:"description"`
	Message     *liveMessage `json:"message,omitempty"`
}

type resolveRequest struct {
	ConversationID string `json:"conversationId"`
}

type threadResponse struct {
	SelectionToken int64                   `json:"selectionToken"`
	ConversationID string                  `json:"conversationId,omitempty"`
	Messages       []domain.DisplayMessage `json:"messages"`
	Notices        []domain.Notice         `json:"notices,omitempty"`
	Ticket         *domain.Ticket          `json:"ticket,omitempty"`
	Tickets        []domain.Ticket         `json:"tickets,omitempty"`
}

type conversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	Notices       []domain.Notice              `json:"notices,omitempty"`
}

type ticketsResponse struct {
	Ticket  *domain.Ticket  `json:"ticket,omitempty"`
	Tickets []domain.Ticket `json:"tickets"`
	Notices []domain.Notice `json:"notices,omitempty"`
}

type botsResponse struct {
	Bots          []domain.Bot    `json:"bots"`
	SelectedBotID int64           `json:"selectedBotId,omitempty"`
	Notices       []domain.Notice `json:"notices,omitempty"`
}

type selectionResponse struct {
	SelectionToken int64  `json:"selectionToken"`
	ConversationID string `json:"conversationId,omitempty"`
	BotID          int64  `json:"botId,omitempty"`
}

func newThreadResponse(out usecase.ThreadOutput) threadResponse {
	msgs := out.Messages
	if msgs == nil {
		msgs = []domain.DisplayMessage{}
	}
	return threadResponse{
		SelectionToken: out.SelectionToken,
		ConversationID: out.ConversationID,
		Messages:       msgs,
		Notices:        out.Notices,
		Ticket:         out.Ticket,
		Tickets:        out.Tickets,
	}
}

func newSelectionResponse(sel domain.Selection) selectionResponse {
	return selectionResponse{SelectionToken: sel.Token, ConversationID: sel.ConversationID, BotID: sel.BotID}
}

func chatRequest(r *http.Request) usecase.Request {
	return usecase.Request{
		SessionID: sessionID(r.Context()),
		Creds:     auth.FromAuthorizationHeader(r.Header.Get("Authorization")),
	}
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	out, err := h.uc.ListConversations(r.Context(), chatRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: out.Conversations, Notices: out.Notices})
}

func (h *Handler) selectConversation(w http.ResponseWriter, r *http.Request) {
	out, err := h.uc.SelectConversation(r.Context(), chatRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newThreadResponse(out))
}

func (h *Handler) newConversation(w http.ResponseWriter, r *http.Request) {
	sel, err := h.uc.NewConversation(r.Context(), chatRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSelectionResponse(sel))
}

func (h *Handler) flagForAssistance(w http.ResponseWriter, r *http.Request) {
	var body flagRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	conversationID := chi.URLParam(r, "id")
	if strings.EqualFold(conversationID, currentConversation) {
		conversationID = ""
	}
	in := usecase.FlagInput{
		ConversationID: conversationID,
		Topic:          body.Topic,
		Description:    body.Description,
	}
	if body.Message != nil {
		in.Message = &domain.DisplayMessage{
			ID:        body.Message.ID,
			Role:      domain.RoleAI,
			Text:      body.Message.Text,
			Timestamp: body.Message.Timestamp,
		}
	}
	out, err := h.uc.FlagForAssistance(r.Context(), chatRequest(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newThreadResponse(out))
}

func (h *Handler) listBots(w http.ResponseWriter, r *http.Request) {
	out, err := h.uc.ListBots(r.Context(), chatRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, botsResponse{Bots: out.Bots, SelectedBotID: out.SelectedBotID, Notices: out.Notices})
}

func (h *Handler) selectBot(w http.ResponseWriter, r *http.Request) {
	botID, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sel, err := h.uc.SelectBot(r.Context(), chatRequest(r), botID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSelectionResponse(sel))
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	botID, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body messageRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.uc.SendMessage(r.Context(), chatRequest(r), botID, body.Question)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newThreadResponse(out))
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	out, err := h.uc.ListTickets(r.Context(), chatRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketsResponse{Tickets: out.Tickets, Notices: out.Notices})
}

func (h *Handler) raiseTicket(w http.ResponseWriter, r *http.Request) {
	var body ticketRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.uc.RaiseTicket(r.Context(), chatRequest(r), body.Topic, body.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticketsResponse{Ticket: &out.Ticket, Tickets: out.Tickets, Notices: out.Notices})
}

func (h *Handler) resolveTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body resolveRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.uc.ResolveTicket(r.Context(), chatRequest(r), usecase.ResolveInput{
		TicketID:       ticketID,
		ConversationID: body.ConversationID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newThreadResponse(out))
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_path_id", Err: err}
	}
	return id, nil
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json_body", Err: err}
	}
	return nil
}
