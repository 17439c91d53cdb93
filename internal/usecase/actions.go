package usecase

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"lifebot-chat/internal/conversation"
	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/escalation"
	"lifebot-chat/internal/ticket"
)

const (
	actionQuery   = "query"
	actionFlag    = "flag"
	actionRaise   = "raise"
	actionResolve = "resolve"

	emptyAnswerFallback = "I'm sorry, I couldn't process your request."
)

// SendMessage asks the bot a question in a fresh chat. Any conversation the
// session was viewing is cleared first. botID 0 means the session's bot.
func (s *ChatService) SendMessage(ctx context.Context, req Request, botID int64, question string) (ThreadOutput, error) {
	if err := s.validate(req); err != nil {
		return ThreadOutput{}, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return ThreadOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if botID < 0 {
		return ThreadOutput{}, newError(ErrorInvalidInput, "invalid_bot_id", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ThreadOutput{}, newError(ErrorInternal, "param_load_error", err)
	}

	var out ThreadOutput
	err := s.withAction(ctx, req.SessionID, actionQuery, func() error {
		if botID == 0 {
			cur, err := s.sessions.Current(ctx, req.SessionID)
			if err != nil {
				return newError(ErrorInternal, "session_read_error", err)
			}
			botID = cur.BotID
		}
		if botID == 0 {
			return newError(ErrorInvalidInput, "no_bot_selected", nil)
		}

		sel, err := s.sessions.Advance(ctx, req.SessionID, domain.SelectionChange{BotID: botID, SetBot: true})
		if err != nil {
			return newError(ErrorInternal, "session_write_error", err)
		}

		asked := now()
		answer, err := s.backend.Query(ctx, req.Creds, botID, question)
		if err != nil {
			s.logger.ErrorContext(ctx, "bot query failed",
				slog.String("session_id", req.SessionID), slog.Int64("bot_id", botID), slog.Any("err", err))
			return upstreamError("query_failed", err)
		}
		if strings.TrimSpace(answer) == "" {
			answer = emptyAnswerFallback
		}

		phrase, _ := s.settings()
		user := domain.DisplayMessage{
			ID:         newUUID(),
			Role:       domain.RoleUser,
			Text:       question,
			Timestamp:  asked,
			Escalation: domain.EscalationNone,
		}
		ai := escalation.Annotate(domain.DisplayMessage{
			ID:        newUUID(),
			Role:      domain.RoleAI,
			Text:      answer,
			Timestamp: now(),
		}, ticket.Correlation{}, phrase)

		if err := s.ensureCurrent(ctx, req.SessionID, sel.Token); err != nil {
			return err
		}
		out = ThreadOutput{
			SelectionToken: sel.Token,
			Messages:       []domain.DisplayMessage{user, ai},
		}
		return nil
	})
	if err != nil {
		return ThreadOutput{}, err
	}
	return out, nil
}

// FlagInput describes a request for human assistance.
type FlagInput struct {
	// ConversationID is the conversation being flagged. Empty means the
	// session's open conversation, if any.
	ConversationID string
	Topic          string
	Description    string
	// Message is the live AI answer being flagged when no stored
	// conversation is open, as echoed back by the client. It is returned
	// re-annotated against the new ticket.
	Message *domain.DisplayMessage
}

// FlagForAssistance opens a ticket for the flagged conversation, rebuilds the
// conversation against the refreshed ticket list and appends a confirmation.
func (s *ChatService) FlagForAssistance(ctx context.Context, req Request, in FlagInput) (ThreadOutput, error) {
	if err := s.validate(req); err != nil {
		return ThreadOutput{}, err
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return ThreadOutput{}, newError(ErrorInvalidInput, "empty_topic", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ThreadOutput{}, newError(ErrorInternal, "param_load_error", err)
	}

	var out ThreadOutput
	err := s.withAction(ctx, req.SessionID, actionFlag, func() error {
		sel, err := s.sessions.Current(ctx, req.SessionID)
		if err != nil {
			return newError(ErrorInternal, "session_read_error", err)
		}
		conversationID := strings.TrimSpace(in.ConversationID)
		if conversationID == "" {
			conversationID = sel.ConversationID
		}

		phrase, _ := s.settings()
		var live *domain.DisplayMessage
		switch {
		case conversationID != "":
			if err := s.ensureFlaggable(ctx, req, conversationID); err != nil {
				return err
			}
		case in.Message != nil:
			m := escalation.Annotate(domain.DisplayMessage{
				ID:        in.Message.ID,
				Role:      domain.RoleAI,
				Text:      in.Message.Text,
				Timestamp: in.Message.Timestamp,
			}, ticket.Correlation{}, phrase)
			if _, ok := escalation.Next(m.Escalation, escalation.EventFlag); !ok {
				return newError(ErrorInvalidInput, "message_not_flaggable", nil)
			}
			live = &m
		}

		created, err := s.backend.CreateTicket(ctx, req.Creds, topic, strings.TrimSpace(in.Description))
		if err != nil {
			s.logger.ErrorContext(ctx, "create ticket failed",
				slog.String("session_id", req.SessionID), slog.Any("err", err))
			return upstreamError("create_ticket_failed", err)
		}
		s.logger.InfoContext(ctx, "conversation flagged",
			slog.String("session_id", req.SessionID),
			slog.String("conversation_id", conversationID),
			slog.Int64("ticket_id", created.ID))

		out = ThreadOutput{
			SelectionToken: sel.Token,
			ConversationID: conversationID,
			Ticket:         &created,
		}
		if conversationID == "" {
			tickets, notices, err := s.refreshTickets(ctx, req.Creds)
			if err != nil {
				return err
			}
			out.Tickets, out.Notices = tickets, notices
			out.Messages = []domain.DisplayMessage{}
			if live != nil {
				corr := ticket.Correlation{Match: ticket.MatchTemporal, TicketID: created.ID}
				out.Messages = append(out.Messages, escalation.Annotate(*live, corr, phrase))
			}
		} else {
			src, err := s.fetchSources(ctx, req.Creds)
			if err != nil {
				return err
			}
			out.Tickets = nonNilTickets(src.tickets)
			out.Notices = src.notices
			out.Messages = s.buildThread(src.records, conversationID, src.tickets)
		}
		out.Messages = append(out.Messages, escalation.Confirmation(newUUID(), created.ID, now()))
		return nil
	})
	if err != nil {
		return ThreadOutput{}, err
	}
	return out, nil
}

// ensureFlaggable rejects a flag on a conversation whose answer does not
// offer escalation. When the conversation cannot be loaded the check is
// skipped and the backend decides.
func (s *ChatService) ensureFlaggable(ctx context.Context, req Request, conversationID string) error {
	src, err := s.fetchSources(ctx, req.Creds)
	if err != nil {
		return err
	}
	if len(src.notices) > 0 {
		return nil
	}
	if _, ok := conversation.Find(src.records, conversationID); !ok {
		return newError(ErrorNotFound, "conversation_not_found", nil)
	}
	for _, m := range s.buildThread(src.records, conversationID, src.tickets) {
		if m.Role != domain.RoleAI {
			continue
		}
		if _, ok := escalation.Next(m.Escalation, escalation.EventFlag); ok {
			return nil
		}
	}
	return newError(ErrorInvalidInput, "conversation_not_flaggable", nil)
}

// TicketOutput is the result of a standalone ticket action.
type TicketOutput struct {
	Ticket  domain.Ticket
	Tickets []domain.Ticket
	Notices []domain.Notice
}

// RaiseTicket opens a support ticket that is not tied to a flagged answer.
func (s *ChatService) RaiseTicket(ctx context.Context, req Request, topic, description string) (TicketOutput, error) {
	if err := s.validate(req); err != nil {
		return TicketOutput{}, err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return TicketOutput{}, newError(ErrorInvalidInput, "empty_topic", nil)
	}

	var out TicketOutput
	err := s.withAction(ctx, req.SessionID, actionRaise, func() error {
		created, err := s.backend.CreateTicket(ctx, req.Creds, topic, strings.TrimSpace(description))
		if err != nil {
			s.logger.ErrorContext(ctx, "create ticket failed",
				slog.String("session_id", req.SessionID), slog.Any("err", err))
			return upstreamError("create_ticket_failed", err)
		}
		tickets, notices, err := s.refreshTickets(ctx, req.Creds)
		if err != nil {
			return err
		}
		out = TicketOutput{Ticket: created, Tickets: tickets, Notices: notices}
		return nil
	})
	if err != nil {
		return TicketOutput{}, err
	}
	return out, nil
}

// ResolveInput identifies the ticket to resolve and the conversation to
// rebuild afterwards. Empty ConversationID means the session's open one.
type ResolveInput struct {
	TicketID       int64
	ConversationID string
}

// ResolveTicket marks a ticket resolved and rebuilds the open conversation so
// its answer shows the resolved reference.
func (s *ChatService) ResolveTicket(ctx context.Context, req Request, in ResolveInput) (ThreadOutput, error) {
	if err := s.validate(req); err != nil {
		return ThreadOutput{}, err
	}
	if in.TicketID <= 0 {
		return ThreadOutput{}, newError(ErrorInvalidInput, "invalid_ticket_id", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ThreadOutput{}, newError(ErrorInternal, "param_load_error", err)
	}

	action := actionResolve + ":" + strconv.FormatInt(in.TicketID, 10)
	var out ThreadOutput
	err := s.withAction(ctx, req.SessionID, action, func() error {
		current, _, err := s.refreshTickets(ctx, req.Creds)
		if err != nil {
			return err
		}
		for _, t := range current {
			if t.ID != in.TicketID {
				continue
			}
			if _, ok := escalation.Next(escalation.TicketState(t), escalation.EventResolve); !ok {
				return newError(ErrorInvalidInput, "ticket_already_resolved", nil)
			}
		}

		resolved, err := s.backend.ResolveTicket(ctx, req.Creds, in.TicketID)
		if err != nil {
			s.logger.ErrorContext(ctx, "resolve ticket failed",
				slog.String("session_id", req.SessionID), slog.Int64("ticket_id", in.TicketID), slog.Any("err", err))
			return upstreamError("resolve_ticket_failed", err)
		}

		sel, err := s.sessions.Current(ctx, req.SessionID)
		if err != nil {
			return newError(ErrorInternal, "session_read_error", err)
		}
		conversationID := strings.TrimSpace(in.ConversationID)
		if conversationID == "" {
			conversationID = sel.ConversationID
		}

		src, err := s.fetchSources(ctx, req.Creds)
		if err != nil {
			return err
		}
		out = ThreadOutput{
			SelectionToken: sel.Token,
			ConversationID: conversationID,
			Messages:       []domain.DisplayMessage{},
			Notices:        src.notices,
			Ticket:         &resolved,
			Tickets:        nonNilTickets(src.tickets),
		}
		if conversationID != "" {
			out.Messages = s.buildThread(src.records, conversationID, src.tickets)
		}
		return nil
	})
	if err != nil {
		return ThreadOutput{}, err
	}
	return out, nil
}

func nonNilTickets(t []domain.Ticket) []domain.Ticket {
	if t == nil {
		return []domain.Ticket{}
	}
	return t
}
