package usecase

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"lifebot-chat/internal/auth"
	"lifebot-chat/internal/conversation"
	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/escalation"
	"lifebot-chat/internal/ticket"
)

const (
	noticeConversationsUnavailable = "Your conversations could not be loaded right now."
	noticeTicketsUnavailable       = "Your support tickets could not be loaded right now."
	noticeBotsUnavailable          = "The list of bots could not be loaded right now."
)

// sources holds one consistent fetch of records and tickets.
type sources struct {
	records []domain.InteractionRecord
	tickets []domain.Ticket
	notices []domain.Notice
}

// fetchSources loads records and tickets concurrently and returns once both
// are available. A failed side falls back to an empty set plus a notice. An
// authentication failure on either side cancels the other fetch and aborts
// the request.
func (s *ChatService) fetchSources(ctx context.Context, creds auth.Credentials) (sources, error) {
	var (
		src                    sources
		recordsErr, ticketsErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src.records, recordsErr = s.backend.ListConversations(gctx, creds)
		return authFailure(recordsErr)
	})
	g.Go(func() error {
		src.tickets, ticketsErr = s.backend.ListTickets(gctx, creds)
		return authFailure(ticketsErr)
	})
	if err := g.Wait(); err != nil {
		return sources{}, newError(ErrorUnauthenticated, "backend_rejected_credentials", err)
	}

	if recordsErr != nil {
		src.records = nil
		src.notices = append(src.notices, s.fallback(ctx, "list conversations failed", recordsErr, noticeConversationsUnavailable))
	}
	if ticketsErr != nil {
		src.tickets = nil
		src.notices = append(src.notices, s.fallback(ctx, "list tickets failed", ticketsErr, noticeTicketsUnavailable))
	}
	return src, nil
}

// authFailure passes through only errors that end the whole request.
func authFailure(err error) error {
	if isUnauthorized(err) {
		return err
	}
	return nil
}

func (s *ChatService) fallback(ctx context.Context, msg string, err error, notice string) domain.Notice {
	s.logger.WarnContext(ctx, msg, slog.Any("err", err))
	return domain.Notice{Level: domain.NoticeWarn, Message: notice}
}

// buildThread reconstructs the selected record and annotates every message
// from the given ticket list. It is recomputed from scratch on every call.
func (s *ChatService) buildThread(records []domain.InteractionRecord, conversationID string, tickets []domain.Ticket) []domain.DisplayMessage {
	rec, ok := conversation.Find(records, conversationID)
	if !ok {
		return []domain.DisplayMessage{}
	}
	phrase, correlator := s.settings()
	msgs := conversation.Reconstruct(rec)
	for i, m := range msgs {
		if m.Role != domain.RoleAI {
			msgs[i] = escalation.Annotate(m, ticket.Correlation{}, phrase)
			continue
		}
		corr := correlator.Correlate(m.Text, rec.CreatedAt, tickets)
		msgs[i] = escalation.Annotate(m, corr, phrase)
	}
	return msgs
}

// ConversationsOutput is the sidebar listing.
type ConversationsOutput struct {
	Conversations []domain.ConversationSummary
	Notices       []domain.Notice
}

func (s *ChatService) ListConversations(ctx context.Context, req Request) (ConversationsOutput, error) {
	if err := s.validate(req); err != nil {
		return ConversationsOutput{}, err
	}
	records, err := s.backend.ListConversations(ctx, req.Creds)
	if err != nil {
		if isUnauthorized(err) {
			return ConversationsOutput{}, newError(ErrorUnauthenticated, "backend_rejected_credentials", err)
		}
		return ConversationsOutput{
			Conversations: []domain.ConversationSummary{},
			Notices:       []domain.Notice{s.fallback(ctx, "list conversations failed", err, noticeConversationsUnavailable)},
		}, nil
	}
	return ConversationsOutput{Conversations: conversation.Summarize(records)}, nil
}

// TicketsOutput is the support ticket listing.
type TicketsOutput struct {
	Tickets []domain.Ticket
	Notices []domain.Notice
}

// ListTickets always reads the ticket list from the backend; the list is
// never cached so every view observes the latest copy.
func (s *ChatService) ListTickets(ctx context.Context, req Request) (TicketsOutput, error) {
	if err := s.validate(req); err != nil {
		return TicketsOutput{}, err
	}
	tickets, notices, err := s.refreshTickets(ctx, req.Creds)
	if err != nil {
		return TicketsOutput{}, err
	}
	return TicketsOutput{Tickets: tickets, Notices: notices}, nil
}

func (s *ChatService) refreshTickets(ctx context.Context, creds auth.Credentials) ([]domain.Ticket, []domain.Notice, error) {
	tickets, err := s.backend.ListTickets(ctx, creds)
	if err != nil {
		if isUnauthorized(err) {
			return nil, nil, newError(ErrorUnauthenticated, "backend_rejected_credentials", err)
		}
		return []domain.Ticket{}, []domain.Notice{s.fallback(ctx, "list tickets failed", err, noticeTicketsUnavailable)}, nil
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	return tickets, nil, nil
}

// BotsOutput lists the bots and the session's selected bot.
type BotsOutput struct {
	Bots          []domain.Bot
	SelectedBotID int64
	Notices       []domain.Notice
}

// ListBots returns the available bots. When the session has no bot selected
// yet, the first bot is selected.
func (s *ChatService) ListBots(ctx context.Context, req Request) (BotsOutput, error) {
	if err := s.validate(req); err != nil {
		return BotsOutput{}, err
	}
	bots, err := s.backend.ListBots(ctx, req.Creds)
	if err != nil {
		if isUnauthorized(err) {
			return BotsOutput{}, newError(ErrorUnauthenticated, "backend_rejected_credentials", err)
		}
		return BotsOutput{
			Bots:    []domain.Bot{},
			Notices: []domain.Notice{s.fallback(ctx, "list bots failed", err, noticeBotsUnavailable)},
		}, nil
	}

	sel, err := s.sessions.Current(ctx, req.SessionID)
	if err != nil {
		return BotsOutput{}, newError(ErrorInternal, "session_read_error", err)
	}
	if sel.BotID == 0 && len(bots) > 0 {
		sel, err = s.sessions.Advance(ctx, req.SessionID, domain.SelectionChange{
			ConversationID: sel.ConversationID,
			BotID:          bots[0].ID,
			SetBot:         true,
		})
		if err != nil {
			return BotsOutput{}, newError(ErrorInternal, "session_write_error", err)
		}
	}
	return BotsOutput{Bots: bots, SelectedBotID: sel.BotID}, nil
}

// SelectBot switches the session to another bot and clears the open conversation.
func (s *ChatService) SelectBot(ctx context.Context, req Request, botID int64) (domain.Selection, error) {
	if err := s.validate(req); err != nil {
		return domain.Selection{}, err
	}
	if botID <= 0 {
		return domain.Selection{}, newError(ErrorInvalidInput, "invalid_bot_id", nil)
	}
	sel, err := s.sessions.Advance(ctx, req.SessionID, domain.SelectionChange{BotID: botID, SetBot: true})
	if err != nil {
		return domain.Selection{}, newError(ErrorInternal, "session_write_error", err)
	}
	return sel, nil
}

// NewConversation resets the chat view. Tickets are left untouched.
func (s *ChatService) NewConversation(ctx context.Context, req Request) (domain.Selection, error) {
	if err := s.validate(req); err != nil {
		return domain.Selection{}, err
	}
	sel, err := s.sessions.Advance(ctx, req.SessionID, domain.SelectionChange{})
	if err != nil {
		return domain.Selection{}, newError(ErrorInternal, "session_write_error", err)
	}
	return sel, nil
}

// SelectConversation opens one conversation and returns its annotated thread.
// The selection gets a fresh token before fetching; if another selection
// supersedes it while the fetch is in flight the result is reported stale.
func (s *ChatService) SelectConversation(ctx context.Context, req Request, conversationID string) (ThreadOutput, error) {
	if err := s.validate(req); err != nil {
		return ThreadOutput{}, err
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ThreadOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ThreadOutput{}, newError(ErrorInternal, "param_load_error", err)
	}

	sel, err := s.sessions.Advance(ctx, req.SessionID, domain.SelectionChange{ConversationID: conversationID})
	if err != nil {
		return ThreadOutput{}, newError(ErrorInternal, "session_write_error", err)
	}

	src, err := s.fetchSources(ctx, req.Creds)
	if err != nil {
		return ThreadOutput{}, err
	}
	msgs := s.buildThread(src.records, conversationID, src.tickets)

	if err := s.ensureCurrent(ctx, req.SessionID, sel.Token); err != nil {
		return ThreadOutput{}, err
	}
	return ThreadOutput{
		SelectionToken: sel.Token,
		ConversationID: conversationID,
		Messages:       msgs,
		Notices:        src.notices,
	}, nil
}

// ensureCurrent reports ErrorStaleSelection when token is no longer the
// session's latest selection.
func (s *ChatService) ensureCurrent(ctx context.Context, sessionID string, token int64) error {
	cur, err := s.sessions.Current(ctx, sessionID)
	if err != nil {
		return newError(ErrorInternal, "session_read_error", err)
	}
	if cur.Token != token {
		s.logger.DebugContext(ctx, "discarding stale selection",
			slog.String("session_id", sessionID), slog.Int64("token", token), slog.Int64("current", cur.Token))
		return newError(ErrorStaleSelection, "selection_superseded", nil)
	}
	return nil
}
