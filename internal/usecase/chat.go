package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lifebot-chat/internal/auth"
	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/escalation"
	"lifebot-chat/internal/ticket"
)

const (
	defaultActionTTL = 30 * time.Second

	paramTriggerPhrase = "/escalation/trigger_phrase"
	paramWindowSeconds = "/escalation/correlation_window_seconds"
)

type Backend interface {
	ListConversations(ctx context.Context, creds auth.Credentials) ([]domain.InteractionRecord, error)
	ListTickets(ctx context.Context, creds auth.Credentials) ([]domain.Ticket, error)
	CreateTicket(ctx context.Context, creds auth.Credentials, topic, description string) (domain.Ticket, error)
	ResolveTicket(ctx context.Context, creds auth.Credentials, ticketID int64) (domain.Ticket, error)
	Query(ctx context.Context, creds auth.Credentials, botID int64, question string) (string, error)
	ListBots(ctx context.Context, creds auth.Credentials) ([]domain.Bot, error)
}

type SessionStore interface {
	Advance(ctx context.Context, sessionID string, change domain.SelectionChange) (domain.Selection, error)
	Current(ctx context.Context, sessionID string) (domain.Selection, error)
	AcquireAction(ctx context.Context, sessionID, action, owner string, ttl time.Duration) (bool, error)
	ReleaseAction(ctx context.Context, sessionID, action, owner string) error
}

type ParamGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService drives the end-user chat view: it fetches interaction records
// and tickets, rebuilds annotated threads and runs the escalation actions.
type ChatService struct {
	backend     Backend
	sessions    SessionStore
	params      ParamGetter
	paramPrefix string
	actionTTL   time.Duration
	logger      *slog.Logger

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	triggerPhrase string
	correlator    ticket.Correlator
}

// Request identifies the caller of every ChatService operation.
type Request struct {
	SessionID string
	Creds     auth.Credentials
}

// ThreadOutput is the annotated view returned by thread-producing operations.
type ThreadOutput struct {
	SelectionToken int64
	ConversationID string
	Messages       []domain.DisplayMessage
	Notices        []domain.Notice
	// Ticket is the ticket created or resolved by the action, if any.
	Ticket *domain.Ticket
	// Tickets is the refreshed ticket list after a mutating action.
	Tickets []domain.Ticket
}

func NewChatService(b Backend, s SessionStore, p ParamGetter, paramPrefix string, actionTTL time.Duration, logger *slog.Logger) (*ChatService, error) {
	if b == nil {
		return nil, errors.New("usecase: backend must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if actionTTL <= 0 {
		actionTTL = defaultActionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		backend:     b,
		sessions:    s,
		params:      p,
		paramPrefix: paramPrefix,
		actionTTL:   actionTTL,
		logger:      logger,
	}, nil
}

func (s *ChatService) validate(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if req.Creds == nil || !req.Creds.Valid() {
		return newError(ErrorUnauthenticated, "invalid_credentials", nil)
	}
	return nil
}

// ensureConfig loads the escalation settings once. A failed load is retried
// on the next request.
func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	phrase, window, err := s.loadEscalationParams(ctx)
	if err != nil {
		return err
	}
	s.triggerPhrase = phrase
	s.correlator = ticket.New(window)
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) loadEscalationParams(ctx context.Context) (string, time.Duration, error) {
	phraseName := s.paramPrefix + paramTriggerPhrase
	windowName := s.paramPrefix + paramWindowSeconds

	vals, err := s.params.GetParameters(ctx, []string{phraseName, windowName})
	if err != nil {
		return "", 0, fmt.Errorf("usecase: load escalation params: %w", err)
	}

	phrase := strings.TrimSpace(vals[phraseName])
	if phrase == "" {
		phrase = escalation.DefaultTriggerPhrase
	}
	window := ticket.DefaultWindow
	if raw := strings.TrimSpace(vals[windowName]); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return "", 0, fmt.Errorf("usecase: invalid correlation window %q", raw)
		}
		window = time.Duration(secs) * time.Second
	}
	return phrase, window, nil
}

func (s *ChatService) settings() (string, ticket.Correlator) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.triggerPhrase, s.correlator
}

// withAction runs fn while holding the session's in-flight lock for action,
// so a second submission of the same action is rejected until fn returns.
// The lock is released only by the request that took it.
func (s *ChatService) withAction(ctx context.Context, sessionID, action string, fn func() error) error {
	owner := newUUID()
	ok, err := s.sessions.AcquireAction(ctx, sessionID, action, owner, s.actionTTL)
	if err != nil {
		return newError(ErrorInternal, "action_lock_error", err)
	}
	if !ok {
		return newError(ErrorActionInFlight, action+"_in_flight", nil)
	}
	defer func() {
		if err := s.sessions.ReleaseAction(context.WithoutCancel(ctx), sessionID, action, owner); err != nil {
			s.logger.WarnContext(ctx, "release action lock failed",
				slog.String("session_id", sessionID), slog.String("action", action), slog.Any("err", err))
		}
	}()
	return fn()
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func isUnauthorized(err error) bool {
	status, ok := upstreamStatusCode(err)
	return ok && (status == 401 || status == 403)
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
