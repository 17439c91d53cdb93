package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/usecase"
)

const maxBodyBytes = 64 << 10

type ChatUseCase interface {
	ListConversations(ctx context.Context, req usecase.Request) (usecase.ConversationsOutput, error)
	SelectConversation(ctx context.Context, req usecase.Request, conversationID string) (usecase.ThreadOutput, error)
	NewConversation(ctx context.Context, req usecase.Request) (domain.Selection, error)
	ListBots(ctx context.Context, req usecase.Request) (usecase.BotsOutput, error)
	SelectBot(ctx context.Context, req usecase.Request, botID int64) (domain.Selection, error)
	SendMessage(ctx context.Context, req usecase.Request, botID int64, question string) (usecase.ThreadOutput, error)
	FlagForAssistance(ctx context.Context, req usecase.Request, in usecase.FlagInput) (usecase.ThreadOutput, error)
	ListTickets(ctx context.Context, req usecase.Request) (usecase.TicketsOutput, error)
	RaiseTicket(ctx context.Context, req usecase.Request, topic, description string) (usecase.TicketOutput, error)
	ResolveTicket(ctx context.Context, req usecase.Request, in usecase.ResolveInput) (usecase.ThreadOutput, error)
}

// Handler serves the chat API over net/http and API Gateway.
type Handler struct {
	uc     ChatUseCase
	logger *slog.Logger
	router chi.Router
}

func NewHandler(uc ChatUseCase, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{uc: uc, logger: logger}
	h.router = h.routes()
	return h, nil
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(correlationIDMiddleware)
	r.Use(sessionIDMiddleware)
	r.Use(loggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "lifebot-chat")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/new", h.newConversation)
			r.Get("/{id}", h.selectConversation)
			r.Post("/{id}/flag", h.flagForAssistance)
		})
		r.Route("/bots", func(r chi.Router) {
			r.Get("/", h.listBots)
			r.Post("/{id}/select", h.selectBot)
			r.Post("/{id}/messages", h.sendMessage)
		})
		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", h.listTickets)
			r.Post("/", h.raiseTicket)
			r.Post("/{id}/resolve", h.resolveTicket)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"})
	})
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}
