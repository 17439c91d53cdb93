package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"lifebot-chat/internal/usecase"
)

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthenticated:
		return http.StatusUnauthorized
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorActionInFlight, usecase.ErrorStaleSelection:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := usecase.ErrorInternal, "unexpected_error"
	var usecaseErr *usecase.Error
	if errors.As(err, &usecaseErr) {
		code, reason = usecaseErr.Code, usecaseErr.Reason
	}
	status := statusFor(code)

	level := slog.LevelWarn
	switch {
	case code == usecase.ErrorStaleSelection:
		level = slog.LevelDebug
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("correlation_id", correlationID(r.Context())),
		slog.String("code", string(code)),
		slog.String("reason", reason),
		slog.Any("err", err),
	)

	writeJSON(w, status, errorResponse{
		Error:         string(code),
		Reason:        reason,
		CorrelationID: correlationID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
