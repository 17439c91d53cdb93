package domain

import "time"

// Role identifies the author of a DisplayMessage.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// EscalationState is the per-message view of human assistance.
type EscalationState string

const (
	EscalationNone      EscalationState = "NONE"
	EscalationFlaggable EscalationState = "FLAGGABLE"
	EscalationOpen      EscalationState = "OPEN_TICKET"
	EscalationResolved  EscalationState = "RESOLVED_TICKET"
)

// DisplayMessage is a rendered chat line. It is always derived from an
// InteractionRecord plus ticket state and is never persisted.
type DisplayMessage struct {
	ID                string          `json:"id"`
	Role              Role            `json:"role"`
	Text              string          `json:"text"`
	Timestamp         time.Time       `json:"timestamp"`
	ShowFlagButton    bool            `json:"showFlagButton"`
	ShowNewChatButton bool            `json:"showNewChatButton"`
	ShowResolveButton bool            `json:"showResolveButton"`
	TicketID          *int64          `json:"ticketId,omitempty"`
	Escalation        EscalationState `json:"escalation,omitempty"`
}

// NoticeLevel classifies a Notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warning"
	NoticeError NoticeLevel = "error"
)

// Notice is a non-blocking, dismissible notification for the user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
