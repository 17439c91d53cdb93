package domain

import (
	"encoding/json"
	"time"
)

// TicketStatus enumerates the lifecycle states of a support ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketResolved TicketStatus = "resolved"
)

// Ticket is a human-assistance escalation request.
type Ticket struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Topic       string       `json:"topic"`
	Description string       `json:"description,omitempty"`
	Status      TicketStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// IsResolved reports whether the ticket has been resolved.
func (t Ticket) IsResolved() bool {
	return t.Status == TicketResolved
}

type ticketWire struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Topic       string       `json:"topic"`
	Description *string      `json:"description"`
	Status      TicketStatus `json:"status"`
	CreatedAt   Timestamp    `json:"created_at"`
	UpdatedAt   Timestamp    `json:"updated_at"`
}

// UnmarshalJSON accepts timestamps without a zone offset and a null
// description.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	var w ticketWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Ticket{
		ID:        w.ID,
		UserID:    w.UserID,
		Topic:     w.Topic,
		Status:    w.Status,
		CreatedAt: w.CreatedAt.Time,
		UpdatedAt: w.UpdatedAt.Time,
	}
	if w.Description != nil {
		t.Description = *w.Description
	}
	return nil
}
