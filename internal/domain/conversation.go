package domain

import (
	"encoding/json"
	"time"
)

// InteractionRecord is one persisted question/answer exchange returned by the backend.
// Question and Answer are kept raw; see conversation.NormalizeText.
type InteractionRecord struct {
	ID        int64
	UserID    int64
	Question  json.RawMessage
	Answer    json.RawMessage
	Channel   string
	Resolved  bool
	CreatedAt time.Time
}

type interactionBody struct {
	Question json.RawMessage `json:"question"`
	Answer   json.RawMessage `json:"answer"`
	Channel  string          `json:"channel"`
}

type interactionWire struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"user_id"`
	Interaction *interactionBody `json:"interaction"`
	Question    json.RawMessage  `json:"question"`
	Answer      json.RawMessage  `json:"answer"`
	Channel     string           `json:"channel"`
	Resolved    bool             `json:"resolved"`
	CreatedAt   Timestamp        `json:"created_at"`
}

// UnmarshalJSON accepts both the flat record shape and the backend's nested
// {"interaction": {...}} shape. Nested fields win when both are present.
func (r *InteractionRecord) UnmarshalJSON(data []byte) error {
	var w interactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = InteractionRecord{
		ID:        w.ID,
		UserID:    w.UserID,
		Question:  w.Question,
		Answer:    w.Answer,
		Channel:   w.Channel,
		Resolved:  w.Resolved,
		CreatedAt: w.CreatedAt.Time,
	}
	if w.Interaction != nil {
		if len(w.Interaction.Question) > 0 {
			r.Question = w.Interaction.Question
		}
		if len(w.Interaction.Answer) > 0 {
			r.Answer = w.Interaction.Answer
		}
		if w.Interaction.Channel != "" {
			r.Channel = w.Interaction.Channel
		}
	}
	return nil
}

// Selection is the per-session "current selection" of the chat view.
// Token increases on every change; responses computed for an older token are stale.
type Selection struct {
	SessionID      string
	Token          int64
	ConversationID string
	BotID          int64
	UpdatedAt      string
}

// SelectionChange describes how Advance mutates a Selection.
type SelectionChange struct {
	ConversationID string
	// BotID is applied only when SetBot is true.
	BotID  int64
	SetBot bool
}

// Bot is a chatbot the user may talk to.
type Bot struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	BotType string `json:"bot_type"`
}

// ConversationSummary is a sidebar entry for one InteractionRecord.
type ConversationSummary struct {
	ID        int64     `json:"id"`
	Preview   string    `json:"preview"`
	Channel   string    `json:"channel,omitempty"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}
