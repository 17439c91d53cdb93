package escalation

import (
	"fmt"
	"strings"
	"time"

	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/ticket"
)

// DefaultTriggerPhrase is the answer substring that offers escalation.
const DefaultTriggerPhrase = "flag this for human assistance"

// Event is a user action that moves a message between escalation states.
type Event string

const (
	EventFlag    Event = "flag"
	EventResolve Event = "resolve"
	EventReset   Event = "reset"
)

// Next returns the state reached from s on e, or false when e is not
// permitted in s.
func Next(s domain.EscalationState, e Event) (domain.EscalationState, bool) {
	switch e {
	case EventReset:
		return domain.EscalationNone, true
	case EventFlag:
		if s == domain.EscalationFlaggable {
			return domain.EscalationOpen, true
		}
	case EventResolve:
		if s == domain.EscalationOpen {
			return domain.EscalationResolved, true
		}
	}
	return s, false
}

// Triggered reports whether text contains the trigger phrase, ignoring case.
func Triggered(text, phrase string) bool {
	if strings.TrimSpace(phrase) == "" {
		phrase = DefaultTriggerPhrase
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(phrase))
}

// Derive computes the escalation state of an AI answer from its text and the
// ticket correlated with its record. It keeps no history.
func Derive(text string, corr ticket.Correlation, phrase string) domain.EscalationState {
	switch {
	case corr.Found() && corr.Resolved:
		return domain.EscalationResolved
	case corr.Found():
		return domain.EscalationOpen
	case Triggered(text, phrase):
		return domain.EscalationFlaggable
	default:
		return domain.EscalationNone
	}
}

// Annotate derives the escalation state of msg and sets its action flags,
// ticket id and ticket suffix accordingly. Any previous state is reset first. User messages are returned with
// state NONE and no affordances.
func Annotate(msg domain.DisplayMessage, corr ticket.Correlation, phrase string) domain.DisplayMessage {
	msg.ShowFlagButton = false
	msg.ShowNewChatButton = false
	msg.ShowResolveButton = false
	msg.TicketID = nil
	msg.Escalation, _ = Next(msg.Escalation, EventReset)
	if msg.Role != domain.RoleAI {
		return msg
	}

	msg.Escalation = Derive(msg.Text, corr, phrase)
	switch msg.Escalation {
	case domain.EscalationFlaggable:
		msg.ShowFlagButton = true
	case domain.EscalationOpen:
		id := corr.TicketID
		msg.TicketID = &id
		msg.ShowNewChatButton = true
		msg.ShowResolveButton = true
		if corr.Match == ticket.MatchTemporal && !strings.Contains(msg.Text, openRef(id)) {
			msg.Text += " " + openRef(id)
		}
	case domain.EscalationResolved:
		id := corr.TicketID
		msg.TicketID = &id
		msg.ShowNewChatButton = true
		msg.Text = MarkResolved(msg.Text, id)
	}
	return msg
}

// MarkResolved rewrites "(Ticket #N)" to "(Resolved Ticket #N)", appending the
// resolved reference when the text carries none.
func MarkResolved(text string, ticketID int64) string {
	open, resolved := openRef(ticketID), resolvedRef(ticketID)
	if strings.Contains(text, open) {
		return strings.ReplaceAll(text, open, resolved)
	}
	if strings.Contains(text, resolved) {
		return text
	}
	return text + " " + resolved
}

// Confirmation is the synthetic message appended after a flag action.
func Confirmation(id string, ticketID int64, now time.Time) domain.DisplayMessage {
	tid := ticketID
	return domain.DisplayMessage{
		ID:   id,
		Role: domain.RoleAI,
		Text: fmt.Sprintf("Your query has been flagged for human assistance %s. "+
			"You can track the status in the Support Tickets section.", openRef(ticketID)),
		Timestamp:         now,
		ShowNewChatButton: true,
		ShowResolveButton: true,
		TicketID:          &tid,
		Escalation:        domain.EscalationOpen,
	}
}

func openRef(id int64) string     { return fmt.Sprintf("(Ticket #%d)", id) }
func resolvedRef(id int64) string { return fmt.Sprintf("(Resolved Ticket #%d)", id) }

// TicketState is the escalation state implied by a ticket's status.
func TicketState(t domain.Ticket) domain.EscalationState {
	if t.IsResolved() {
		return domain.EscalationResolved
	}
	return domain.EscalationOpen
}
