package escalation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lifebot-chat/internal/conversation"
	"lifebot-chat/internal/domain"
	"lifebot-chat/internal/ticket"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func aiMessage(text string) domain.DisplayMessage {
	return domain.DisplayMessage{ID: "1-answer", Role: domain.RoleAI, Text: text, Timestamp: t0}
}

func annotateAnswer(t *testing.T, rec domain.InteractionRecord, tickets []domain.Ticket) domain.DisplayMessage {
	t.Helper()
	msgs := conversation.Reconstruct(rec)
	require.Len(t, msgs, 2)
	ai := msgs[1]
	corr := ticket.New(0).Correlate(ai.Text, rec.CreatedAt, tickets)
	return Annotate(ai, corr, "")
}

func passwordRecord() domain.InteractionRecord {
	return domain.InteractionRecord{
		ID:        1,
		Question:  json.RawMessage(`"Reset my password"`),
		Answer:    json.RawMessage(`"I can't help with that, flag this for human assistance"`),
		CreatedAt: t0,
	}
}

func TestNext(t *testing.T) {
	s, ok := Next(domain.EscalationFlaggable, EventFlag)
	require.True(t, ok)
	require.Equal(t, domain.EscalationOpen, s)

	s, ok = Next(domain.EscalationOpen, EventResolve)
	require.True(t, ok)
	require.Equal(t, domain.EscalationResolved, s)

	_, ok = Next(domain.EscalationNone, EventFlag)
	require.False(t, ok)
	_, ok = Next(domain.EscalationResolved, EventResolve)
	require.False(t, ok)

	for _, from := range []domain.EscalationState{domain.EscalationNone, domain.EscalationFlaggable, domain.EscalationOpen, domain.EscalationResolved} {
		s, ok = Next(from, EventReset)
		require.True(t, ok)
		require.Equal(t, domain.EscalationNone, s)
	}
}

func TestTriggered_CaseInsensitive(t *testing.T) {
	require.True(t, Triggered("Please FLAG THIS FOR HUMAN ASSISTANCE.", ""))
	require.False(t, Triggered("all good", ""))
	require.True(t, Triggered("talk to an agent", "Talk to an Agent"))
}

func TestDerive(t *testing.T) {
	none := ticket.Correlation{}
	open := ticket.Correlation{Match: ticket.MatchTemporal, TicketID: 1}
	resolved := ticket.Correlation{Match: ticket.MatchTemporal, TicketID: 1, Resolved: true}

	require.Equal(t, domain.EscalationNone, Derive("hello", none, ""))
	require.Equal(t, domain.EscalationFlaggable, Derive("flag this for human assistance", none, ""))
	require.Equal(t, domain.EscalationOpen, Derive("flag this for human assistance", open, ""))
	require.Equal(t, domain.EscalationResolved, Derive("hello", resolved, ""))
}

func TestScenario_FlaggableWithoutTickets(t *testing.T) {
	ai := annotateAnswer(t, passwordRecord(), nil)
	require.Equal(t, domain.EscalationFlaggable, ai.Escalation)
	require.True(t, ai.ShowFlagButton)
	require.Nil(t, ai.TicketID)
	require.False(t, ai.ShowResolveButton)
}

func TestScenario_FlaggedTicketCorrelates(t *testing.T) {
	tickets := []domain.Ticket{{ID: 7, Status: domain.TicketOpen, CreatedAt: t0.Add(5 * time.Second)}}
	ai := annotateAnswer(t, passwordRecord(), tickets)

	require.Equal(t, domain.EscalationOpen, ai.Escalation)
	require.False(t, ai.ShowFlagButton)
	require.NotNil(t, ai.TicketID)
	require.Equal(t, int64(7), *ai.TicketID)
	require.True(t, ai.ShowResolveButton)
	require.True(t, ai.ShowNewChatButton)
	require.Contains(t, ai.Text, "(Ticket #7)")

	confirm := Confirmation("c-1", 7, t0.Add(5*time.Second))
	require.Equal(t, domain.RoleAI, confirm.Role)
	require.Contains(t, confirm.Text, "Ticket #7")
	require.Equal(t, int64(7), *confirm.TicketID)
	require.True(t, confirm.ShowResolveButton)
}

func TestScenario_ResolvedTicket(t *testing.T) {
	tickets := []domain.Ticket{{ID: 7, Status: domain.TicketResolved, CreatedAt: t0.Add(5 * time.Second)}}
	ai := annotateAnswer(t, passwordRecord(), tickets)

	require.Equal(t, domain.EscalationResolved, ai.Escalation)
	require.False(t, ai.ShowResolveButton)
	require.False(t, ai.ShowFlagButton)
	require.Contains(t, ai.Text, "(Resolved Ticket #7)")
	require.NotContains(t, ai.Text, "(Ticket #7)")
}

func TestAnnotate_ExplicitReferenceKeepsText(t *testing.T) {
	msg := aiMessage("Logged as Ticket #42.")
	out := Annotate(msg, ticket.Correlation{Match: ticket.MatchExplicit, TicketID: 42}, "")
	require.Equal(t, "Logged as Ticket #42.", out.Text)
	require.True(t, out.ShowResolveButton)

	msg = aiMessage("Escalated (Ticket #42)")
	out = Annotate(msg, ticket.Correlation{Match: ticket.MatchExplicit, TicketID: 42, Resolved: true}, "")
	require.Equal(t, "Escalated (Resolved Ticket #42)", out.Text)
	require.False(t, out.ShowResolveButton)
}

func TestAnnotate_IsRecomputedFromSources(t *testing.T) {
	msg := aiMessage("flag this for human assistance")
	open := Annotate(msg, ticket.Correlation{Match: ticket.MatchTemporal, TicketID: 3}, "")
	require.True(t, open.ShowResolveButton)

	again := Annotate(open, ticket.Correlation{Match: ticket.MatchTemporal, TicketID: 3}, "")
	require.Equal(t, open.Text, again.Text, "suffix must not be appended twice")

	cleared := Annotate(msg, ticket.Correlation{}, "")
	require.True(t, cleared.ShowFlagButton)
	require.Nil(t, cleared.TicketID)
}

func TestAnnotate_UserMessageHasNoAffordances(t *testing.T) {
	msg := domain.DisplayMessage{Role: domain.RoleUser, Text: "flag this for human assistance"}
	out := Annotate(msg, ticket.Correlation{Match: ticket.MatchTemporal, TicketID: 1}, "")
	require.Equal(t, domain.EscalationNone, out.Escalation)
	require.False(t, out.ShowFlagButton)
	require.Nil(t, out.TicketID)
}

func TestMarkResolved(t *testing.T) {
	require.Equal(t, "done (Resolved Ticket #7)", MarkResolved("done (Ticket #7)", 7))
	require.Equal(t, "done (Resolved Ticket #7)", MarkResolved("done (Resolved Ticket #7)", 7))
	require.Equal(t, "done (Resolved Ticket #7)", MarkResolved("done", 7))
	require.Equal(t, "x (Ticket #70) (Resolved Ticket #7)", MarkResolved("x (Ticket #70)", 7))
}

func TestTicketState(t *testing.T) {
	open := domain.Ticket{ID: 1, Status: domain.TicketOpen}
	require.Equal(t, domain.EscalationOpen, TicketState(open))
	_, ok := Next(TicketState(open), EventResolve)
	require.True(t, ok)

	resolved := domain.Ticket{ID: 1, Status: domain.TicketResolved}
	require.Equal(t, domain.EscalationResolved, TicketState(resolved))
	_, ok = Next(TicketState(resolved), EventResolve)
	require.False(t, ok)
}

func TestAnnotate_ResetsStaleState(t *testing.T) {
	tid := int64(9)
	stale := domain.DisplayMessage{
		Role:              domain.RoleUser,
		Text:              "hello",
		TicketID:          &tid,
		ShowResolveButton: true,
		Escalation:        domain.EscalationOpen,
	}
	out := Annotate(stale, ticket.Correlation{}, "")
	require.Equal(t, domain.EscalationNone, out.Escalation)
	require.Nil(t, out.TicketID)
	require.False(t, out.ShowResolveButton)

	ai := aiMessage("plain answer")
	ai.Escalation = domain.EscalationResolved
	require.Equal(t, domain.EscalationNone, Annotate(ai, ticket.Correlation{}, "").Escalation)
}
