package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lifebot-chat/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func tk(id int64, offset time.Duration, status domain.TicketStatus) domain.Ticket {
	return domain.Ticket{ID: id, Topic: "help", Status: status, CreatedAt: t0.Add(offset), UpdatedAt: t0.Add(offset)}
}

func TestCorrelate_ExplicitReferenceIgnoresTiming(t *testing.T) {
	tickets := []domain.Ticket{tk(42, 48*time.Hour, domain.TicketResolved), tk(43, time.Second, domain.TicketOpen)}
	corr := New(0).Correlate("Your request was logged as Ticket #42.", t0, tickets)
	require.Equal(t, MatchExplicit, corr.Match)
	require.Equal(t, int64(42), corr.TicketID)
	require.True(t, corr.Resolved)
}

func TestCorrelate_ExplicitReferenceUnknownTicketIsOpen(t *testing.T) {
	corr := New(0).Correlate("see ticket #7", t0, nil)
	require.True(t, corr.Found())
	require.Equal(t, int64(7), corr.TicketID)
	require.False(t, corr.Resolved)
}

func TestCorrelate_TemporalWindow(t *testing.T) {
	c := New(0)

	corr := c.Correlate("no reference", t0, []domain.Ticket{tk(1, 30*time.Second, domain.TicketOpen)})
	require.Equal(t, MatchTemporal, corr.Match)
	require.Equal(t, int64(1), corr.TicketID)

	corr = c.Correlate("no reference", t0, []domain.Ticket{tk(1, 61*time.Second, domain.TicketOpen)})
	require.False(t, corr.Found())

	corr = c.Correlate("no reference", t0, []domain.Ticket{tk(1, -61*time.Second, domain.TicketOpen)})
	require.False(t, corr.Found())
}

func TestCorrelate_WindowIsClosed(t *testing.T) {
	c := New(0)
	require.True(t, c.Correlate("", t0, []domain.Ticket{tk(1, 60*time.Second, domain.TicketOpen)}).Found())
	require.True(t, c.Correlate("", t0, []domain.Ticket{tk(1, -60*time.Second, domain.TicketOpen)}).Found())
}

func TestCorrelate_LatestInWindowWins(t *testing.T) {
	tickets := []domain.Ticket{
		tk(9, 40*time.Second, domain.TicketResolved),
		tk(3, -10*time.Second, domain.TicketOpen),
		tk(5, 20*time.Second, domain.TicketOpen),
	}
	corr := New(0).Correlate("", t0, tickets)
	require.Equal(t, int64(9), corr.TicketID)
	require.True(t, corr.Resolved)
}

func TestCorrelate_EqualCreatedAtPrefersHighestID(t *testing.T) {
	tickets := []domain.Ticket{
		tk(11, 5*time.Second, domain.TicketOpen),
		tk(12, 5*time.Second, domain.TicketOpen),
		tk(10, 5*time.Second, domain.TicketOpen),
	}
	require.Equal(t, int64(12), New(0).Correlate("", t0, tickets).TicketID)
}

func TestCorrelate_CustomWindow(t *testing.T) {
	c := New(10 * time.Second)
	require.False(t, c.Correlate("", t0, []domain.Ticket{tk(1, 30*time.Second, domain.TicketOpen)}).Found())
}

func TestReference(t *testing.T) {
	id, ok := Reference("(Resolved Ticket #314)")
	require.True(t, ok)
	require.Equal(t, int64(314), id)

	_, ok = Reference("Ticket # 5")
	require.False(t, ok)
}
