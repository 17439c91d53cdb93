package ticket

import (
	"regexp"
	"strconv"
	"time"

	"lifebot-chat/internal/domain"
)

// DefaultWindow is the half-width of the temporal correlation window.
const DefaultWindow = 60 * time.Second

var referencePattern = regexp.MustCompile(`(?i)Ticket #(\d+)`)

// Match says how a ticket was associated with a record.
type Match int

const (
	MatchNone Match = iota
	MatchExplicit
	MatchTemporal
)

// Correlation is the outcome of correlating one record with the ticket list.
type Correlation struct {
	Match    Match
	TicketID int64
	// Resolved is read from the ticket list at correlation time. A referenced
	// ticket that is missing from the list is treated as open.
	Resolved bool
}

// Found reports whether a ticket is associated.
func (c Correlation) Found() bool {
	return c.Match != MatchNone
}

// Correlator associates AI answers with support tickets.
type Correlator struct {
	Window time.Duration
}

// New returns a Correlator with the given window, or DefaultWindow when
// window is not positive.
func New(window time.Duration) Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	return Correlator{Window: window}
}

// Correlate finds the ticket associated with an answer created at createdAt.
// An explicit "Ticket #N" reference in the answer wins regardless of timing;
// otherwise the latest ticket created within the closed window around
// createdAt is chosen, ties broken by the highest id.
func (c Correlator) Correlate(answer string, createdAt time.Time, tickets []domain.Ticket) Correlation {
	if id, ok := Reference(answer); ok {
		corr := Correlation{Match: MatchExplicit, TicketID: id}
		for _, t := range tickets {
			if t.ID == id {
				corr.Resolved = t.IsResolved()
				break
			}
		}
		return corr
	}

	window := c.Window
	if window <= 0 {
		window = DefaultWindow
	}
	from, to := createdAt.Add(-window), createdAt.Add(window)

	var best *domain.Ticket
	for i := range tickets {
		t := &tickets[i]
		if t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
			continue
		}
		if best == nil || later(t, best) {
			best = t
		}
	}
	if best == nil {
		return Correlation{}
	}
	return Correlation{Match: MatchTemporal, TicketID: best.ID, Resolved: best.IsResolved()}
}

func later(a, b *domain.Ticket) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Reference extracts the first "Ticket #N" reference from text.
func Reference(text string) (int64, bool) {
	m := referencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
