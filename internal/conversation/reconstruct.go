package conversation

import (
	"sort"
	"strconv"

	"lifebot-chat/internal/domain"
)

// Reconstruct converts one InteractionRecord into its display thread: the
// user's question followed by the AI answer. A missing side is skipped rather
// than failing the whole record. Escalation fields are left at their zero
// values; see escalation.Annotate.
func Reconstruct(rec domain.InteractionRecord) []domain.DisplayMessage {
	id := strconv.FormatInt(rec.ID, 10)
	out := make([]domain.DisplayMessage, 0, 2)

	if question := NormalizeText(rec.Question, "question"); question != "" {
		out = append(out, domain.DisplayMessage{
			ID:         id + "-question",
			Role:       domain.RoleUser,
			Text:       question,
			Timestamp:  rec.CreatedAt,
			Escalation: domain.EscalationNone,
		})
	}
	if answer := NormalizeText(rec.Answer, "answer"); answer != "" {
		out = append(out, domain.DisplayMessage{
			ID:         id + "-answer",
			Role:       domain.RoleAI,
			Text:       answer,
			Timestamp:  rec.CreatedAt,
			Escalation: domain.EscalationNone,
		})
	}
	return out
}

// Find returns the record with the given id, if present.
func Find(records []domain.InteractionRecord, id string) (domain.InteractionRecord, bool) {
	for _, rec := range records {
		if strconv.FormatInt(rec.ID, 10) == id {
			return rec, true
		}
	}
	return domain.InteractionRecord{}, false
}

// Summarize builds sidebar entries ordered newest first, ties broken by id.
func Summarize(records []domain.InteractionRecord) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.ConversationSummary{
			ID:        rec.ID,
			Preview:   NormalizeText(rec.Question, "question"),
			Channel:   rec.Channel,
			Resolved:  rec.Resolved,
			CreatedAt: rec.CreatedAt,
		})
	}
	sortSummaries(out)
	return out
}

func sortSummaries(s []domain.ConversationSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID > s[j].ID
	})
}
