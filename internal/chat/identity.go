package chat

import (
	"sort"
	"strings"
)

// AssistantID is the reserved sender/receiver id for assistant entries.
// It never collides with real user ids, which are uuid-shaped.
const AssistantID = "assistant"

// ConversationID derives the symmetric identifier for a two-party
// conversation: the pair is sorted before joining, so either participant
// reaches the same thread regardless of argument order.
func ConversationID(a, b string) string {
	return strings.Join(Participants(a, b), "_")
}

// Participants returns the sorted participant pair.
func Participants(a, b string) []string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids
}
