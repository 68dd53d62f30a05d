// Package chat locates and feeds two-party private conversations. A
// conversation is a single backend document whose participants map holds the
// two user ids; messages live in a per-conversation subcollection. The
// resolver guarantees find-or-create semantics regardless of participant
// ordering and memoizes resolved conversations so repeat sends skip the
// backend entirely.
package chat

import (
	"time"
)

// Collection is the conversations collection.
const Collection = "private-chats"

// keySeparator joins the sorted participant pair. The unit separator cannot
// occur in provider-assigned user ids, so the key is unambiguous.
const keySeparator = "\x1f"

// Conversation identifies a backend-resident two-party conversation.
type Conversation struct {
	ID           string
	Participants [2]string
}

// Message is one denormalized chat message.
type Message struct {
	ID        string
	UserID    string
	Text      string
	CreatedAt time.Time
}

// Normalize derives the cache key for an unordered participant pair. It is
// commutative and total: Normalize(a, b) == Normalize(b, a) for all pairs.
func Normalize(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + keySeparator + b
}

// messagesCollection is the subcollection path for a conversation's
// messages.
func messagesCollection(conversationID string) string {
	return Collection + "/" + conversationID + "/messages"
}
