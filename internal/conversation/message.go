// ABOUTME: Chat message type and canonical conversation keys
// ABOUTME: Key(a, b) == Key(b, a) so both participants resolve to the same log

package conversation

import (
	"strings"
	"time"
)

// keySeparator joins the two participants of a conversation key.
const keySeparator = "_"

// Message is one chat message in a conversation log.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	ReceiverID  string    `json:"receiverId"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
	IsRead      bool      `json:"isRead"`
	IsFromAdmin bool      `json:"isFromAdmin"`
}

// Key returns the canonical conversation key for two identities. The
// identity that sorts first (byte-wise) comes first, so the key does not
// depend on who started the conversation.
func Key(a, b string) string {
	if a < b {
		return a + keySeparator + b
	}
	return b + keySeparator + a
}

// Other returns the participant of key that is not identity, and whether
// identity takes part in the conversation at all.
//
// Identities may themselves contain the separator, so both split positions
// are tried against identity rather than splitting blindly.
func Other(key, identity string) (string, bool) {
	if rest, ok := strings.CutPrefix(key, identity+keySeparator); ok && Key(identity, rest) == key {
		return rest, true
	}
	if rest, ok := strings.CutSuffix(key, keySeparator+identity); ok && Key(identity, rest) == key {
		return rest, true
	}
	return "", false
}
