package store

import "strings"

// RecipientMatches reports whether a stored recipient field addresses
// the given session. An empty recipient is a room-wide message, "*" and
// "all" are explicit broadcasts, and comma-separated lists address
// several sessions at once.
func RecipientMatches(recipient, session string) bool {
	if recipient == "" || recipient == "*" || recipient == "all" {
		return true
	}
	if recipient == session {
		return true
	}
	if strings.Contains(recipient, ",") {
		for _, part := range strings.Split(recipient, ",") {
			if strings.TrimSpace(part) == session {
				return true
			}
		}
	}
	return false
}
