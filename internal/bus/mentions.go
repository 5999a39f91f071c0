package bus

import (
	"context"
	"regexp"
	"strings"

	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

// mentionPattern matches @name tokens in message bodies, including
// comma groups (@a,@b) and path-ish session IDs (@proj/branch).
var mentionPattern = regexp.MustCompile(`@([\w][\w./,-]*)`)

// Resolver turns @mention tokens and --to targets into canonical
// session IDs. Aliases win over literal names; unknown names pass
// through unchanged so a session never needs registering before it can
// be addressed.
type Resolver struct {
	global store.GlobalStore
}

// NewResolver creates a resolver backed by the global alias table.
func NewResolver(global store.GlobalStore) *Resolver {
	return &Resolver{global: global}
}

// ResolveTarget resolves a single --to target (with or without the
// leading @). "all" and "*" are reserved broadcast markers and pass
// through untouched.
func (r *Resolver) ResolveTarget(ctx context.Context, target string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(target), "@")
	if name == "" || name == "all" || name == "*" {
		return name, nil
	}
	resolved, err := r.global.Alias(ctx, name)
	if err != nil {
		return "", err
	}
	if resolved != "" {
		return resolved, nil
	}
	return name, nil
}

// Mentions extracts raw @mention tokens from a body. Comma groups are
// split into individual names; duplicates are dropped.
func Mentions(body string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.Trim(name, "@ ")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ResolveMentions extracts mentions and resolves each through the
// alias table.
func (r *Resolver) ResolveMentions(ctx context.Context, body string) ([]string, error) {
	raw := Mentions(body)
	resolved := make([]string, 0, len(raw))
	for _, name := range raw {
		target, err := r.ResolveTarget(ctx, name)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, target)
	}
	return resolved, nil
}

// ForMe reports whether a message addresses the given session. A
// message is "for me" when its recipient field names me, when an
// alias-resolved body mention names me, or when it carries neither a
// recipient nor any mention (ambient room broadcast).
func (r *Resolver) ForMe(ctx context.Context, msg *models.Message, session string) (bool, error) {
	if msg.Recipient != "" {
		return store.RecipientMatches(msg.Recipient, session), nil
	}

	mentions, err := r.ResolveMentions(ctx, msg.Body)
	if err != nil {
		return false, err
	}
	if len(mentions) == 0 {
		return true, nil
	}
	for _, m := range mentions {
		if m == session || m == "all" || m == "*" {
			return true, nil
		}
	}
	return false, nil
}
