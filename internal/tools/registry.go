package tools

import (
	"fmt"
	"strings"
)

// Tool names accepted from the classifier.
const (
	ResetPassword = "reset_password"
	RequestID     = "request_id"
	OwnerLookup   = "owner_lookup"
)

// ErrUnknownTool reports a tool name outside the registry.
type ErrUnknownTool struct {
	Name string
}

func (e ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Registry executes direct helpdesk tools. All tools are pure: they read the
// roster captured at construction and never touch models, storage, or the
// network.
type Registry struct {
	owners []Owner
}

func NewRegistry(owners []Owner) *Registry {
	return &Registry{owners: owners}
}

// Execute runs the named tool. The utterance is consulted for roster-wide
// lookups; argument carries the classifier-extracted parameter.
func (r *Registry) Execute(tool, utterance, argument string) (string, error) {
	switch tool {
	case ResetPassword:
		return resetPasswordSteps, nil
	case RequestID:
		return requestIDSteps, nil
	case OwnerLookup:
		return r.lookupOwner(utterance, argument), nil
	default:
		return "", ErrUnknownTool{Name: tool}
	}
}

const resetPasswordSteps = `Password reset steps:
1. Open the SSO portal and choose "Reset password".
2. Complete identity verification.
3. Set your new password.`

const requestIDSteps = `Account request steps:
1. Open the HR portal and submit the "Account request" form.
2. Once the form is approved, the IT team creates your account.`

// lookupOwner resolves a screen name to its owner by case-insensitive
// substring match. Requests for the whole roster return every row; a miss
// returns explicit not-found text rather than an error.
func (r *Registry) lookupOwner(utterance, argument string) string {
	if wantsRoster(utterance) || wantsRoster(argument) {
		return formatRoster(r.owners)
	}

	screen := strings.TrimSpace(argument)
	if screen == "" {
		return "Please tell me which screen or system you need the owner for, or ask for the full list."
	}

	needle := strings.ToLower(screen)
	for _, o := range r.owners {
		if strings.Contains(strings.ToLower(o.Screen), needle) {
			return formatOwner(o)
		}
	}
	return fmt.Sprintf("No owner found for %q. Ask for the full list to see every registered screen.", screen)
}

var rosterWords = []string{"all", "list", "every", "everyone", "whole"}

func wantsRoster(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range rosterWords {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// containsWord matches w in text on word boundaries, so "install" does not
// trigger the "all" roster case.
func containsWord(text, w string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], w)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isLetter(text[i-1])
		afterIdx := i + len(w)
		after := afterIdx >= len(text) || !isLetter(text[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
