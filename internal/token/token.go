// Package token encodes reviewer decisions and menu actions into the compact
// strings carried by interactive controls.
package token

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
)

const (
	// MaxBytes is the transport ceiling for a control payload.
	MaxBytes = 64
	// SubjectRunes is how much of the subject an approve token keeps.
	SubjectRunes = 30
	// Ellipsis marks a truncated subject.
	Ellipsis = ".."
)

// Action identifies what a control does.
type Action string

const (
	ActionApprove          Action = "approve"
	ActionDelete           Action = "delete"
	ActionStartSubmit      Action = "start_submit"
	ActionStartAddAdmin    Action = "start_add_admin"
	ActionStartRemoveAdmin Action = "start_remove_admin"
)

// Token is a decoded control payload.
type Token struct {
	Action      Action
	SubmitterID int64
	Subject     string // display only, possibly truncated
}

// IsDecision reports whether the token is a reviewer decision.
func (t Token) IsDecision() bool {
	return t.Action == ActionApprove || t.Action == ActionDelete
}

// EncodeApprove returns "approve:<id>:<subject>" with the subject cut to
// SubjectRunes runes (plus Ellipsis) and, if still needed, to MaxBytes.
// The truncation is lossy by design: the subject is only displayed later.
func EncodeApprove(submitterID int64, subject string) string {
	prefix := fmt.Sprintf("%s:%d:", ActionApprove, submitterID)
	s := content.Truncate(subject, SubjectRunes, Ellipsis)
	if len(prefix)+len(s) <= MaxBytes {
		return prefix + s
	}
	// multi-byte subjects: drop runes until prefix + subject + marker fits
	budget := MaxBytes - len(prefix) - len(Ellipsis)
	s = strings.TrimSuffix(s, Ellipsis)
	for len(s) > budget {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return prefix + s + Ellipsis
}

// EncodeDelete returns "delete:<id>".
func EncodeDelete(submitterID int64) string {
	return fmt.Sprintf("%s:%d", ActionDelete, submitterID)
}

// Encode returns the payload of a menu action.
func Encode(a Action) string {
	return string(a)
}

// Decode parses a control payload. Any unreadable payload yields a
// MALFORMED_TOKEN error.
func Decode(s string) (Token, error) {
	switch Action(s) {
	case ActionStartSubmit, ActionStartAddAdmin, ActionStartRemoveAdmin:
		return Token{Action: Action(s)}, nil
	}

	head, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Token{}, errors.NewMalformedToken(s, nil)
	}

	switch Action(head) {
	case ActionApprove:
		idPart, subject, ok := strings.Cut(rest, ":")
		if !ok {
			return Token{}, errors.NewMalformedToken(s, fmt.Errorf("missing subject segment"))
		}
		id, err := parseID(idPart)
		if err != nil {
			return Token{}, errors.NewMalformedToken(s, err)
		}
		return Token{Action: ActionApprove, SubmitterID: id, Subject: subject}, nil
	case ActionDelete:
		id, err := parseID(rest)
		if err != nil {
			return Token{}, errors.NewMalformedToken(s, err)
		}
		return Token{Action: ActionDelete, SubmitterID: id}, nil
	}
	return Token{}, errors.NewMalformedToken(s, fmt.Errorf("unknown action %q", head))
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid submitter id %q", s)
	}
	return id, nil
}

// DecisionKeyboard builds the approve/delete controls for a review post.
func DecisionKeyboard(submitterID int64, subject, approveLabel, deleteLabel string) content.Keyboard {
	return content.Keyboard{{
		{Label: approveLabel, Token: EncodeApprove(submitterID, subject)},
		{Label: deleteLabel, Token: EncodeDelete(submitterID)},
	}}
}
