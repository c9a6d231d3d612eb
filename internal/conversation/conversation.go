// Package conversation holds the per-user submission state machine.
//
// Transition is the single authoritative transition function. It is pure:
// it never performs I/O, it only returns the next state and the effect the
// caller must carry out (prompting, collecting album items, submitting).
package conversation

import (
	"strconv"
	"strings"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
)

// Stage tags the active variant of a State.
type Stage int

const (
	Idle Stage = iota
	AwaitingSubject
	AwaitingContent
	AwaitingSubjectForContent
	AwaitingAdminDetails
	AwaitingAdminRemoval
)

var stageNames = map[Stage]string{
	Idle:                      "idle",
	AwaitingSubject:           "awaiting_subject",
	AwaitingContent:           "awaiting_content",
	AwaitingSubjectForContent: "awaiting_subject_for_content",
	AwaitingAdminDetails:      "awaiting_admin_details",
	AwaitingAdminRemoval:      "awaiting_admin_removal",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

// State is one user's conversation. Subject is set only in AwaitingContent,
// Items only in AwaitingSubjectForContent.
type State struct {
	Stage   Stage
	Subject string
	Items   []content.Item
}

// IdleState is the initial and terminal state.
var IdleState = State{Stage: Idle}

func awaitingContent(subject string) State {
	return State{Stage: AwaitingContent, Subject: subject}
}

func awaitingSubjectFor(items []content.Item) State {
	return State{Stage: AwaitingSubjectForContent, Items: items}
}

// EventKind identifies an inbound event.
type EventKind int

const (
	EventStart EventKind = iota
	EventText
	EventContent
	EventGrouped
	EventAlbumComplete
	EventCancel
	EventStartAddAdmin
	EventStartRemoveAdmin
)

// Event is an input to the state machine. Item is set for Text, Content and
// Grouped events; Items for AlbumComplete.
type Event struct {
	Kind  EventKind
	Item  content.Item
	Items []content.Item
}

// Start returns a subject-first start event.
func Start() Event { return Event{Kind: EventStart} }

// Cancel returns a cancel event.
func Cancel() Event { return Event{Kind: EventCancel} }

// Message classifies a single inbound item into a Text, Content or Grouped event.
func Message(item content.Item) Event {
	switch {
	case item.Grouped():
		return Event{Kind: EventGrouped, Item: item}
	case item.IsText():
		return Event{Kind: EventText, Item: item}
	default:
		return Event{Kind: EventContent, Item: item}
	}
}

// AlbumComplete returns the event for a finished album.
func AlbumComplete(items []content.Item) Event {
	return Event{Kind: EventAlbumComplete, Items: items}
}

// Effect is the side effect the caller performs after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectPromptSubject
	EffectPromptContent
	EffectCollect
	EffectSubmit
	EffectFormatError
	EffectCancelled
	EffectPromptAdminDetails
	EffectPromptAdminRemoval
	EffectAddAdmin
	EffectRemoveAdmin
)

// Re-prompt keys attached to format errors.
const (
	PromptSubjectText  = "format_subject_text"
	PromptContent      = "format_content_expected"
	PromptAlbumSubject = "format_album_unexpected"
	PromptAdminDetails = "format_admin_details"
	PromptAdminID      = "format_admin_id"
)

// Outcome is the result of a transition.
type Outcome struct {
	Next   State
	Effect Effect

	// EffectSubmit
	Subject string
	Items   []content.Item

	// EffectCollect
	Item content.Item

	// EffectAddAdmin / EffectRemoveAdmin
	AdminID    int64
	AdminAlias string

	// EffectFormatError: Err is a FORMAT_ERROR and Reprompt the locale key
	// of the message to reply with.
	Err      error
	Reprompt string
}

func stay(s State, reprompt, msg string) Outcome {
	return Outcome{Next: s, Effect: EffectFormatError, Err: errors.NewFormat(msg), Reprompt: reprompt}
}

func submit(subject string, items []content.Item) Outcome {
	return Outcome{Next: IdleState, Effect: EffectSubmit, Subject: subject, Items: items}
}

// Transition computes the next state for ev. Grouped items are always handed
// to the album aggregator first; the resulting AlbumComplete is interpreted
// against whatever state the user is in when it fires.
func Transition(s State, ev Event) Outcome {
	switch ev.Kind {
	case EventStart:
		return Outcome{Next: State{Stage: AwaitingSubject}, Effect: EffectPromptSubject}
	case EventCancel:
		return Outcome{Next: IdleState, Effect: EffectCancelled}
	case EventStartAddAdmin:
		return Outcome{Next: State{Stage: AwaitingAdminDetails}, Effect: EffectPromptAdminDetails}
	case EventStartRemoveAdmin:
		return Outcome{Next: State{Stage: AwaitingAdminRemoval}, Effect: EffectPromptAdminRemoval}
	case EventGrouped:
		return Outcome{Next: s, Effect: EffectCollect, Item: ev.Item}
	}

	switch s.Stage {
	case Idle:
		switch ev.Kind {
		case EventText, EventContent:
			return Outcome{Next: awaitingSubjectFor([]content.Item{ev.Item}), Effect: EffectPromptSubject}
		case EventAlbumComplete:
			if len(ev.Items) == 0 {
				return Outcome{Next: s}
			}
			return Outcome{Next: awaitingSubjectFor(ev.Items), Effect: EffectPromptSubject}
		}

	case AwaitingSubject:
		switch ev.Kind {
		case EventText:
			subject, ok := content.CleanText(ev.Item.Text)
			if !ok {
				return stay(s, PromptSubjectText, "empty subject")
			}
			return Outcome{Next: awaitingContent(subject), Effect: EffectPromptContent}
		case EventContent:
			return stay(s, PromptSubjectText, "subject must be text")
		case EventAlbumComplete:
			return stay(s, PromptAlbumSubject, "album received while awaiting a subject")
		}

	case AwaitingContent:
		switch ev.Kind {
		case EventText, EventContent:
			return submit(s.Subject, []content.Item{ev.Item})
		case EventAlbumComplete:
			if len(ev.Items) == 0 {
				return Outcome{Next: s}
			}
			return submit(s.Subject, ev.Items)
		}

	case AwaitingSubjectForContent:
		switch ev.Kind {
		case EventText:
			subject, ok := content.CleanText(ev.Item.Text)
			if !ok {
				return stay(s, PromptSubjectText, "empty subject")
			}
			return submit(subject, s.Items)
		case EventContent:
			return stay(s, PromptSubjectText, "subject must be text")
		case EventAlbumComplete:
			return stay(s, PromptAlbumSubject, "album received while awaiting a subject")
		}

	case AwaitingAdminDetails:
		if ev.Kind != EventText {
			return stay(s, PromptAdminDetails, "admin details must be text")
		}
		id, alias, ok := parseAdminDetails(ev.Item.Text)
		if !ok {
			return stay(s, PromptAdminDetails, "expected \"<id> <alias>\"")
		}
		return Outcome{Next: IdleState, Effect: EffectAddAdmin, AdminID: id, AdminAlias: alias}

	case AwaitingAdminRemoval:
		if ev.Kind != EventText {
			return stay(s, PromptAdminID, "admin id must be text")
		}
		id, ok := parseUserID(strings.TrimSpace(ev.Item.Text))
		if !ok {
			return stay(s, PromptAdminID, "expected a numeric id")
		}
		return Outcome{Next: IdleState, Effect: EffectRemoveAdmin, AdminID: id}
	}

	return Outcome{Next: s}
}

// parseAdminDetails reads "<id> <alias>".
func parseAdminDetails(s string) (int64, string, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, "", false
	}
	id, ok := parseUserID(fields[0])
	if !ok {
		return 0, "", false
	}
	return id, fields[1], true
}

func parseUserID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
