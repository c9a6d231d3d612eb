// Package content holds the transport-neutral message model shared by the
// relay core and its transport adapter.
package content

import (
	"strings"
	"unicode/utf8"
)

// Kind is the type of a captured message.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindVoice    Kind = "voice"
	KindDocument Kind = "document"
	KindUnknown  Kind = "unknown"
)

// KindAlbum is the label used for multi-item submissions in headers and the ledger.
const KindAlbum = "album"

// Item is one captured message. Items are immutable once captured.
type Item struct {
	SourceChatID    int64  `json:"source_chat_id"`
	SourceMessageID int    `json:"source_message_id"`
	Kind            Kind   `json:"kind"`
	Text            string `json:"text,omitempty"`      // text for KindText, caption otherwise
	MediaRef        string `json:"media_ref,omitempty"` // opaque transport file handle
	GroupID         string `json:"group_id,omitempty"`  // album correlation id, empty when not grouped
}

// IsText reports whether the item is a plain text message.
func (i Item) IsText() bool {
	return i.Kind == KindText
}

// Grouped reports whether the item arrived as part of an album.
func (i Item) Grouped() bool {
	return i.GroupID != ""
}

// Batchable reports whether the item can be part of a batched media post.
func (i Item) Batchable() bool {
	switch i.Kind {
	case KindPhoto, KindVideo, KindAudio, KindDocument:
		return i.MediaRef != ""
	}
	return false
}

// At returns a copy of the item re-pointed at another message, keeping its
// kind, text and media reference.
func (i Item) At(chatID int64, messageID int) Item {
	i.SourceChatID = chatID
	i.SourceMessageID = messageID
	return i
}

// Label returns the kind label for a set of items: "album" for more than one
// item, otherwise the kind of the single item.
func Label(items []Item) string {
	switch len(items) {
	case 0:
		return string(KindUnknown)
	case 1:
		return string(items[0].Kind)
	default:
		return KindAlbum
	}
}

// Button is one interactive decision control.
type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Keyboard is a grid of buttons attached to a message. A nil keyboard removes
// any controls.
type Keyboard [][]Button

// CleanText trims whitespace and reports whether anything is left.
func CleanText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Truncate cuts s to at most max runes, appending marker when cut.
func Truncate(s string, max int, marker string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + marker
}
