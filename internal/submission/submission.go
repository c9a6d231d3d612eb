package submission

import (
	"github.com/hpungsan/modrelay/internal/content"
)

// Submission is one ledger record: a logical post (one item or an album)
// with its subject, where it landed for review, and what became of it.
type Submission struct {
	// ID is a ULID that uniquely identifies this submission
	ID string `json:"id"`

	// SubmitterID is the user id of the sender
	SubmitterID int64 `json:"submitter_id"`

	// SubmitterChatID is the private chat the content was sent in
	SubmitterChatID int64 `json:"submitter_chat_id"`

	// SubmitterRole is the role resolved when the submission completed
	SubmitterRole string `json:"submitter_role"`

	// Subject is the full subject text (action tokens only carry a prefix of it)
	Subject string `json:"subject"`

	// Kind is "album" for multi-item posts, otherwise the item kind
	Kind string `json:"kind"`

	// Items are the captured items in arrival order (stored as JSON in DB)
	Items []content.Item `json:"items"`

	// ReviewChatID is the review group the submission was forwarded to (0 for direct posts)
	ReviewChatID int64 `json:"review_chat_id,omitempty"`

	// ControlMessageID is the review message carrying the decision controls
	ControlMessageID int `json:"control_message_id,omitempty"`

	// HeaderMessageID is the review header the controls reply to
	HeaderMessageID int `json:"header_message_id,omitempty"`

	// ReviewMessageIDs are the review copies of the items, in item order
	ReviewMessageIDs []int `json:"review_message_ids,omitempty"`

	// Status is the lifecycle state
	Status Status `json:"status"`

	// DecidedBy is the reviewer (or privileged submitter) that settled the submission
	DecidedBy int64 `json:"decided_by,omitempty"`

	// DecidedByAlias is the display alias of DecidedBy
	DecidedByAlias string `json:"decided_by_alias,omitempty"`

	// Error holds the last delivery failure, if any
	Error string `json:"error,omitempty"`

	// CreatedAt is the Unix timestamp when the submission was recorded
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp of the last status change
	UpdatedAt int64 `json:"updated_at"`

	// DecidedAt is the Unix timestamp of the final decision (nullable)
	DecidedAt *int64 `json:"decided_at,omitempty"`
}

// ReviewItems returns the items re-pointed at their copies in the review
// group, so publishing after approval reads from the review post itself.
// Items without a recorded copy (id 0) keep their original coordinates.
func (s *Submission) ReviewItems() []content.Item {
	out := make([]content.Item, len(s.Items))
	for i, it := range s.Items {
		if i < len(s.ReviewMessageIDs) && s.ReviewMessageIDs[i] != 0 && s.ReviewChatID != 0 {
			it = it.At(s.ReviewChatID, s.ReviewMessageIDs[i])
		}
		out[i] = it
	}
	return out
}

// Summary returns the listing view of the submission.
func (s *Submission) Summary() Summary {
	return Summary{
		ID:             s.ID,
		SubmitterID:    s.SubmitterID,
		SubmitterRole:  s.SubmitterRole,
		Subject:        s.Subject,
		Kind:           s.Kind,
		ItemCount:      len(s.Items),
		Status:         s.Status,
		DecidedByAlias: s.DecidedByAlias,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
