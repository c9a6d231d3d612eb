package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/db"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/submission"
)

// RecordInput contains parameters for the RecordSubmission operation.
type RecordInput struct {
	SubmitterID     int64
	SubmitterChatID int64
	SubmitterRole   string
	Subject         string
	Items           []content.Item    // required
	Status          submission.Status // required

	// Review coordinates; required for pending submissions
	ReviewChatID     int64
	ControlMessageID int
	HeaderMessageID  int
	ReviewMessageIDs []int

	DecidedBy      int64
	DecidedByAlias string
	Error          string
}

// RecordSubmission stores a new submission and returns it with its ID.
// Decided statuses (direct, failed, ...) are stamped with a decision time.
func RecordSubmission(ctx context.Context, database *sql.DB, input RecordInput) (*submission.Submission, error) {
	if len(input.Items) == 0 {
		return nil, errors.NewEmptySubmission()
	}
	if !input.Status.Valid() {
		return nil, errors.NewInvalidRequest("unknown status " + string(input.Status))
	}
	if input.Status == submission.StatusPending && (input.ReviewChatID == 0 || input.ControlMessageID == 0) {
		return nil, errors.NewInvalidRequest("pending submissions need review coordinates")
	}
	if strings.TrimSpace(input.SubmitterRole) == "" {
		input.SubmitterRole = "user"
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()

	s := &submission.Submission{
		ID:               id,
		SubmitterID:      input.SubmitterID,
		SubmitterChatID:  input.SubmitterChatID,
		SubmitterRole:    input.SubmitterRole,
		Subject:          input.Subject,
		Kind:             content.Label(input.Items),
		Items:            input.Items,
		ReviewChatID:     input.ReviewChatID,
		ControlMessageID: input.ControlMessageID,
		HeaderMessageID:  input.HeaderMessageID,
		ReviewMessageIDs: input.ReviewMessageIDs,
		Status:           input.Status,
		DecidedBy:        input.DecidedBy,
		DecidedByAlias:   input.DecidedByAlias,
		Error:            input.Error,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if input.Status.Decided() {
		s.DecidedAt = &now
	}

	if err := db.Insert(ctx, database, s); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewConflict("review message already has a submission")
		}
		return nil, err
	}
	return s, nil
}
