package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/db"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/submission"
)

// Action is a reviewer decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDelete  Action = "delete"
)

// Fallback describes a review post the ledger has no row for, so a decision
// on it can still be claimed exactly once.
type Fallback struct {
	SubmitterID int64
	Subject     string
	Item        content.Item // the control message itself
}

// ClaimInput contains parameters for the ClaimDecision operation.
type ClaimInput struct {
	ReviewChatID     int64
	ControlMessageID int
	Action           Action
	DeciderID        int64
	DeciderAlias     string
	Fallback         *Fallback // optional
}

// ClaimOutput contains the result of the ClaimDecision operation.
type ClaimOutput struct {
	// Submission is the ledger row after the claim attempt
	Submission *submission.Submission `json:"submission"`

	// Claimed is false when another decision settled the submission first
	Claimed bool `json:"claimed"`
}

// ClaimDecision moves a pending submission to publishing (approve) or
// rejected (delete). Exactly one concurrent caller wins; the others get
// Claimed=false and the row as it stands.
func ClaimDecision(ctx context.Context, database *sql.DB, input ClaimInput) (*ClaimOutput, error) {
	var to submission.Status
	switch input.Action {
	case ActionApprove:
		to = submission.StatusPublishing
	case ActionDelete:
		to = submission.StatusRejected
	default:
		return nil, errors.NewInvalidRequest("action must be one of: approve, delete")
	}

	s, err := db.GetByControl(ctx, database, input.ReviewChatID, input.ControlMessageID)
	if errors.Is(err, errors.ErrNotFound) && input.Fallback != nil {
		claimed, fbErr := claimFallback(ctx, database, input, to)
		if fbErr != db.ErrUniqueConstraint {
			return claimed, fbErr
		}
		// a concurrent decision inserted the row first
		s, err = db.GetByControl(ctx, database, input.ReviewChatID, input.ControlMessageID)
	}
	if err != nil {
		return nil, err
	}

	ok, err := db.ChangeStatus(ctx, database, db.StatusChange{
		ID:             s.ID,
		From:           []submission.Status{submission.StatusPending},
		To:             to,
		DecidedBy:      input.DeciderID,
		DecidedByAlias: input.DeciderAlias,
		Decided:        to.Decided(),
	})
	if err != nil {
		return nil, err
	}

	current, err := db.GetByID(ctx, database, s.ID)
	if err != nil {
		return nil, err
	}
	return &ClaimOutput{Submission: current, Claimed: ok}, nil
}

// claimFallback records the unknown review post directly in its claimed state.
func claimFallback(ctx context.Context, database *sql.DB, input ClaimInput, to submission.Status) (*ClaimOutput, error) {
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	fb := input.Fallback
	s := &submission.Submission{
		ID:               id,
		SubmitterID:      fb.SubmitterID,
		SubmitterRole:    "user",
		Subject:          fb.Subject,
		Kind:             string(fb.Item.Kind),
		Items:            []content.Item{fb.Item},
		ReviewChatID:     input.ReviewChatID,
		ControlMessageID: input.ControlMessageID,
		Status:           to,
		DecidedBy:        input.DeciderID,
		DecidedByAlias:   input.DeciderAlias,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if to.Decided() {
		s.DecidedAt = &now
	}
	if err := db.Insert(ctx, database, s); err != nil {
		return nil, err
	}
	return &ClaimOutput{Submission: s, Claimed: true}, nil
}

// CompleteDecision marks a publishing submission approved.
func CompleteDecision(ctx context.Context, database *sql.DB, id string) error {
	cleared := ""
	ok, err := db.ChangeStatus(ctx, database, db.StatusChange{
		ID:      id,
		From:    []submission.Status{submission.StatusPublishing},
		To:      submission.StatusApproved,
		Error:   &cleared,
		Decided: true,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewConflict("submission " + id + " is not being published")
	}
	return nil
}

// ReleaseDecision returns a publishing submission to pending after a failed
// publish, recording why, so the decision can be retried.
func ReleaseDecision(ctx context.Context, database *sql.DB, id, reason string) error {
	ok, err := db.ChangeStatus(ctx, database, db.StatusChange{
		ID:    id,
		From:  []submission.Status{submission.StatusPublishing},
		To:    submission.StatusPending,
		Error: &reason,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewConflict("submission " + id + " is not being published")
	}
	return nil
}

// FindByControl returns the submission whose controls live on the given
// review message.
func FindByControl(ctx context.Context, database *sql.DB, reviewChatID int64, controlMessageID int) (*submission.Submission, error) {
	return db.GetByControl(ctx, database, reviewChatID, controlMessageID)
}
