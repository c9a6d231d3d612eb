package relay

import (
	"context"

	"github.com/hpungsan/modrelay/internal/access"
	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/events"
	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/submission"
	"github.com/hpungsan/modrelay/internal/token"
)

// handleSubmission emits a finished submission. Privileged callers publish
// straight to the output channel; everyone else goes through review.
func (r *Relay) handleSubmission(ctx context.Context, id access.Identity, chatID int64, subject string, items []content.Item) {
	if len(items) == 0 {
		r.logger().Warn("empty submission ignored", "user_id", id.ID, "error", errors.NewEmptySubmission())
		return
	}
	r.Metrics.Submission(string(id.Role))

	if id.Role.Privileged() {
		r.publishDirect(ctx, id, chatID, subject, items)
		return
	}
	r.submitForReview(ctx, id, chatID, subject, items)
}

func (r *Relay) publishDirect(ctx context.Context, id access.Identity, chatID int64, subject string, items []content.Item) {
	logger := r.logger().With("user_id", id.ID, "role", id.Role)

	pubErr := r.Publisher.PublishToOutput(ctx, items, subject, false)

	rec := ops.RecordInput{
		SubmitterID:     id.ID,
		SubmitterChatID: chatID,
		SubmitterRole:   string(id.Role),
		Subject:         subject,
		Items:           items,
		Status:          submission.StatusDirect,
		DecidedBy:       id.ID,
		DecidedByAlias:  id.Alias,
	}
	if pubErr != nil {
		rec.Status = submission.StatusFailed
		rec.Error = pubErr.Error()
	}
	s := r.record(ctx, rec)

	ev := events.Event{
		Type:        events.TypeDirect,
		SubmitterID: id.ID,
		Role:        string(id.Role),
		Subject:     subject,
		Kind:        content.Label(items),
		Items:       len(items),
		DecidedBy:   id.ID,
	}
	if s != nil {
		ev.SubmissionID = s.ID
	}

	if pubErr != nil {
		logger.Error("direct post failed", "error", pubErr)
		ev.Type = events.TypePublishFailed
		ev.Error = pubErr.Error()
		r.emit(ctx, ev)
		r.reply(ctx, chatID, "admin_direct_post_failed", nil)
		return
	}

	logger.Info("direct post published", "items", len(items))
	r.reply(ctx, r.ReviewChatID, "admin_direct_post_log", locale.Params{
		"admin_alias": id.Alias,
		"admin_id":    id.ID,
		"timestamp":   r.timestamp(),
		"subject":     subject,
	})
	r.emit(ctx, ev)
	r.reply(ctx, chatID, "admin_direct_post_ack", nil)
}

func (r *Relay) submitForReview(ctx context.Context, id access.Identity, chatID int64, subject string, items []content.Item) {
	logger := r.logger().With("user_id", id.ID)

	header := r.Locale.T("report_message_header", locale.Params{
		"user_id":      id.ID,
		"role":         r.Locale.Plain("role_"+string(id.Role), nil),
		"subject":      subject,
		"message_type": content.Label(items),
		"timestamp":    r.timestamp(),
	})
	controls := token.DecisionKeyboard(id.ID, subject,
		r.Locale.Plain("button_approve", nil),
		r.Locale.Plain("button_delete", nil))

	rc, fwdErr := r.Publisher.ForwardToReview(ctx, items, header, controls)

	rec := ops.RecordInput{
		SubmitterID:     id.ID,
		SubmitterChatID: chatID,
		SubmitterRole:   string(id.Role),
		Subject:         subject,
		Items:           items,
		Status:          submission.StatusPending,
		ReviewChatID:    r.ReviewChatID,
		HeaderMessageID: rc.HeaderID,
	}
	if fwdErr != nil {
		rec.Status = submission.StatusFailed
		rec.Error = fwdErr.Error()
	} else {
		rec.ControlMessageID = rc.ControlMessageID
		rec.ReviewMessageIDs = rc.ReviewMessageIDs
	}
	s := r.record(ctx, rec)

	ev := events.Event{
		Type:        events.TypeReceived,
		SubmitterID: id.ID,
		Role:        string(id.Role),
		Subject:     subject,
		Kind:        content.Label(items),
		Items:       len(items),
	}
	if s != nil {
		ev.SubmissionID = s.ID
	}
	if fwdErr != nil {
		ev.Type = events.TypePublishFailed
		ev.Error = fwdErr.Error()
	} else {
		logger.Info("submission forwarded to review", "control_message_id", rc.ControlMessageID, "items", len(items))
	}
	r.emit(ctx, ev)

	// the submitter is acknowledged even when forwarding failed
	r.reply(ctx, chatID, "submission_received", nil)
}

// record writes a ledger row. The ledger is bookkeeping; a failure is
// logged and never blocks delivery.
func (r *Relay) record(ctx context.Context, in ops.RecordInput) *submission.Submission {
	if r.Ledger == nil {
		return nil
	}
	s, err := r.Ledger.Record(ctx, in)
	if err != nil {
		r.logger().Error("ledger record failed", "user_id", in.SubmitterID, "status", in.Status, "error", err)
		return nil
	}
	return s
}
