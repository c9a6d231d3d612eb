package relay

import (
	"context"
	"html"
	"log/slog"
	"slices"

	"github.com/hpungsan/modrelay/internal/access"
	"github.com/hpungsan/modrelay/internal/conversation"
	"github.com/hpungsan/modrelay/internal/events"
	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/submission"
	"github.com/hpungsan/modrelay/internal/token"
)

// OnControl handles a pressed inline control: menu buttons and reviewer
// decisions. Every path answers the control exactly once.
func (r *Relay) OnControl(ctx context.Context, ev ControlEvent) {
	r.Metrics.Inbound("control")
	logger := r.logger().With("user_id", ev.FromUserID, "callback_id", ev.CallbackID)

	tok, err := token.Decode(ev.Token)
	if err != nil {
		logger.Warn("malformed control token", "error", err)
		r.Metrics.Decision("unknown", "malformed")
		r.answer(ctx, ev.CallbackID, "decision_malformed", false)
		return
	}

	id, err := r.Classifier.Classify(ctx, ev.FromUserID)
	if err != nil {
		r.answer(ctx, ev.CallbackID, "not_allowed", true)
		return
	}

	if !tok.IsDecision() {
		r.onMenu(ctx, id, ev, tok)
		return
	}

	if access.RequirePrivileged(id) != nil {
		logger.Warn("decision rejected", "role", id.Role)
		r.Metrics.Decision(string(tok.Action), "denied")
		r.answer(ctx, ev.CallbackID, "not_allowed", true)
		return
	}
	if ev.Message == nil {
		r.Metrics.Decision(string(tok.Action), "malformed")
		r.answer(ctx, ev.CallbackID, "decision_malformed", false)
		return
	}
	r.decide(ctx, id, ev, tok)
}

// onMenu starts a conversation flow from the welcome controls.
func (r *Relay) onMenu(ctx context.Context, id access.Identity, ev ControlEvent, tok token.Token) {
	chatID := ev.FromUserID
	if ev.Message != nil {
		chatID = ev.Message.ChatID
	}

	var cev conversation.Event
	switch tok.Action {
	case token.ActionStartSubmit:
		cev = conversation.Start()
	case token.ActionStartAddAdmin, token.ActionStartRemoveAdmin:
		if access.RequireOwner(id) != nil {
			r.answer(ctx, ev.CallbackID, "not_allowed", true)
			return
		}
		cev = conversation.Event{Kind: conversation.EventStartAddAdmin}
		if tok.Action == token.ActionStartRemoveAdmin {
			cev.Kind = conversation.EventStartRemoveAdmin
		}
	}

	r.answer(ctx, ev.CallbackID, "", false)
	r.perform(ctx, id, chatID, r.Conversations.Apply(id.ID, cev))
}

func (r *Relay) decide(ctx context.Context, id access.Identity, ev ControlEvent, tok token.Token) {
	logger := r.logger().With("user_id", id.ID, "action", tok.Action, "message_id", ev.Message.MessageID)

	action := ops.ActionApprove
	if tok.Action == token.ActionDelete {
		action = ops.ActionDelete
	}
	claim, err := r.Ledger.Claim(ctx, ops.ClaimInput{
		ReviewChatID:     ev.Message.ChatID,
		ControlMessageID: ev.Message.MessageID,
		Action:           action,
		DeciderID:        id.ID,
		DeciderAlias:     id.Alias,
		Fallback: &ops.Fallback{
			SubmitterID: tok.SubmitterID,
			Subject:     tok.Subject,
			Item:        ev.Message.Item,
		},
	})
	if err != nil {
		logger.Error("decision claim failed", "error", err)
		r.Metrics.Decision(string(action), "error")
		r.answer(ctx, ev.CallbackID, "internal_error", true)
		return
	}
	if !claim.Claimed {
		logger.Info("decision already handled", "submission_id", claim.Submission.ID, "status", claim.Submission.Status)
		r.Metrics.Decision(string(action), "already_handled")
		r.answer(ctx, ev.CallbackID, "decision_already_handled", false)
		return
	}

	if action == ops.ActionApprove {
		r.approve(ctx, id, ev, claim.Submission)
		return
	}
	r.reject(ctx, id, ev, claim.Submission)
}

func (r *Relay) approve(ctx context.Context, id access.Identity, ev ControlEvent, s *submission.Submission) {
	logger := r.logger().With("user_id", id.ID, "submission_id", s.ID)
	lifecycle := events.Event{
		SubmissionID: s.ID,
		SubmitterID:  s.SubmitterID,
		Role:         s.SubmitterRole,
		Subject:      s.Subject,
		Kind:         s.Kind,
		Items:        len(s.Items),
		DecidedBy:    id.ID,
	}

	if err := r.Publisher.PublishToOutput(ctx, s.ReviewItems(), s.Subject, true); err != nil {
		logger.Error("approved post could not be published", "error", err)
		if relErr := r.Ledger.Release(ctx, s.ID, err.Error()); relErr != nil {
			logger.Error("release claim failed", "error", relErr)
		}
		lifecycle.Type = events.TypePublishFailed
		lifecycle.Error = err.Error()
		r.emit(ctx, lifecycle)
		r.Metrics.Decision(string(ops.ActionApprove), "failed")
		r.answer(ctx, ev.CallbackID, "decision_failed", true)
		return
	}

	if err := r.Ledger.Complete(ctx, s.ID); err != nil {
		logger.Error("complete decision failed", "error", err)
	}
	logger.Info("submission approved")

	r.reply(ctx, r.ReviewChatID, "report_approved_log", locale.Params{
		"submitter_id": s.SubmitterID,
		"admin_alias":  id.Alias,
		"admin_id":     id.ID,
		"timestamp":    r.timestamp(),
		"subject":      s.Subject,
	})
	r.markApproved(ctx, logger, id, ev.Message)
	lifecycle.Type = events.TypeApproved
	r.emit(ctx, lifecycle)
	r.Metrics.Decision(string(ops.ActionApprove), "approved")
	r.answer(ctx, ev.CallbackID, "decision_approved", false)
}

// markApproved removes the controls. A captioned media copy also gets the
// approver appended to its caption, so the review group shows who approved it.
func (r *Relay) markApproved(ctx context.Context, logger *slog.Logger, id access.Identity, msg *ControlMessage) {
	if !msg.Item.IsText() && msg.Item.Text != "" {
		mark := r.Locale.T("review_approved_mark", locale.Params{"admin_alias": id.Alias})
		caption := html.EscapeString(msg.Item.Text) + "\n\n" + mark
		err := r.Transport.EditCaption(ctx, msg.ChatID, msg.MessageID, caption)
		if err == nil {
			return
		}
		logger.Warn("mark approved caption failed", "error", err)
	}
	if err := r.Transport.EditControls(ctx, msg.ChatID, msg.MessageID, nil); err != nil {
		logger.Warn("remove controls failed", "error", err)
	}
}

func (r *Relay) reject(ctx context.Context, id access.Identity, ev ControlEvent, s *submission.Submission) {
	logger := r.logger().With("user_id", id.ID, "submission_id", s.ID)
	logger.Info("submission deleted")

	r.reply(ctx, r.ReviewChatID, "report_deleted_log", locale.Params{
		"submitter_id": s.SubmitterID,
		"admin_alias":  id.Alias,
		"admin_id":     id.ID,
		"timestamp":    r.timestamp(),
	})

	chatID := ev.Message.ChatID
	for _, msgID := range reviewMessages(ev.Message, s) {
		if err := r.Transport.DeleteContent(ctx, chatID, msgID); err != nil {
			logger.Warn("delete review message failed", "message_id", msgID, "error", err)
		}
	}

	r.emit(ctx, events.Event{
		Type:         events.TypeRejected,
		SubmissionID: s.ID,
		SubmitterID:  s.SubmitterID,
		Role:         s.SubmitterRole,
		Subject:      s.Subject,
		Kind:         s.Kind,
		Items:        len(s.Items),
		DecidedBy:    id.ID,
	})
	r.Metrics.Decision(string(ops.ActionDelete), "deleted")
	r.answer(ctx, ev.CallbackID, "decision_deleted", false)
}

// reviewMessages lists what a deletion removes: the control message, the
// header it replies to and any album messages, each once.
func reviewMessages(msg *ControlMessage, s *submission.Submission) []int {
	ids := []int{msg.MessageID}
	header := s.HeaderMessageID
	if header == 0 {
		header = msg.ReplyToID
	}
	if header != 0 {
		ids = append(ids, header)
	}
	if s.ReviewChatID == msg.ChatID {
		ids = append(ids, s.ReviewMessageIDs...)
	}
	ids = slices.DeleteFunc(ids, func(id int) bool { return id == 0 })
	slices.Sort(ids)
	return slices.Compact(ids)
}
