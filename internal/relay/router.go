package relay

import (
	"context"
	"strconv"
	"strings"

	"github.com/hpungsan/modrelay/internal/access"
	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/conversation"
	"github.com/hpungsan/modrelay/internal/token"
)

// Command names.
const (
	CommandStart       = "start"
	CommandSubmit      = "submit"
	CommandCancel      = "cancel"
	CommandAdmins      = "admins"
	CommandAddAdmin    = "addadmin"
	CommandRemoveAdmin = "removeadmin"
)

// Commands lists the commands the relay understands.
var Commands = []string{CommandStart, CommandSubmit, CommandCancel, CommandAdmins, CommandAddAdmin, CommandRemoveAdmin}

// admit resolves the caller for a message event. Regular users pass the rate
// limiter first, except for follow-up items of an album that is already
// collecting. Privileged callers are checked for membership on every event.
func (r *Relay) admit(ctx context.Context, userID, chatID int64, item *content.Item) (access.Identity, bool) {
	id := r.Classifier.Role(userID)
	if id.Role == access.RoleUser && r.Limiter != nil {
		followUp := item != nil && item.Grouped() && r.Albums != nil && r.Albums.Pending(item.GroupID)
		if !followUp && !r.Limiter.Admit(userID, r.now()) {
			r.Metrics.RateLimited()
			r.logger().Info("rate limited", "user_id", userID)
			r.reply(ctx, chatID, "rate_limit_exceeded", nil)
			return id, false
		}
	}
	if !id.Role.Privileged() {
		return id, true
	}
	id, err := r.Classifier.Classify(ctx, userID)
	if err != nil {
		// the classifier already notified the caller or the owner
		return id, false
	}
	return id, true
}

// OnMessage handles text, media and grouped media from a private chat.
func (r *Relay) OnMessage(ctx context.Context, ev MessageEvent) {
	kind := "text"
	switch {
	case ev.Item.Grouped():
		kind = "grouped"
	case !ev.Item.IsText():
		kind = "content"
	}
	r.Metrics.Inbound(kind)

	id, ok := r.admit(ctx, ev.UserID, ev.ChatID, &ev.Item)
	if !ok {
		return
	}
	out := r.Conversations.Apply(ev.UserID, conversation.Message(ev.Item))
	r.perform(ctx, id, ev.ChatID, out)
}

// OnCommand handles slash commands from a private chat.
func (r *Relay) OnCommand(ctx context.Context, ev CommandEvent) {
	r.Metrics.Inbound("command")

	id, ok := r.admit(ctx, ev.UserID, ev.ChatID, nil)
	if !ok {
		return
	}

	switch ev.Name {
	case CommandStart:
		r.send(ctx, ev.ChatID, r.Locale.T("welcome", nil), r.startMenu(id))
	case CommandSubmit:
		r.perform(ctx, id, ev.ChatID, r.Conversations.Apply(ev.UserID, conversation.Start()))
	case CommandCancel:
		r.perform(ctx, id, ev.ChatID, r.Conversations.Apply(ev.UserID, conversation.Cancel()))
	case CommandAdmins:
		if access.RequireOwner(id) != nil {
			r.reply(ctx, ev.ChatID, "not_allowed", nil)
			return
		}
		r.listAdmins(ctx, ev.ChatID)
	case CommandAddAdmin:
		if access.RequireOwner(id) != nil {
			r.reply(ctx, ev.ChatID, "not_allowed", nil)
			return
		}
		fields := strings.Fields(ev.Args)
		if len(fields) != 2 {
			r.reply(ctx, ev.ChatID, "usage_addadmin", nil)
			return
		}
		adminID, ok := parseID(fields[0])
		if !ok {
			r.reply(ctx, ev.ChatID, "usage_addadmin", nil)
			return
		}
		r.addAdmin(ctx, id, ev.ChatID, adminID, fields[1])
	case CommandRemoveAdmin:
		if access.RequireOwner(id) != nil {
			r.reply(ctx, ev.ChatID, "not_allowed", nil)
			return
		}
		adminID, ok := parseID(strings.TrimSpace(ev.Args))
		if !ok {
			r.reply(ctx, ev.ChatID, "usage_removeadmin", nil)
			return
		}
		r.removeAdmin(ctx, id, ev.ChatID, adminID)
	default:
		r.logger().Debug("unknown command ignored", "command", ev.Name, "user_id", ev.UserID)
	}
}

// startMenu builds the welcome controls. Admin management is owner-only.
func (r *Relay) startMenu(id access.Identity) content.Keyboard {
	kb := content.Keyboard{{{Label: r.Locale.Plain("button_submit", nil), Token: token.Encode(token.ActionStartSubmit)}}}
	if id.Role == access.RoleOwner {
		kb = append(kb,
			[]content.Button{{Label: r.Locale.Plain("button_add_admin", nil), Token: token.Encode(token.ActionStartAddAdmin)}},
			[]content.Button{{Label: r.Locale.Plain("button_remove_admin", nil), Token: token.Encode(token.ActionStartRemoveAdmin)}},
		)
	}
	return kb
}

// perform carries out the effect of a transition. It runs outside the
// conversation lock.
func (r *Relay) perform(ctx context.Context, id access.Identity, chatID int64, out conversation.Outcome) {
	switch out.Effect {
	case conversation.EffectNone:
	case conversation.EffectPromptSubject:
		r.reply(ctx, chatID, "ask_for_subject", nil)
	case conversation.EffectPromptContent:
		r.reply(ctx, chatID, "ask_for_content", nil)
	case conversation.EffectPromptAdminDetails:
		r.reply(ctx, chatID, "prompt_admin_details", nil)
	case conversation.EffectPromptAdminRemoval:
		r.reply(ctx, chatID, "prompt_admin_removal", nil)
	case conversation.EffectCancelled:
		r.reply(ctx, chatID, "cancelled", nil)
	case conversation.EffectFormatError:
		r.logger().Debug("format error", "user_id", id.ID, "stage", out.Next.Stage, "error", out.Err)
		r.reply(ctx, chatID, out.Reprompt, nil)
	case conversation.EffectCollect:
		r.collect(id.ID, chatID, out.Item)
	case conversation.EffectSubmit:
		r.handleSubmission(ctx, id, chatID, out.Subject, out.Items)
	case conversation.EffectAddAdmin:
		if access.RequireOwner(id) != nil {
			r.reply(ctx, chatID, "not_allowed", nil)
			return
		}
		r.addAdmin(ctx, id, chatID, out.AdminID, out.AdminAlias)
	case conversation.EffectRemoveAdmin:
		if access.RequireOwner(id) != nil {
			r.reply(ctx, chatID, "not_allowed", nil)
			return
		}
		r.removeAdmin(ctx, id, chatID, out.AdminID)
	}
}

// collect hands a grouped item to the aggregator. The completion is applied
// to whatever state the user is in when the group closes.
func (r *Relay) collect(userID, chatID int64, item content.Item) {
	ok := r.Albums.Collect(item.GroupID, item, func(groupID string, items []content.Item) {
		r.onAlbumComplete(userID, chatID, groupID, items)
	})
	if !ok {
		r.logger().Warn("album item dropped, aggregator closed", "user_id", userID, "group_id", item.GroupID)
	}
}

func (r *Relay) onAlbumComplete(userID, chatID int64, groupID string, items []content.Item) {
	ctx := r.baseContext()
	if ctx.Err() != nil {
		return
	}
	r.Metrics.AlbumCompleted(len(items))
	r.logger().Info("album complete", "user_id", userID, "group_id", groupID, "items", len(items))

	// membership was checked for every item; only the role is re-read
	id := r.Classifier.Role(userID)
	out := r.Conversations.Apply(userID, conversation.AlbumComplete(items))
	r.perform(ctx, id, chatID, out)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
