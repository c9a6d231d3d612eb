package relay

import (
	"context"
	"log/slog"

	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/publish"
)

// Notifier delivers membership failures: a notice to the caller, or an
// alert to the owner when the check itself could not run.
type Notifier struct {
	Transport      publish.Transport
	Locale         *locale.Resolver
	OwnerID        int64
	RequiredChatID int64
	ChannelLink    string
	Logger         *slog.Logger
}

// NotMember implements access.Notifier.
func (n *Notifier) NotMember(ctx context.Context, userID int64) {
	text := n.Locale.T("must_be_member", locale.Params{"channel_link": n.ChannelLink})
	if _, err := n.Transport.SendText(ctx, userID, text, publish.SendOptions{}); err != nil {
		logging.OrDiscard(n.Logger).Warn("membership notice failed", "user_id", userID, "error", err)
	}
}

// MembershipUnknown implements access.Notifier.
func (n *Notifier) MembershipUnknown(ctx context.Context, userID int64, cause error) {
	text := n.Locale.T("membership_check_failed", locale.Params{
		"user_id": userID,
		"chat_id": n.RequiredChatID,
		"error":   cause.Error(),
	})
	if _, err := n.Transport.SendText(ctx, n.OwnerID, text, publish.SendOptions{}); err != nil {
		logging.OrDiscard(n.Logger).Error("owner alert failed", "user_id", userID, "error", err)
	}
}
