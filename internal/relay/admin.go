package relay

import (
	"context"
	"strings"

	"github.com/hpungsan/modrelay/internal/access"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/locale"
)

func (r *Relay) addAdmin(ctx context.Context, owner access.Identity, chatID, adminID int64, alias string) {
	logger := r.logger().With("owner_id", owner.ID, "admin_id", adminID)

	added, err := r.Directory.Add(adminID, alias)
	switch {
	case errors.Is(err, errors.ErrInvalidRequest) && adminID == r.Classifier.OwnerID:
		r.reply(ctx, chatID, "admin_owner_reserved", nil)
	case err != nil:
		logger.Error("add admin failed", "error", err)
		r.reply(ctx, chatID, "internal_error", nil)
	case !added:
		r.reply(ctx, chatID, "admin_exists", locale.Params{"user_id": adminID})
	default:
		logger.Info("admin added", "alias", alias)
		r.reply(ctx, chatID, "admin_added", locale.Params{"alias": alias, "user_id": adminID})
	}
}

func (r *Relay) removeAdmin(ctx context.Context, owner access.Identity, chatID, adminID int64) {
	logger := r.logger().With("owner_id", owner.ID, "admin_id", adminID)

	removed, err := r.Directory.Remove(adminID)
	switch {
	case err != nil:
		logger.Error("remove admin failed", "error", err)
		r.reply(ctx, chatID, "internal_error", nil)
	case !removed:
		r.reply(ctx, chatID, "admin_not_found", locale.Params{"user_id": adminID})
	default:
		logger.Info("admin removed")
		r.reply(ctx, chatID, "admin_removed", locale.Params{"user_id": adminID})
	}
}

func (r *Relay) listAdmins(ctx context.Context, chatID int64) {
	list, err := r.Directory.List()
	if err != nil {
		r.logger().Error("list admins failed", "error", err)
		r.reply(ctx, chatID, "internal_error", nil)
		return
	}
	if len(list) == 0 {
		r.reply(ctx, chatID, "admin_list_empty", nil)
		return
	}
	lines := []string{r.Locale.T("admin_list_header", nil)}
	for _, a := range list {
		lines = append(lines, r.Locale.T("admin_list_item", locale.Params{"alias": a.Alias, "user_id": a.ID}))
	}
	r.send(ctx, chatID, strings.Join(lines, "\n"), nil)
}
