// Package access classifies callers into roles and enforces the membership
// precondition for privileged roles.
package access

import (
	"context"
	"log/slog"

	"github.com/hpungsan/modrelay/internal/admins"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/logging"
)

// Role is a caller's privilege level.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Privileged reports whether the role bypasses review.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Identity is a caller resolved for one event. It is never persisted.
type Identity struct {
	ID    int64
	Alias string
	Role  Role
}

// Denial reasons carried by PERMISSION_DENIED errors.
const (
	ReasonRole              = "role"
	ReasonNotMember         = "not_member"
	ReasonMembershipUnknown = "membership_unknown"
)

// Directory looks up admins.
type Directory interface {
	Lookup(id int64) (admins.Admin, bool, error)
}

// MembershipChecker asks the transport whether a user belongs to a chat.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// Notifier delivers the side effects of a failed membership check.
type Notifier interface {
	// NotMember tells the caller they must join the required chat.
	NotMember(ctx context.Context, userID int64)
	// MembershipUnknown alerts the owner that the check itself failed.
	MembershipUnknown(ctx context.Context, userID int64, err error)
}

// Classifier resolves roles. The owner check is a comparison; the admin check
// reads the directory; privileged callers are checked for membership on every
// call, never from a cache.
type Classifier struct {
	OwnerID        int64
	OwnerAlias     string
	RequiredChatID int64
	Directory      Directory
	Members        MembershipChecker
	Notifier       Notifier
	Logger         *slog.Logger

	// OnMembershipError is called when the membership query fails.
	OnMembershipError func()
}

// Role returns the caller's identity without the membership check. A directory
// read failure is logged and the caller is treated as a regular user.
func (c *Classifier) Role(userID int64) Identity {
	if userID == c.OwnerID {
		alias := c.OwnerAlias
		if alias == "" {
			alias = "Owner"
		}
		return Identity{ID: userID, Alias: alias, Role: RoleOwner}
	}
	if c.Directory != nil {
		a, ok, err := c.Directory.Lookup(userID)
		if err != nil {
			logging.OrDiscard(c.Logger).Error("admin directory lookup failed", "user_id", userID, "error", err)
			return Identity{ID: userID, Role: RoleUser}
		}
		if ok {
			return Identity{ID: userID, Alias: a.Alias, Role: RoleAdmin}
		}
	}
	return Identity{ID: userID, Role: RoleUser}
}

// Classify resolves the caller and, for privileged roles, verifies membership
// of the required chat. A non-member is told to join; a failed query alerts
// the owner. Both are rejected with PERMISSION_DENIED.
func (c *Classifier) Classify(ctx context.Context, userID int64) (Identity, error) {
	id := c.Role(userID)
	if !id.Role.Privileged() || c.Members == nil {
		return id, nil
	}

	logger := logging.OrDiscard(c.Logger)
	member, err := c.Members.IsMember(ctx, c.RequiredChatID, userID)
	if err != nil {
		logger.Error("membership check failed", "user_id", userID, "chat_id", c.RequiredChatID, "error", err)
		if c.OnMembershipError != nil {
			c.OnMembershipError()
		}
		if c.Notifier != nil {
			c.Notifier.MembershipUnknown(ctx, userID, err)
		}
		return id, errors.NewPermissionDenied(userID, ReasonMembershipUnknown)
	}
	if !member {
		logger.Warn("privileged caller is not a member", "user_id", userID, "role", id.Role)
		if c.Notifier != nil {
			c.Notifier.NotMember(ctx, userID)
		}
		return id, errors.NewPermissionDenied(userID, ReasonNotMember)
	}
	return id, nil
}

// RequirePrivileged rejects regular users.
func RequirePrivileged(id Identity) error {
	if !id.Role.Privileged() {
		return errors.NewPermissionDenied(id.ID, ReasonRole)
	}
	return nil
}

// RequireOwner rejects everyone but the owner.
func RequireOwner(id Identity) error {
	if id.Role != RoleOwner {
		return errors.NewPermissionDenied(id.ID, ReasonRole)
	}
	return nil
}
