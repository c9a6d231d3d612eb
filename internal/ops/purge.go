package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/modrelay/internal/db"
	"github.com/hpungsan/modrelay/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	OlderThanDays int // required, at least 1
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes settled submissions not touched for OlderThanDays.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	if input.OlderThanDays < 1 {
		return nil, errors.NewInvalidRequest("older_than_days must be at least 1")
	}
	cutoff := time.Now().Add(-time.Duration(input.OlderThanDays) * 24 * time.Hour).Unix()

	count, err := db.PurgeDecided(ctx, database, cutoff)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count, olderThanDays int) string {
	if count == 0 {
		return "No settled submissions to purge"
	}
	word := "submission"
	if count > 1 {
		word = "submissions"
	}
	return fmt.Sprintf("Permanently deleted %d %s (settled more than %d days ago)", count, word, olderThanDays)
}
