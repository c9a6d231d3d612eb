package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/modrelay/internal/submission"
)

// Ledger binds the ledger operations to one database for the relay.
type Ledger struct {
	DB *sql.DB
}

func (l Ledger) Record(ctx context.Context, input RecordInput) (*submission.Submission, error) {
	return RecordSubmission(ctx, l.DB, input)
}

func (l Ledger) Claim(ctx context.Context, input ClaimInput) (*ClaimOutput, error) {
	return ClaimDecision(ctx, l.DB, input)
}

func (l Ledger) Complete(ctx context.Context, id string) error {
	return CompleteDecision(ctx, l.DB, id)
}

func (l Ledger) Release(ctx context.Context, id, reason string) error {
	return ReleaseDecision(ctx, l.DB, id, reason)
}
