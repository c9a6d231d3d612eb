package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/modrelay/internal/db"
	"github.com/hpungsan/modrelay/internal/submission"
)

// ListInput contains parameters for the ListSubmissions operation.
type ListInput struct {
	Status      *submission.Status // optional filter
	SubmitterID *int64             // optional filter
	Limit       int                // default: 20, max: 100
	Offset      int                // default: 0
}

// ListOutput contains the result of the ListSubmissions operation.
type ListOutput struct {
	Items      []submission.Summary `json:"items"`
	Pagination Pagination           `json:"pagination"`
	Sort       string               `json:"sort"`
}

// ListSubmissions retrieves submission summaries, newest first, with pagination.
func ListSubmissions(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	limit := clampLimit(input.Limit)
	offset := max(input.Offset, 0)

	filters := db.ListFilters{Status: input.Status, SubmitterID: input.SubmitterID}
	summaries, total, err := db.List(ctx, database, filters, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if summaries == nil {
		summaries = []submission.Summary{}
	}

	return &ListOutput{
		Items: summaries,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(summaries) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}

// GetSubmission retrieves one submission with its items.
func GetSubmission(ctx context.Context, database *sql.DB, id string) (*submission.Submission, error) {
	return db.GetByID(ctx, database, id)
}

// StatsOutput contains the result of the Stats operation.
type StatsOutput struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// Stats counts submissions per status. Every known status is present.
func Stats(ctx context.Context, database *sql.DB) (*StatsOutput, error) {
	counts, err := db.CountByStatus(ctx, database)
	if err != nil {
		return nil, err
	}
	out := &StatsOutput{ByStatus: make(map[string]int, len(submission.Statuses))}
	for _, st := range submission.Statuses {
		out.ByStatus[string(st)] = counts[st]
		out.Total += counts[st]
	}
	return out, nil
}
