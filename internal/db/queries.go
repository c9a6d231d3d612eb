package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/submission"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.RelayError{
	Code:    errors.ErrConflict,
	Message: "unique constraint violation",
}

const selectColumns = `
	id, submitter_id, submitter_chat_id, submitter_role, subject, kind,
	items_json, review_chat_id, control_message_id, header_message_id,
	review_ids_json, status, decided_by, decided_by_alias, error,
	created_at, updated_at, decided_at`

// Insert stores a new submission in the ledger.
func Insert(ctx context.Context, db *sql.DB, s *submission.Submission) error {
	itemsJSON, err := json.Marshal(s.Items)
	if err != nil {
		return errors.NewInternal(err)
	}
	var reviewIDs sql.NullString
	if len(s.ReviewMessageIDs) > 0 {
		data, err := json.Marshal(s.ReviewMessageIDs)
		if err != nil {
			return errors.NewInternal(err)
		}
		reviewIDs = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO submissions (
			id, submitter_id, submitter_chat_id, submitter_role, subject, kind,
			items_json, review_chat_id, control_message_id, header_message_id,
			review_ids_json, status, decided_by, decided_by_alias, error,
			created_at, updated_at, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.ExecContext(ctx, query,
		s.ID, s.SubmitterID, s.SubmitterChatID, s.SubmitterRole, s.Subject, s.Kind,
		string(itemsJSON), nullInt64(s.ReviewChatID), nullInt(s.ControlMessageID), nullInt(s.HeaderMessageID),
		reviewIDs, string(s.Status), nullInt64(s.DecidedBy), nullString(s.DecidedByAlias), nullString(s.Error),
		s.CreatedAt, s.UpdatedAt, s.DecidedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a submission by its ULID.
func GetByID(ctx context.Context, db *sql.DB, id string) (*submission.Submission, error) {
	row := db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM submissions WHERE id = ?`, id)
	s, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// GetByControl retrieves the submission whose decision controls live on the
// given review message.
func GetByControl(ctx context.Context, db *sql.DB, reviewChatID int64, controlMessageID int) (*submission.Submission, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM submissions WHERE review_chat_id = ? AND control_message_id = ?`,
		reviewChatID, controlMessageID)
	s, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(controlKey(reviewChatID, controlMessageID))
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// StatusChange describes a compare-and-set status transition.
type StatusChange struct {
	ID             string
	From           []submission.Status // current status must be one of these
	To             submission.Status
	DecidedBy      int64  // 0 leaves the column unchanged
	DecidedByAlias string // empty leaves the column unchanged
	Error          *string
	Decided        bool // stamps decided_at
}

// ChangeStatus applies c atomically. It reports false when the submission
// exists but its status is not one of c.From.
func ChangeStatus(ctx context.Context, db *sql.DB, c StatusChange) (bool, error) {
	if len(c.From) == 0 {
		return false, errors.NewInvalidRequest("status change needs at least one source status")
	}
	now := time.Now().Unix()

	var decidedAt sql.NullInt64
	if c.Decided {
		decidedAt = sql.NullInt64{Int64: now, Valid: true}
	}
	var errText sql.NullString
	if c.Error != nil {
		errText = sql.NullString{String: *c.Error, Valid: true}
	}

	query := `
		UPDATE submissions
		SET status = ?, updated_at = ?,
			decided_by = COALESCE(?, decided_by),
			decided_by_alias = COALESCE(?, decided_by_alias),
			error = CASE WHEN ? THEN ? ELSE error END,
			decided_at = COALESCE(?, decided_at)
		WHERE id = ? AND status IN (` + placeholders(len(c.From)) + `)
	`
	args := []any{
		string(c.To), now,
		nullInt64(c.DecidedBy),
		nullString(c.DecidedByAlias),
		c.Error != nil, errText,
		decidedAt,
		c.ID,
	}
	for _, st := range c.From {
		args = append(args, string(st))
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	if rowsAffected == 1 {
		return true, nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE id = ?`, c.ID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, errors.NewNotFound(c.ID)
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return false, nil
}

// ListFilters narrows List and StreamForExport. Nil fields match everything.
type ListFilters struct {
	Status      *submission.Status
	SubmitterID *int64
}

func (f ListFilters) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.SubmitterID != nil {
		clauses = append(clauses, "submitter_id = ?")
		args = append(args, *f.SubmitterID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns submission summaries, newest first, plus the total matching count.
func List(ctx context.Context, db *sql.DB, f ListFilters, limit, offset int) ([]submission.Summary, int, error) {
	where, args := f.where()

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT id, submitter_id, submitter_role, subject, kind,
			json_array_length(items_json), status, decided_by_alias,
			created_at, updated_at
		FROM submissions` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []submission.Summary
	for rows.Next() {
		var (
			s     submission.Summary
			alias sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.SubmitterID, &s.SubmitterRole, &s.Subject, &s.Kind,
			&s.ItemCount, &s.Status, &alias, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		s.DecidedByAlias = alias.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// CountByStatus returns the number of submissions per status. Statuses with
// no rows are absent from the map.
func CountByStatus(ctx context.Context, db *sql.DB) (map[submission.Status]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := map[submission.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[submission.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// StreamForExport returns rows of full submissions, oldest first. The caller
// must close the rows and scan them with ScanSubmissionFromRows.
func StreamForExport(ctx context.Context, db *sql.DB, f ListFilters) (*sql.Rows, error) {
	where, args := f.where()
	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM submissions`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanSubmissionFromRows scans the current row of StreamForExport.
func ScanSubmissionFromRows(rows *sql.Rows) (*submission.Submission, error) {
	return scanSubmission(rows)
}

// PurgeDecided permanently deletes settled submissions last updated before cutoff.
// Pending and publishing submissions are never purged.
func PurgeDecided(ctx context.Context, db *sql.DB, cutoff int64) (int, error) {
	var decided []any
	for _, st := range submission.Statuses {
		if st.Decided() {
			decided = append(decided, string(st))
		}
	}
	query := `DELETE FROM submissions WHERE updated_at < ? AND status IN (` + placeholders(len(decided)) + `)`
	result, err := db.ExecContext(ctx, query, append([]any{cutoff}, decided...)...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSubmission scans a single row into a Submission struct.
func scanSubmission(row scanner) (*submission.Submission, error) {
	var (
		s              submission.Submission
		itemsJSON      string
		reviewChatID   sql.NullInt64
		controlID      sql.NullInt64
		headerID       sql.NullInt64
		reviewIDsJSON  sql.NullString
		status         string
		decidedBy      sql.NullInt64
		decidedByAlias sql.NullString
		errText        sql.NullString
		decidedAt      sql.NullInt64
	)

	err := row.Scan(
		&s.ID, &s.SubmitterID, &s.SubmitterChatID, &s.SubmitterRole, &s.Subject, &s.Kind,
		&itemsJSON, &reviewChatID, &controlID, &headerID,
		&reviewIDsJSON, &status, &decidedBy, &decidedByAlias, &errText,
		&s.CreatedAt, &s.UpdatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ReviewChatID = reviewChatID.Int64
	s.ControlMessageID = int(controlID.Int64)
	s.HeaderMessageID = int(headerID.Int64)
	s.Status = submission.Status(status)
	s.DecidedBy = decidedBy.Int64
	s.DecidedByAlias = decidedByAlias.String
	s.Error = errText.String
	if decidedAt.Valid {
		s.DecidedAt = &decidedAt.Int64
	}

	if err := json.Unmarshal([]byte(itemsJSON), &s.Items); err != nil {
		return nil, err
	}
	if reviewIDsJSON.Valid && reviewIDsJSON.String != "" {
		if err := json.Unmarshal([]byte(reviewIDsJSON.String), &s.ReviewMessageIDs); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func controlKey(chatID int64, messageID int) string {
	return "control " + strconv.FormatInt(chatID, 10) + "/" + strconv.Itoa(messageID)
}

// nullInt64 maps the zero value to NULL.
func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullInt(v int) sql.NullInt64 {
	return nullInt64(int64(v))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
