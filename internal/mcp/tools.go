package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/modrelay/internal/submission"
)

func statusNames() []string {
	names := make([]string, len(submission.Statuses))
	for i, s := range submission.Statuses {
		names[i] = string(s)
	}
	return names
}

var adminListToolDef = mcp.NewTool("admin_list",
	mcp.WithDescription("List the moderators allowed to review submissions and post directly."),
)

var adminAddToolDef = mcp.NewTool("admin_add",
	mcp.WithDescription("Add a moderator. Adding an existing id is a no-op; the owner cannot be added."),
	mcp.WithNumber("id", mcp.Required(), mcp.Description("Telegram user id")),
	mcp.WithString("alias", mcp.Required(), mcp.Description("Display name used in review logs")),
)

var adminRemoveToolDef = mcp.NewTool("admin_remove",
	mcp.WithDescription("Remove a moderator by Telegram user id."),
	mcp.WithNumber("id", mcp.Required(), mcp.Description("Telegram user id")),
)

var submissionListToolDef = mcp.NewTool("submission_list",
	mcp.WithDescription("List submissions, newest first."),
	mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(statusNames()...)),
	mcp.WithNumber("submitter_id", mcp.Description("Filter by submitter Telegram id")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var submissionGetToolDef = mcp.NewTool("submission_get",
	mcp.WithDescription("Get one submission with its items and review coordinates."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Submission id (ULID)")),
)

var submissionStatsToolDef = mcp.NewTool("submission_stats",
	mcp.WithDescription("Count submissions per status."),
)

var submissionExportToolDef = mcp.NewTool("submission_export",
	mcp.WithDescription("Export submissions, oldest first, to a JSONL file in the exports directory."),
	mcp.WithString("path", mcp.Description("Target file name inside the exports directory (.jsonl)")),
	mcp.WithString("status", mcp.Description("Only export this status"), mcp.Enum(statusNames()...)),
)

var submissionPurgeToolDef = mcp.NewTool("submission_purge",
	mcp.WithDescription("Permanently delete settled submissions (approved, rejected, direct, failed) not updated for the given number of days."),
	mcp.WithNumber("older_than_days", mcp.Required(), mcp.Description("Minimum age in days, at least 1")),
)
