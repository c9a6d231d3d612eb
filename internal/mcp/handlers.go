package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/modrelay/internal/admins"
	"github.com/hpungsan/modrelay/internal/config"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/submission"
)

// AdminStore is the admin directory the tools manage.
type AdminStore interface {
	List() ([]admins.Admin, error)
	Add(id int64, alias string) (bool, error)
	Remove(id int64) (bool, error)
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	admins AdminStore
	cfg    *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, admins AdminStore, cfg *config.Config) *Handlers {
	return &Handlers{db: db, admins: admins, cfg: cfg}
}

// Request types for each tool

// AdminRequest represents the arguments for admin_add and admin_remove.
type AdminRequest struct {
	ID    int64  `json:"id"`
	Alias string `json:"alias,omitempty"`
}

// ListRequest represents the arguments for submission_list.
type ListRequest struct {
	Status      string `json:"status,omitempty"`
	SubmitterID *int64 `json:"submitter_id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// GetRequest represents the arguments for submission_get.
type GetRequest struct {
	ID string `json:"id"`
}

// ExportRequest represents the arguments for submission_export.
type ExportRequest struct {
	Path   string `json:"path,omitempty"`
	Status string `json:"status,omitempty"`
}

// PurgeRequest represents the arguments for submission_purge.
type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// AdminListOutput is the admin_list result.
type AdminListOutput struct {
	Admins []admins.Admin `json:"admins"`
}

// AdminChangeOutput is the admin_add and admin_remove result.
type AdminChangeOutput struct {
	ID      int64 `json:"id"`
	Changed bool  `json:"changed"`
}

// Handler implementations

// HandleAdminList handles the admin_list tool call.
func (h *Handlers) HandleAdminList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.admins.List()
	if err != nil {
		return errorResult(err), nil
	}
	if list == nil {
		list = []admins.Admin{}
	}
	return successResult(AdminListOutput{Admins: list})
}

// HandleAdminAdd handles the admin_add tool call.
func (h *Handlers) HandleAdminAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AdminRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ID <= 0 {
		return errorResult(errors.NewInvalidRequest("id must be a positive Telegram user id")), nil
	}

	added, err := h.admins.Add(input.ID, input.Alias)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(AdminChangeOutput{ID: input.ID, Changed: added})
}

// HandleAdminRemove handles the admin_remove tool call.
func (h *Handlers) HandleAdminRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AdminRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ID <= 0 {
		return errorResult(errors.NewInvalidRequest("id must be a positive Telegram user id")), nil
	}

	removed, err := h.admins.Remove(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(AdminChangeOutput{ID: input.ID, Changed: removed})
}

// HandleSubmissionList handles the submission_list tool call.
func (h *Handlers) HandleSubmissionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	status, err := optionalStatus(input.Status)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ListSubmissions(ctx, h.db, ops.ListInput{
		Status:      status,
		SubmitterID: input.SubmitterID,
		Limit:       input.Limit,
		Offset:      input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSubmissionGet handles the submission_get tool call.
func (h *Handlers) HandleSubmissionGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	result, err := ops.GetSubmission(ctx, h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSubmissionStats handles the submission_stats tool call.
func (h *Handlers) HandleSubmissionStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSubmissionExport handles the submission_export tool call.
func (h *Handlers) HandleSubmissionExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	status, err := optionalStatus(input.Status)
	if err != nil {
		return errorResult(err), nil
	}

	path := input.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(h.cfg.ExportsDir(), path)
	}

	result, err := ops.Export(ctx, h.db, ops.ExportInput{
		ExportsDir: h.cfg.ExportsDir(),
		Path:       path,
		Status:     status,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSubmissionPurge handles the submission_purge tool call.
func (h *Handlers) HandleSubmissionPurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Purge(ctx, h.db, ops.PurgeInput{OlderThanDays: input.OlderThanDays})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func optionalStatus(s string) (*submission.Status, error) {
	if s == "" {
		return nil, nil
	}
	st, err := submission.ParseStatus(s)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &st, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var relayErr *errors.RelayError
	if stderrors.As(err, &relayErr) {
		errorObj := map[string]any{
			"code":    relayErr.Code,
			"message": err.Error(),
		}
		if relayErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if relayErr.Details != nil {
			errorObj["details"] = relayErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
