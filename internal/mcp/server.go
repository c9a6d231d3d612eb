// Package mcp exposes admin and submission ledger tools to operators over
// the Model Context Protocol (stdio).
package mcp

import (
	"database/sql"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/modrelay/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"admin_list": {
		def:     adminListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAdminList },
	},
	"admin_add": {
		def:     adminAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAdminAdd },
	},
	"admin_remove": {
		def:     adminRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAdminRemove },
	},
	"submission_list": {
		def:     submissionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmissionList },
	},
	"submission_get": {
		def:     submissionGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmissionGet },
	},
	"submission_stats": {
		def:     submissionStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmissionStats },
	},
	"submission_export": {
		def:     submissionExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmissionExport },
	},
	"submission_purge": {
		def:     submissionPurgeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmissionPurge },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the relay tools registered. Tools
// listed in cfg.MCP.DisabledTools are left out.
func NewServer(db *sql.DB, admins AdminStore, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"modrelay",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, admins, cfg)

	disabled := make(map[string]bool, len(cfg.MCP.DisabledTools))
	for _, name := range cfg.MCP.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, admins AdminStore, cfg *config.Config, version string) error {
	s := NewServer(db, admins, cfg, version)
	return server.ServeStdio(s)
}
