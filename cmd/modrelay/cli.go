package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/modrelay/internal/admins"
	"github.com/hpungsan/modrelay/internal/config"
	"github.com/hpungsan/modrelay/internal/db"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/mcp"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/submission"
)

// env carries what commands share. Fields left nil are loaded on first use,
// so tests can inject a config and output writer.
type env struct {
	cfg    *config.Config
	out    io.Writer
	logger *slog.Logger

	db        *sql.DB
	admins    *admins.Directory
	closers   []io.Closer
	ownLogger bool
}

func (e *env) log() *slog.Logger {
	return logging.OrDiscard(e.logger)
}

// load reads the config file and environment, then builds the logger.
func (e *env) load(path string) error {
	if e.cfg == nil {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		e.cfg = cfg
	}
	if e.logger == nil {
		l := e.cfg.Logging
		logger, closer, err := logging.New(logging.Options{
			Level:     l.Level,
			Format:    l.Format,
			File:      l.File,
			MaxSizeMB: l.MaxSizeMB,
			Backups:   l.Backups,
		}, os.Stderr)
		if err != nil {
			return err
		}
		e.logger = logger
		e.ownLogger = true
		e.closers = append(e.closers, closer)
	}
	return nil
}

// openDB opens the ledger once.
func (e *env) openDB() (*sql.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	if err := e.cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	database, err := db.Open(e.cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.ConfigurePool(database, e.cfg)
	e.db = database
	e.closers = append(e.closers, database)
	return database, nil
}

// openAdmins opens the admin directory once. The owner is reserved.
func (e *env) openAdmins() (*admins.Directory, error) {
	if e.admins != nil {
		return e.admins, nil
	}
	if err := e.cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	dir, err := admins.Open(e.cfg.AdminsPath(), e.cfg.Backups(), e.cfg.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("open admin directory: %w", err)
	}
	e.admins = dir
	return dir, nil
}

// close releases everything opened since the last close.
func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
	e.closers = nil
	e.db = nil
	e.admins = nil
	if e.ownLogger {
		e.logger = nil
		e.ownLogger = false
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	if e.out == nil {
		e.out = os.Stdout
	}
	app := &cli.App{
		Name:    "modrelay",
		Usage:   "Telegram submission relay with moderator review",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "modrelay.yaml",
				EnvVars: []string{"MODRELAY_CONFIG"},
				Usage:   "YAML config file (missing file means defaults)",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Args().Len() == 0 || c.Args().First() == "help" {
				return nil
			}
			return e.load(c.String("config"))
		},
		After: func(*cli.Context) error {
			e.close()
			return nil
		},
		Commands: []*cli.Command{
			runCmd(e),
			adminsCmd(e),
			submissionsCmd(e),
			mcpCmd(e),
			webCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd creates the run command.
func runCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the bot (long polling) until interrupted",
		Action: func(c *cli.Context) error {
			return runRelay(c.Context, e)
		},
	}
}

// adminsCmd creates the admins command group.
func adminsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "admins",
		Usage: "Manage moderators",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List moderators",
				Action: func(c *cli.Context) error {
					dir, err := e.openAdmins()
					if err != nil {
						return outputError(err)
					}
					list, err := dir.List()
					if err != nil {
						return outputError(err)
					}
					if list == nil {
						list = []admins.Admin{}
					}
					return e.outputJSON(mcp.AdminListOutput{Admins: list})
				},
			},
			{
				Name:      "add",
				Usage:     "Add a moderator",
				ArgsUsage: "<id> <alias>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("usage: admins add <id> <alias>"))
					}
					id, err := parseUserID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					dir, err := e.openAdmins()
					if err != nil {
						return outputError(err)
					}
					alias := strings.Join(c.Args().Tail(), " ")
					added, err := dir.Add(id, alias)
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(mcp.AdminChangeOutput{ID: id, Changed: added})
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a moderator",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("usage: admins remove <id>"))
					}
					id, err := parseUserID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					dir, err := e.openAdmins()
					if err != nil {
						return outputError(err)
					}
					removed, err := dir.Remove(id)
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(mcp.AdminChangeOutput{ID: id, Changed: removed})
				},
			},
		},
	}
}

// submissionsCmd creates the submissions command group.
func submissionsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:    "submissions",
		Aliases: []string{"subs"},
		Usage:   "Inspect the submission ledger",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List submissions, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status"},
					&cli.Int64Flag{Name: "submitter", Usage: "Filter by submitter id"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					status, err := parseStatusFlag(c.String("status"))
					if err != nil {
						return outputError(err)
					}
					input := ops.ListInput{
						Status: status,
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					}
					if c.IsSet("submitter") {
						id := c.Int64("submitter")
						input.SubmitterID = &id
					}

					database, err := e.openDB()
					if err != nil {
						return outputError(err)
					}
					output, err := ops.ListSubmissions(c.Context, database, input)
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show one submission",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("usage: submissions show <id>"))
					}
					database, err := e.openDB()
					if err != nil {
						return outputError(err)
					}
					output, err := ops.GetSubmission(c.Context, database, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				},
			},
			{
				Name:  "stats",
				Usage: "Count submissions per status",
				Action: func(c *cli.Context) error {
					database, err := e.openDB()
					if err != nil {
						return outputError(err)
					}
					output, err := ops.Stats(c.Context, database)
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				},
			},
			{
				Name:  "export",
				Usage: "Export submissions to a JSONL file in the exports directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: <exports>/submissions-<status>-<timestamp>.jsonl)"},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Only export this status"},
				},
				Action: func(c *cli.Context) error {
					status, err := parseStatusFlag(c.String("status"))
					if err != nil {
						return outputError(err)
					}
					database, err := e.openDB()
					if err != nil {
						return outputError(err)
					}
					output, err := ops.Export(c.Context, database, ops.ExportInput{
						ExportsDir: e.cfg.ExportsDir(),
						Path:       c.String("path"),
						Status:     status,
					})
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				},
			},
			{
				Name:  "purge",
				Usage: "Permanently delete settled submissions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "older-than", Required: true, Usage: "Only purge if settled more than N days ago (e.g., 30d)"},
				},
				Action: func(c *cli.Context) error {
					days, err := parseDuration(c.String("older-than"))
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					database, err := e.openDB()
					if err != nil {
						return outputError(err)
					}
					output, err := ops.Purge(c.Context, database, ops.PurgeInput{OlderThanDays: days})
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				},
			},
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve operator tools over MCP (stdio)",
		Action: func(c *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(e.cfg.MCP.DisabledTools); len(unknown) > 0 {
				e.log().Warn("ignoring unknown disabled tools", "tools", unknown)
			}
			database, err := e.openDB()
			if err != nil {
				return outputError(err)
			}
			dir, err := e.openAdmins()
			if err != nil {
				return outputError(err)
			}
			return mcp.Run(database, dir, e.cfg, Version)
		},
	}
}

// webCmd creates the web command.
func webCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the read-only dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("bind") {
				e.cfg.Web.Bind = c.String("bind")
			}
			if c.IsSet("port") {
				e.cfg.Web.Port = c.Int("port")
			}
			return serveDashboard(c.Context, e)
		},
	}
}

// Helper functions

// outputJSON marshals result to the command output as JSON.
func (e *env) outputJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var relayErr *errors.RelayError
	if stderrors.As(err, &relayErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", relayErr.Code, relayErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseUserID parses a positive Telegram user id.
func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid user id %q", s))
	}
	return id, nil
}

// parseStatusFlag parses an optional status filter.
func parseStatusFlag(s string) (*submission.Status, error) {
	if s == "" {
		return nil, nil
	}
	st, err := submission.ParseStatus(s)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &st, nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 30d")
}
