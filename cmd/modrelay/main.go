package main

import (
	"fmt"
	"os"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a short usage banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  modrelay: Telegram submission relay with moderator review

  Usage: modrelay <command> [options]
         modrelay --help

  Without arguments and with piped stdin, modrelay serves MCP over stdio.`)
}

func main() {
	args := os.Args
	if len(args) < 2 {
		// No args + interactive terminal: show banner and exit
		if isTerminal() {
			printBanner()
			return
		}
		// No args + piped stdin: MCP server mode
		args = append(args, "mcp")
	}

	app := newCLIApp(&env{out: os.Stdout})
	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
