package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// dispatch runs the server when no subcommand is given.
func dispatch(args []string) error {
	if len(args) == 0 {
		return runServe()
	}

	switch args[0] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate(args[1:])
	case "sessions":
		return runSessions(args[1:])
	case "submit":
		return runSubmit(args[1:])
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: querywarden [command] [options]

Commands:
  serve                     Run the HTTP API and flow engine (default)
  migrate [up|down|version] Manage the flow session schema
  sessions                  List running backends on the monitored database
  submit "ticket text"      Run one flow to completion and print the session
  help                      Show this help message

Configuration is read from querywarden.yaml (or $QUERYWARDEN_CONFIG) and
environment variables such as DATABASE_URL, TARGET_DATABASE_URL and NATS_URL.
`)
}
