package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/QueryWarden/internal/adapter/postgres"
	"github.com/Strob0t/QueryWarden/internal/config"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/logger"
)

// runMigrate handles: migrate [up|down [steps]|version].
func runMigrate(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	dsn := cfg.Postgres.DSN

	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Migrations applied.")
	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil || steps < 1 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}
		if err := postgres.RollbackMigrations(ctx, dsn, steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s).\n", steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, dsn)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		return fmt.Errorf("unknown migrate command: %s (want up, down or version)", cmd)
	}
	return nil
}

// runSessions prints the monitored database's running backends.
func runSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON (default when stdout is not a terminal)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Target)
	if err != nil {
		return fmt.Errorf("connect to target database: %w", err)
	}
	defer pool.Close()

	recs, err := postgres.NewInspector(pool).ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		return printJSON(os.Stdout, recs)
	}
	return printSessions(os.Stdout, recs)
}

func printSessions(out io.Writer, recs []pgsession.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(out, "No running backends.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PID\tSTATE\tELAPSED\tUSER\tAPPLICATION\tQUERY")
	for i := range recs {
		r := &recs[i]
		query := strings.Join(strings.Fields(r.Preview()), " ")
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.PID, r.State, r.Elapsed.Round(time.Second), r.Username, r.ApplicationName, query)
	}
	return w.Flush()
}

// runSubmit runs a single flow in-process and prints the final session.
func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "maximum time to wait for the flow")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("ticket text is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, logCloser := logger.NewWithWriter(cfg.Logging, os.Stderr)
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.flows.Start(ctx, text)
	if err != nil {
		return fmt.Errorf("start flow: %w", err)
	}
	sess, err := a.flows.Await(ctx, id)
	if err != nil {
		return fmt.Errorf("await flow %s: %w", id, err)
	}
	return printJSON(os.Stdout, sess)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
