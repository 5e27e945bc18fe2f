// Package main implements leekctl, the job-control CLI for the LeekSaver
// sync service. Trigger and status commands talk to a running server over
// its HTTP API; doctor runs the audit in-process against the store.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/leeksaver/leeksaver/internal/config"
	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/doctor"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/syncer"
	"github.com/leeksaver/leeksaver/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "leekctl",
		Usage: "control a running leeksaver sync service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "base URL of the sync service",
				Value:   "http://127.0.0.1:8000",
				EnvVars: []string{"LEEKSAVER_SERVER"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "trigger and inspect sync tasks",
				Subcommands: []*cli.Command{
					{
						Name:      "trigger",
						Usage:     "enqueue one task by name",
						ArgsUsage: "<task>",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "code", Usage: "limit the run to specific symbol codes"},
							&cli.StringFlag{Name: "date", Usage: "re-pull from this date (YYYY-MM-DD)"},
						},
						Action: runTrigger,
					},
					{
						Name:  "status",
						Usage: "show per-task runtime status",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "task", Usage: "limit output to one task"},
						},
						Action: runStatus,
					},
					{
						Name:   "errors",
						Usage:  "list open entries in the sync error ledger",
						Action: runErrors,
					},
				},
			},
			{
				Name:  "doctor",
				Usage: "audit the analytical store",
				Subcommands: []*cli.Command{
					{
						Name:   "run",
						Usage:  "run a full audit in-process and print the report",
						Action: runDoctor,
					},
				},
			},
			{
				Name:  "watchlist",
				Usage: "manage tracked symbols",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Action: runWatchlistList,
					},
					{
						Name:      "add",
						ArgsUsage: "<code>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "note"},
						},
						Action: runWatchlistAdd,
					},
					{
						Name:      "remove",
						ArgsUsage: "<code>",
						Action:    runWatchlistRemove,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "leekctl:", err)
		os.Exit(1)
	}
}

func apiClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func runTrigger(c *cli.Context) error {
	task := c.Args().First()
	if task == "" {
		return cli.Exit("usage: leekctl sync trigger <task>", 2)
	}

	u, err := url.Parse(fmt.Sprintf("%s/api/sync/trigger/%s", c.String("server"), task))
	if err != nil {
		return cli.Exit("bad server url: "+err.Error(), 2)
	}
	q := u.Query()
	if codes := c.StringSlice("code"); len(codes) > 0 {
		q.Set("code", strings.Join(codes, ","))
	}
	if date := c.String("date"); date != "" {
		q.Set("date", date)
	}
	u.RawQuery = q.Encode()

	resp, err := apiClient().Post(u.String(), "application/json", nil)
	if err != nil {
		return cli.Exit("server unreachable: "+err.Error(), 1)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Printf("task %s queued\n", task)
		return nil
	case http.StatusNotFound:
		return cli.Exit("unknown task: "+task, 2)
	case http.StatusBadRequest:
		body, _ := io.ReadAll(resp.Body)
		return cli.Exit(fmt.Sprintf("rejected: %s", body), 2)
	case http.StatusConflict:
		return cli.Exit("task already in flight: "+task, 1)
	default:
		body, _ := io.ReadAll(resp.Body)
		return cli.Exit(fmt.Sprintf("unexpected response %d: %s", resp.StatusCode, body), 1)
	}
}

func runStatus(c *cli.Context) error {
	resp, err := apiClient().Get(c.String("server") + "/api/sync/status")
	if err != nil {
		return cli.Exit("server unreachable: "+err.Error(), 1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cli.Exit(fmt.Sprintf("status request failed: %d", resp.StatusCode), 1)
	}

	var snaps []struct {
		TaskName    string `json:"task_name"`
		State       string `json:"state"`
		LastRunAt   string `json:"last_run_at"`
		NextRunAt   string `json:"next_run_at"`
		ProgressPct *int   `json:"progress_pct"`
		DurationMS  int64  `json:"duration_ms"`
		RowsWritten int    `json:"rows_written"`
		LastError   string `json:"last_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return cli.Exit("decode status: "+err.Error(), 1)
	}

	only := c.String("task")
	for _, s := range snaps {
		if only != "" && s.TaskName != only {
			continue
		}
		line := fmt.Sprintf("%-20s %-10s last_run=%s next=%s duration=%dms rows=%d",
			s.TaskName, s.State, orDash(s.LastRunAt), orDash(s.NextRunAt), s.DurationMS, s.RowsWritten)
		if s.ProgressPct != nil {
			line += fmt.Sprintf(" progress=%d%%", *s.ProgressPct)
		}
		if s.LastError != "" {
			line += " error=" + s.LastError
		}
		fmt.Println(line)
	}
	return nil
}

func runErrors(c *cli.Context) error {
	resp, err := apiClient().Get(c.String("server") + "/api/sync/errors")
	if err != nil {
		return cli.Exit("server unreachable: "+err.Error(), 1)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

// runDoctor opens the store directly and audits it without submitting
// backfills; repairs need the server's job runtime.
func runDoctor(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit("load config: "+err.Error(), 1)
	}
	log := logger.New(logger.Config{Level: "error", Pretty: true})

	db, err := database.New(database.Config{Path: filepath.Join(cfg.DataDir, "leeksaver.db")})
	if err != nil {
		return cli.Exit("open database: "+err.Error(), 1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return cli.Exit("migrate: "+err.Error(), 1)
	}

	deps := &syncer.Deps{
		Cfg:     cfg,
		Symbols: repository.NewSymbolRepository(db),
		Market:  repository.NewMarketDataRepository(db),
		Errors:  repository.NewSyncErrorRepository(db),
		Log:     log,
	}
	doc := doctor.New(deps, repository.NewAuditRepository(db), nil)

	report, err := doc.Run(context.Background())
	if err != nil {
		return cli.Exit("audit failed: "+err.Error(), 1)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return cli.Exit("encode report: "+err.Error(), 1)
	}
	fmt.Println(string(out))

	if report.ActionRequired {
		return cli.Exit("", 1)
	}
	return nil
}

func runWatchlistList(c *cli.Context) error {
	resp, err := apiClient().Get(c.String("server") + "/api/watchlist/")
	if err != nil {
		return cli.Exit("server unreachable: "+err.Error(), 1)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func runWatchlistAdd(c *cli.Context) error {
	code := c.Args().First()
	if code == "" {
		return cli.Exit("usage: leekctl watchlist add <code>", 2)
	}

	body, _ := json.Marshal(map[string]string{"code": code, "note": c.String("note")})
	resp, err := apiClient().Post(c.String("server")+"/api/watchlist/", "application/json",
		bytes.NewReader(body))
	if err != nil {
		return cli.Exit("server unreachable: "+err.Error(), 1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return cli.Exit(fmt.Sprintf("add failed: %d", resp.StatusCode), 1)
	}
	fmt.Printf("added %s\n", code)
	return nil
}

func runWatchlistRemove(c *cli.Context) error {
	code := c.Args().First()
	if code == "" {
		return cli.Exit("usage: leekctl watchlist remove <code>", 2)
	}

	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/watchlist/%s", c.String("server"), code), nil)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	resp, err := apiClient().Do(req)
	if err != nil {
		return cli.Exit("server unreachable: "+err.Error(), 1)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Printf("removed %s\n", code)
		return nil
	case http.StatusNotFound:
		return cli.Exit("not on watchlist: "+code, 1)
	default:
		return cli.Exit(fmt.Sprintf("remove failed: %d", resp.StatusCode), 1)
	}
}

func printBody(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return cli.Exit(fmt.Sprintf("request failed: %d", resp.StatusCode), 1)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println(string(body))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
