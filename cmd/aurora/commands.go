package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/JohanCodinha/aurora/internal/api"
	"github.com/JohanCodinha/aurora/internal/app"
	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/sync"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// emit prints v as JSON under --json, otherwise through human.
func (c *cli) emit(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), v)
	}
	human(cmd.OutOrStdout())
	return nil
}

// fail turns an unsuccessful response into the command's error after
// printing it.
func (c *cli) fail(cmd *cobra.Command, v any, msg string) error {
	if c.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), v); err != nil {
			return err
		}
	}
	return errors.New(msg)
}

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync loop",
		Long: `Serve the command surface over HTTP and run the background sweeps: the
retry queue every queueIntervalMinutes and the preview list's auto-sync.

Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := c.settings.ListenAddr
			if listen != "" {
				addr = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- c.app.Run(ctx) }()

			fmt.Fprintf(cmd.OutOrStdout(), "serving on http://%s\n", addr)
			err := api.Serve(ctx, addr, api.NewRouter(c.app))
			stop()
			<-done
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides settings)")
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file|->",
		Short: "Submit a liked post read as JSON from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := readPost(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			resp := c.app.SubmitLikedPost(cmd.Context(), post)
			if !resp.Success && !resp.Queued {
				return c.fail(cmd, resp, resp.Error)
			}
			return c.emit(cmd, resp, func(w io.Writer) {
				fmt.Fprintln(w, describeSubmit(post.ID, resp))
			})
		},
	}
}

// readPost decodes a post from the file at path, or from in when path is "-".
func readPost(in io.Reader, path string) (models.Post, error) {
	var post models.Post

	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return post, fmt.Errorf("failed to open post: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&post); err != nil {
		return post, fmt.Errorf("failed to decode post: %w", err)
	}
	return post, nil
}

func describeSubmit(id string, resp app.SubmitResponse) string {
	switch {
	case resp.Queued:
		return fmt.Sprintf("queued %s for retry: %s", id, resp.Error)
	case resp.Pending && resp.Preview != nil:
		return fmt.Sprintf("holding %s for preview, auto-sync %s", id, humanize.Time(resp.Preview.AutoSyncAt))
	case resp.Pending:
		return fmt.Sprintf("holding %s for preview", id)
	case resp.Skipped:
		return fmt.Sprintf("skipped %s (%s)", id, resp.Outcome)
	case resp.Issue != nil:
		return fmt.Sprintf("synced %s as %s %s", id, resp.Issue.Identifier, resp.Issue.URL)
	default:
		return fmt.Sprintf("synced %s", id)
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a sync is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := c.app.GetSyncStatus()
			return c.emit(cmd, status, func(w io.Writer) {
				if status.IsSync && status.CurrentPost != nil {
					fmt.Fprintf(w, "syncing %s\n", status.CurrentPost.ID)
					return
				}
				fmt.Fprintln(w, "idle")
			})
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show sync counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := c.app.GetSyncStats()
			return c.emit(cmd, stats, func(w io.Writer) {
				writeStats(w, stats)
			})
		},
	}
}

func writeStats(w io.Writer, stats models.SyncStats) {
	fmt.Fprintf(w, "total:    %s\n", humanize.Comma(int64(stats.TotalSynced)))
	fmt.Fprintf(w, "today:    %s\n", humanize.Comma(int64(stats.TodaySynced)))
	fmt.Fprintf(w, "failures: %s\n", humanize.Comma(int64(stats.FailureCount)))
	fmt.Fprintf(w, "last:     %s\n", ago(stats.LastSyncTime))
}

func ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func (c *cli) recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently synced posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recent := c.app.GetRecentPosts(limit)
			return c.emit(cmd, recent, func(w io.Writer) {
				writeRecent(w, recent)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", app.DefaultRecentLimit, "number of posts to show")
	return cmd
}

func writeRecent(w io.Writer, recent []models.RecentPost) {
	if len(recent) == 0 {
		fmt.Fprintln(w, "nothing synced yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range recent {
		t := r.SyncedAt
		fmt.Fprintf(tw, "%s\t@%s\t%s\t%s\n", r.IssueIdentifier, r.Post.Author.Handle, ago(&t), r.IssueURL)
	}
	tw.Flush()
}

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or drain the retry queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List queued posts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				queue := c.app.GetQueue()
				return c.emit(cmd, queue, func(w io.Writer) {
					writeQueue(w, queue)
				})
			},
		},
		&cobra.Command{
			Use:   "process",
			Short: "Retry every queued post now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp := c.app.ProcessQueueNow(cmd.Context())
				if !resp.Success {
					return c.fail(cmd, resp, resp.Error)
				}
				return c.emit(cmd, resp, func(w io.Writer) {
					fmt.Fprintln(w, describeSweep(resp.Report))
				})
			},
		},
	)
	return cmd
}

func writeQueue(w io.Writer, queue []models.QueueEntry) {
	if len(queue) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range queue {
		t := e.AddedAt
		fmt.Fprintf(tw, "%s\tretries %d\tadded %s\n", e.Post.ID, e.RetryCount, ago(&t))
	}
	tw.Flush()
}

func describeSweep(r *sync.SweepReport) string {
	if r == nil {
		return "nothing processed"
	}
	return fmt.Sprintf("processed %d: %d synced, %d failed, %d dropped, %d skipped",
		r.Processed, r.Synced, r.Failed, r.Dropped, r.Skipped)
}

func (c *cli) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Linear API token",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Validate and store a Linear API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := c.app.SetCredential(cmd.Context(), strings.TrimSpace(args[0]))
			if !resp.Success {
				return c.fail(cmd, resp, resp.Error)
			}
			return c.emit(cmd, resp, func(w io.Writer) {
				fmt.Fprintln(w, "token saved")
			})
		},
	})
	return cmd
}

func (c *cli) teamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Choose the Linear team issues are created in",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the teams the token can see",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp := c.app.GetTeams(cmd.Context())
				if !resp.Success {
					return c.fail(cmd, resp, resp.Error)
				}
				return c.emit(cmd, resp, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					for _, t := range resp.Teams {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Key, t.Name)
					}
					tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the configured team",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.showTeam(cmd, c.app.GetTeam(cmd.Context()))
			},
		},
		&cobra.Command{
			Use:   "set <id>",
			Short: "Validate and store the team id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.showTeam(cmd, c.app.SetTeam(cmd.Context(), strings.TrimSpace(args[0])))
			},
		},
	)
	return cmd
}

func (c *cli) showTeam(cmd *cobra.Command, resp app.TeamResponse) error {
	if !resp.Success {
		return c.fail(cmd, resp, resp.Error)
	}
	return c.emit(cmd, resp, func(w io.Writer) {
		if resp.Team == nil {
			fmt.Fprintln(w, resp.TeamID)
			return
		}
		fmt.Fprintf(w, "%s (%s) %s\n", resp.Team.Name, resp.Team.Key, resp.Team.ID)
	})
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the token, the team and that Linear answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := c.app.CheckConnection(cmd.Context())
			if !conn.Connected {
				return c.fail(cmd, conn, fmt.Sprintf("not connected (%s): %s", conn.Status, conn.Error))
			}
			return c.emit(cmd, conn, func(w io.Writer) {
				if conn.Viewer != nil {
					fmt.Fprintf(w, "connected as %s <%s>\n", conn.Viewer.Name, conn.Viewer.Email)
					return
				}
				fmt.Fprintln(w, "connected")
			})
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change sync settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print the settings, or one of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := c.app.GetConfig()
				if len(args) == 0 {
					return printJSON(cmd.OutOrStdout(), cfg)
				}
				v, err := configValue(cfg, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key=value>...",
			Short: "Change settings",
			Long: `Change one or more settings. Values are read as JSON when they parse
as JSON and as plain strings otherwise:

  aurora config set enablePreview=true autoSyncDelay=600000 titleStyle=author`,
			Args: cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				partial, err := parseAssignments(args)
				if err != nil {
					return err
				}
				resp := c.app.SetConfig(partial)
				if !resp.Success {
					return c.fail(cmd, resp, resp.Error)
				}
				return c.emit(cmd, resp, func(w io.Writer) {
					keys := make([]string, 0, len(partial))
					for k := range partial {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					fmt.Fprintf(w, "updated %s\n", strings.Join(keys, ", "))
				})
			},
		},
	)
	return cmd
}

// parseAssignments turns key=value arguments into a partial config update.
func parseAssignments(args []string) (map[string]json.RawMessage, error) {
	partial := make(map[string]json.RawMessage, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: must be in the format key=value", arg)
		}
		if json.Valid([]byte(value)) {
			partial[key] = json.RawMessage(value)
			continue
		}
		quoted, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		partial[key] = quoted
	}
	return partial, nil
}

// configValue returns the JSON value of one setting by its JSON name.
func configValue(cfg any, key string) (json.RawMessage, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	v, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	return v, nil
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage sync history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget synced posts, the queue, the counters and the recent list",
		Long: `Forget every synced post id, the retry queue, the counters and the recent
list, and restart the install clock. Posts liked before now count as
historical afterwards. Preview entries are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := c.app.ClearSyncHistory()
			if !resp.Success {
				return c.fail(cmd, resp, resp.Error)
			}
			return c.emit(cmd, resp, func(w io.Writer) {
				fmt.Fprintln(w, "history cleared")
			})
		},
	})
	return cmd
}

func (c *cli) previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Review posts held before syncing",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List preview entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				entries := c.app.GetPreviewQueue()
				return c.emit(cmd, entries, func(w io.Writer) {
					writePreview(w, entries)
				})
			},
		},
		&cobra.Command{
			Use:   "confirm <id>",
			Short: "Sync a held post now",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp := c.app.ConfirmPreviewItem(cmd.Context(), args[0])
				if !resp.Success {
					return c.fail(cmd, resp, resp.Error)
				}
				return c.emit(cmd, resp, func(w io.Writer) {
					if resp.Issue != nil {
						fmt.Fprintf(w, "synced %s as %s %s\n", args[0], resp.Issue.Identifier, resp.Issue.URL)
						return
					}
					fmt.Fprintf(w, "confirmed %s (%s)\n", args[0], resp.Outcome)
				})
			},
		},
		&cobra.Command{
			Use:   "skip <id>",
			Short: "Drop a held post without syncing it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp := c.app.SkipPreviewItem(args[0])
				if !resp.Success {
					return c.fail(cmd, resp, resp.Error)
				}
				return c.emit(cmd, resp, func(w io.Writer) {
					fmt.Fprintf(w, "skipped %s\n", args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "confirm-all",
			Short: "Sync every held post",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.batch(cmd, c.app.ConfirmAllPreview(cmd.Context()), "confirmed")
			},
		},
		&cobra.Command{
			Use:   "skip-all",
			Short: "Drop every held post",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.batch(cmd, c.app.SkipAllPreview(), "skipped")
			},
		},
	)
	return cmd
}

func (c *cli) batch(cmd *cobra.Command, resp app.BatchPreviewResponse, verb string) error {
	if !resp.Success {
		return c.fail(cmd, resp, resp.Error)
	}
	return c.emit(cmd, resp, func(w io.Writer) {
		fmt.Fprintf(w, "%s %d\n", verb, resp.Count)
		for _, r := range resp.Results {
			if r.Error != "" {
				fmt.Fprintf(w, "  error: %s\n", r.Error)
			}
		}
	})
}

func writePreview(w io.Writer, entries []models.PreviewEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no posts held for preview")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		when := "auto-sync " + humanize.Time(e.AutoSyncAt)
		if e.Status != models.PreviewPending && e.DecidedAt != nil {
			when = "decided " + humanize.Time(*e.DecidedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t@%s\t%s\n", e.Post.ID, e.Status, e.Post.Author.Handle, when)
	}
	tw.Flush()
}

func (c *cli) debugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Print diagnostic information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := c.app.GetDebugInfo()
			return c.emit(cmd, info, func(w io.Writer) {
				writeDebug(w, info)
			})
		},
	}
}

func writeDebug(w io.Writer, info app.DebugInfo) {
	token := "not configured"
	if info.TokenConfigured {
		token = "configured"
	}
	installed := time.UnixMilli(info.InstallTimestamp)

	fmt.Fprintf(w, "token:      %s\n", token)
	fmt.Fprintf(w, "team:       %s\n", info.TeamID)
	fmt.Fprintf(w, "endpoint:   %s\n", info.Endpoint)
	if info.DBPath != "" {
		fmt.Fprintf(w, "database:   %s\n", info.DBPath)
	}
	fmt.Fprintf(w, "storage:    %s\n", humanize.Bytes(uint64(max(info.StorageBytes, 0))))
	fmt.Fprintf(w, "installed:  %s\n", humanize.Time(installed))
	fmt.Fprintf(w, "synced ids: %s\n", humanize.Comma(int64(info.SyncedCount)))
	fmt.Fprintf(w, "queue:      %d\n", info.QueueSize)
	fmt.Fprintf(w, "preview:    %d (%d timers)\n", info.PreviewSize, info.PendingTimers)
	if len(info.InFlight) > 0 {
		fmt.Fprintf(w, "in flight:  %s\n", strings.Join(info.InFlight, ", "))
	}
	writeStats(w, info.Stats)
}
