// Package main provides the CLI entrypoint for aurora.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JohanCodinha/aurora/internal/app"
	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/spf13/cobra"
)

var log = logger.Named("cli")

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// cli holds the state shared by every command of one invocation.
type cli struct {
	configPath string
	dbPath     string
	logLevel   string
	logFile    string
	jsonOut    bool

	settings config.Settings
	app      *app.App
}

// execute builds a fresh command tree, runs it with args and releases the
// app whether or not the command succeeded.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	defer c.close()
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aurora",
		Short: "Turn liked posts into Linear issues",
		Long: `aurora syncs liked social-media posts into Linear issues.

Each post is synced at most once. Posts that cannot be synced right away are
queued and retried in the background by "aurora serve", which also exposes
the command surface over HTTP for the browser extension.`,
		SilenceUsage:       true,
		PersistentPreRunE:  c.open,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return c.close() },
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "settings file (default "+config.DefaultSettingsPath()+")")
	pf.StringVar(&c.dbPath, "db", "", "database path (overrides settings)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&c.logFile, "log-file", "", "also append log lines to this file")
	pf.BoolVar(&c.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		c.serveCmd(),
		c.submitCmd(),
		c.statusCmd(),
		c.statsCmd(),
		c.recentCmd(),
		c.queueCmd(),
		c.tokenCmd(),
		c.teamCmd(),
		c.checkCmd(),
		c.configCmd(),
		c.historyCmd(),
		c.previewCmd(),
		c.debugCmd(),
	)
	return root
}

// open loads settings, applies flag overrides, configures logging and opens
// the app.
func (c *cli) open(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" {
		return nil
	}

	settings, err := config.LoadSettings(c.configPath)
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		settings.DBPath = config.ExpandPath(c.dbPath)
	}
	if c.logLevel != "" {
		settings.LogLevel = c.logLevel
	}
	if c.logFile != "" {
		settings.LogFile = config.ExpandPath(c.logFile)
	}

	level, err := logger.ParseLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if settings.LogFile != "" {
		if err := logger.SetLogFile(settings.LogFile); err != nil {
			return err
		}
	}

	a, err := app.Open(settings)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", settings.DBPath, err)
	}
	c.settings = settings
	c.app = a
	log.Debug("running %q with database %s", cmd.CommandPath(), settings.DBPath)
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	logger.Close()
	return err
}

// printJSON writes v indented. It is the --json output of every command.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
