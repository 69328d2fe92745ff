package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"captestlog/internal/capture"
	"captestlog/internal/config"
	"captestlog/internal/logstore"
	"captestlog/internal/sysmon"
	"captestlog/pkg/eventlog"

	"github.com/spf13/cobra"
)

// captureFlags are shared by run and replay. Only flags the user set
// override the config file.
type captureFlags struct {
	configPath string
	device     string
	baud       int
	dir        string
	prefix     string
	overwrite  bool
	syncEvery  int
	journal    string
	listen     string
	logLevel   string
}

func (f *captureFlags) register(cmd *cobra.Command, withDevice bool) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "TOML config file (default: $"+config.EnvConfigPath+")")
	if withDevice {
		cmd.Flags().StringVarP(&f.device, "device", "d", "", "Serial device (default: /dev/ttyUSB0)")
		cmd.Flags().IntVarP(&f.baud, "baud", "b", 0, "Baud rate (default: 115200)")
	}
	cmd.Flags().StringVar(&f.dir, "dir", "", "Directory for session logs (default: current directory)")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Log filename prefix (default: captest_log_)")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "Truncate a log started in the same minute instead of numbering the new one")
	cmd.Flags().IntVar(&f.syncEvery, "sync-every", 0, "Payload bytes between fsyncs (default: 1)")
	cmd.Flags().StringVar(&f.journal, "journal", "", "Append session and marker events to this file")
	cmd.Flags().StringVar(&f.listen, "listen", "", "Serve the live viewer on this address, e.g. localhost:8080")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (default: info)")
}

// load merges defaults, the config file and the flags that were set.
func (f *captureFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("device") {
		cfg.Device = f.device
	}
	if changed("baud") {
		cfg.Baud = f.baud
	}
	if changed("dir") {
		cfg.LogDir = f.dir
	}
	if changed("prefix") {
		cfg.FilePrefix = f.prefix
	}
	if changed("overwrite") {
		cfg.Overwrite = f.overwrite
	}
	if changed("sync-every") {
		cfg.SyncEvery = f.syncEvery
	}
	if changed("journal") {
		cfg.Journal = f.journal
	}
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(w io.Writer, levelName string) error {
	level, err := config.ParseLevel(levelName)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

func newRunCmd() *cobra.Command {
	var flags captureFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture the serial device into session logs",
		Long: `Read the serial device forever and write one log file per session.

'$' starts a session, '*' ends it, '^' and '&' print an error or info
timestamp. Every other byte inside a session is appended to the log and
synced to disk before the next byte is read.

A failing device or disk ends the command with a non-zero exit code so a
supervisor (systemd, runit, ...) can restart it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return capture.Run(ctx, cfg, cmd.OutOrStdout())
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newReplayCmd() *cobra.Command {
	var flags captureFlags
	cmd := &cobra.Command{
		Use:   "replay capture-file",
		Short: "Split a recorded byte stream into session logs",
		Long: `Feed a raw capture (for example from 'cat /dev/ttyUSB0 > capture.bin')
through the same session framing as 'run'. Stops at the end of the file; a
session without end marker is closed and kept.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return capture.Replay(ctx, cfg, args[0], cmd.OutOrStdout())
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var configPath, dir string
	cmd := &cobra.Command{
		Use:          "sessions",
		Short:        "List recorded session logs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dir") {
				cfg.LogDir = dir
			}

			sessions, err := logstore.List(cfg.LogDir, cfg.FilePrefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tBYTES\tMODIFIED\tCONTENT")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, s.Size, s.ModTime.Format("2006-01-02 15:04:05"), s.Type)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if disk, err := sysmon.GetDiskInfo(cfg.LogDir); err == nil {
				fmt.Fprintf(out, "\n%d sessions, %d of %d MB free\n", len(sessions), disk.FreeMB, disk.TotalMB)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file (default: $"+config.EnvConfigPath+")")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory with session logs")
	return cmd
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "events journal-file",
		Short:        "Print a journal written with --journal",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer func() { _ = f.Close() }()

			events, readErr := eventlog.ReadEvents(f)
			out := cmd.OutOrStdout()
			for _, e := range events {
				fmt.Fprintf(out, "%s  %-13s  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Stream, e.Content)
			}
			if readErr != nil {
				return fmt.Errorf("journal %s: %w", args[0], readErr)
			}
			return nil
		},
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "captestlog",
		Short: "captestlog - serial session logger",
		Long:  `captestlog records the serial output of a test rig into timestamped log files, one per test session.`,
	}
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newEventsCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
