// Package capture wires a byte source to the framer and its collaborators.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"captestlog/internal/config"
	"captestlog/internal/console"
	"captestlog/internal/framer"
	"captestlog/internal/live"
	"captestlog/internal/logstore"
	"captestlog/internal/serialport"
	"captestlog/internal/sysmon"
	"captestlog/pkg/eventlog"
)

// Run captures the configured serial device until ctx is done or the
// device fails. Cancelling ctx is a clean stop and returns nil.
func Run(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	port, err := serialport.Open(serialport.Config{Device: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return err
	}

	// Closing the port is what unblocks a pending read.
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()
	defer func() { _ = port.Close() }()

	err = Stream(ctx, cfg, port, port.Name(), stdout)
	if ctx.Err() != nil && (errors.Is(err, ctx.Err()) || errors.Is(err, os.ErrClosed)) {
		return nil
	}
	return err
}

// Replay feeds a recorded byte stream through the framer. Reaching the end
// of the file is a clean stop.
func Replay(ctx context.Context, cfg config.Config, path string, stdout io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	err = Stream(ctx, cfg, bufio.NewReader(f), path, stdout)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Stream runs the framer on src with the store, console, journal and live
// viewer described by cfg.
func Stream(ctx context.Context, cfg config.Config, src io.ByteReader, sourceName string, stdout io.Writer) error {
	store, err := logstore.New(cfg.LogDir, cfg.Overwrite)
	if err != nil {
		return err
	}

	if info, err := sysmon.CheckFreeSpace(cfg.LogDir, cfg.MinFreeMB); err != nil {
		if info == nil {
			slog.Warn("Could not check free space", "dir", cfg.LogDir, "error", err)
		} else {
			slog.Warn("Low disk space for session logs", "dir", cfg.LogDir, "free_mb", info.FreeMB, "error", err)
		}
	}

	con := console.New(stdout)
	reporters := framer.MultiReporter{con}

	if cfg.Journal != "" {
		journal, err := os.OpenFile(cfg.Journal, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() { _ = journal.Close() }()
		reporters = append(reporters, eventlog.NewWriter(journal))
	}

	if cfg.Listen != "" {
		hub := live.NewHub()
		srv := live.NewServer(hub, sourceName, cfg.LogDir, cfg.FilePrefix)
		if err := srv.Start(cfg.Listen); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Live viewer shutdown failed", "error", err)
			}
		}()
		reporters = append(reporters, hub)
	}

	f := framer.New(src, store, reporters,
		framer.WithPrefix(cfg.FilePrefix),
		framer.WithSyncEvery(cfg.SyncEvery),
	)

	slog.Info("Capture started", "source", sourceName, "dir", cfg.LogDir, "sync_every", cfg.SyncEvery)
	con.Banner(sourceName)
	return f.Run(ctx)
}
