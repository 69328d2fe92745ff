package capture

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	"captestlog/internal/config"
	"captestlog/internal/logstore"
	"captestlog/pkg/eventlog"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.MinFreeMB = 0
	return cfg
}

func writeCapture(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func sessionContents(t *testing.T, dir string) []string {
	t.Helper()
	sessions, err := logstore.List(dir, "captest_log_")
	require.NoError(t, err)
	var contents []string
	for _, s := range sessions {
		data, err := os.ReadFile(s.Path)
		require.NoError(t, err)
		contents = append(contents, string(data))
	}
	return contents
}

func TestReplay_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		input string
		files []string
	}{
		{name: "single session", input: "$ABC*", files: []string{"ABC"}},
		{name: "error marker skipped", input: "$A^B*", files: []string{"AB"}},
		{name: "leading bytes dropped", input: "AB$C*", files: []string{"C"}},
		{name: "two sessions", input: "$X*$Y*", files: []string{"X", "Y"}},
		{name: "stray end while idle", input: "*junk", files: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			var stdout bytes.Buffer

			err := Replay(context.Background(), cfg, writeCapture(t, tt.input), &stdout)
			require.NoError(t, err)

			require.ElementsMatch(t, tt.files, sessionContents(t, cfg.LogDir))
		})
	}
}

func TestReplay_ConsoleOutput(t *testing.T) {
	cfg := testConfig(t)
	var stdout bytes.Buffer

	require.NoError(t, Replay(context.Background(), cfg, writeCapture(t, "$hello^&*"), &stdout))

	out := stdout.String()
	require.Contains(t, out, "Serial-logging system starting")
	require.Contains(t, out, "Creating and opening log file: captest_log_")
	require.Contains(t, out, "hello")
	require.Contains(t, out, "The time is: \n")
	require.Contains(t, out, "TIME: ")
	require.Contains(t, out, "saved and closed")
}

func TestReplay_WritesJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal = filepath.Join(t.TempDir(), "events.log")

	require.NoError(t, Replay(context.Background(), cfg, writeCapture(t, "$a^b*"), &bytes.Buffer{}))

	f, err := os.Open(cfg.Journal)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	events, err := eventlog.ReadEvents(f)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, eventlog.StreamSessionStart, events[0].Stream)
	require.Equal(t, eventlog.StreamErrorMarker, events[1].Stream)
	require.Equal(t, eventlog.StreamSessionEnd, events[2].Stream)
	require.True(t, strings.HasPrefix(string(events[0].Content), "captest_log_"))
	require.Equal(t, events[0].Content, events[2].Content)
}

func TestReplay_OverwriteAndPrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.Overwrite = true
	cfg.FilePrefix = "bench_"

	require.NoError(t, Replay(context.Background(), cfg, writeCapture(t, "$first*"), &bytes.Buffer{}))

	entries, err := os.ReadDir(cfg.LogDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "bench_"))
	require.True(t, strings.HasSuffix(entries[0].Name(), ".txt"))
}

func TestReplay_InterruptedSessionIsKept(t *testing.T) {
	cfg := testConfig(t)

	require.NoError(t, Replay(context.Background(), cfg, writeCapture(t, "$partial"), &bytes.Buffer{}))
	require.Equal(t, []string{"partial"}, sessionContents(t, cfg.LogDir))
}

func TestReplay_WithLiveViewer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listen = "127.0.0.1:0"

	require.NoError(t, Replay(context.Background(), cfg, writeCapture(t, "$x*"), &bytes.Buffer{}))
	require.Equal(t, []string{"x"}, sessionContents(t, cfg.LogDir))
}

func TestReplay_MissingCapture(t *testing.T) {
	err := Replay(context.Background(), testConfig(t), filepath.Join(t.TempDir(), "none.bin"), &bytes.Buffer{})
	require.ErrorContains(t, err, "failed to open capture")
}

func TestReplay_UnwritableLogDir(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	cfg.LogDir = filepath.Join(blocker, "logs")

	err := Replay(context.Background(), cfg, writeCapture(t, "$x*"), &bytes.Buffer{})
	require.ErrorContains(t, err, "failed to create log directory")
}

func TestRun_MissingDevice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device = filepath.Join(t.TempDir(), "ttyUSB9")

	err := Run(context.Background(), cfg, &bytes.Buffer{})
	require.ErrorContains(t, err, "failed to open serial port")
}

func TestRun_CapturesFromPtyUntilCancelled(t *testing.T) {
	master, slave, err := pty.Open()
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	defer func() { _ = master.Close() }()
	defer func() { _ = slave.Close() }()

	cfg := testConfig(t)
	cfg.Device = slave.Name()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, &bytes.Buffer{}) }()

	// the log directory appears once the port is open and configured
	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.LogDir)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err = master.Write([]byte("noise$serial data*"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sessions, err := logstore.List(cfg.LogDir, "captest_log_")
		if err != nil || len(sessions) != 1 {
			return false
		}
		data, err := os.ReadFile(sessions[0].Path)
		return err == nil && string(data) == "serial data"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
