package live

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"captestlog/internal/framer"
)

var at = time.Date(2024, 3, 7, 9, 5, 42, 0, time.Local)

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "slow", SendChan: make(chan Message, 1), Done: make(chan struct{})}
	hub.RegisterClient(client)
	defer close(client.Done)

	hub.Data('a')
	hub.Data('b') // dropped, must not block

	msg := <-client.SendChan
	require.Equal(t, TypeData, msg.Type)
	require.Equal(t, []byte("a"), msg.Data)
	require.Empty(t, client.SendChan)
}

func TestHub_TracksCurrentSession(t *testing.T) {
	hub := NewHub()
	require.Equal(t, "", hub.CurrentSession())

	hub.SessionStarted("a.txt", at)
	require.Equal(t, "a.txt", hub.CurrentSession())

	hub.SessionEnded("a.txt", at)
	require.Equal(t, "", hub.CurrentSession())
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "c1", SendChan: make(chan Message, 4), Done: make(chan struct{})}
	hub.RegisterClient(client)
	require.Equal(t, 1, hub.ClientCount())

	hub.UnregisterClient("c1")
	hub.UnregisterClient("c1")
	require.Equal(t, 0, hub.ClientCount())

	hub.Marker(framer.MarkerInfo, at)
	require.Empty(t, client.SendChan)
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestServer_StreamsToWebSocket(t *testing.T) {
	hub := NewHub()
	srv := NewServer(hub, "/dev/ttyUSB0", t.TempDir(), framer.DefaultPrefix)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.SessionStarted("captest_log_03-07-24_09:05.txt", at)
	hub.Data('\xff')
	hub.Marker(framer.MarkerError, at)

	msg := readUntil(t, conn, TypeSessionStarted)
	require.Equal(t, "captest_log_03-07-24_09:05.txt", msg.Name)

	msg = readUntil(t, conn, TypeData)
	require.Equal(t, []byte{0xff}, msg.Data)

	msg = readUntil(t, conn, TypeErrorMarker)
	require.Equal(t, "03-07-24_09:05", msg.Stamp)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	srv := NewServer(NewHub(), "/dev/ttyUSB0", t.TempDir(), framer.DefaultPrefix)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_Index(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captest_log_01-01-24_10:00.txt"), []byte("ROUND: 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	hub := NewHub()
	hub.SessionStarted("captest_log_01-01-24_10:00.txt", at)
	srv := NewServer(hub, "/dev/ttyUSB0", dir, framer.DefaultPrefix)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(body)
	require.Contains(t, page, "<table>")
	require.Contains(t, page, "captest_log_01-01-24_10:00.txt")
	require.Contains(t, page, "Recording to")
	require.Contains(t, page, "<td>text</td>")
	require.NotContains(t, page, "other.txt")
	require.Contains(t, page, `new WebSocket`)
}

func TestServer_IndexMissingDir(t *testing.T) {
	srv := NewServer(NewHub(), "/dev/ttyUSB0", filepath.Join(t.TempDir(), "gone"), framer.DefaultPrefix)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := NewServer(NewHub(), "/dev/ttyUSB0", t.TempDir(), framer.DefaultPrefix)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(t.Context()))
}
