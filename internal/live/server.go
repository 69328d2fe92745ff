package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"captestlog/internal/logstore"
	"captestlog/internal/sysmon"
	"captestlog/pkg/markdown"
)

// Server serves the session index and the websocket stream.
type Server struct {
	hub    *Hub
	device string
	logDir string
	prefix string

	listener net.Listener
	srv      *http.Server
}

// NewServer returns a server for hub. device, logDir and prefix feed the
// index page.
func NewServer(hub *Hub, device, logDir, prefix string) *Server {
	s := &Server{hub: hub, device: device, logDir: logDir, prefix: prefix}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	slog.Info("Live viewer listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Live viewer stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		// Only same-origin pages may subscribe
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		if origin == "http://"+host || origin == "https://"+host {
			return true
		}
		slog.Warn("Rejected WebSocket connection from unauthorized origin", "origin", origin, "host", host)
		return false
	},
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("Failed to close WebSocket connection", "error", err)
		}
	}()

	client := &Client{
		ID:       fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano()),
		SendChan: make(chan Message, 1024),
		Done:     make(chan struct{}),
	}
	s.hub.RegisterClient(client)
	defer s.hub.UnregisterClient(client.ID)

	// Clients never send anything; reading only detects the close.
	go func() {
		defer close(client.Done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	if current := s.hub.CurrentSession(); current != "" {
		if err := conn.WriteJSON(Message{Type: TypeSessionStarted, Name: current}); err != nil {
			return
		}
	}

	for {
		select {
		case msg := <-client.SendChan:
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("Failed to write WebSocket message", "error", err)
				return
			}
		case <-client.Done:
			return
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	md, err := s.indexMarkdown()
	if err != nil {
		slog.Error("Failed to build session index", "error", err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>captestlog</title></head><body>\n")
	b.WriteString(markdown.RenderToHTML(md))
	b.WriteString("<h2>Live</h2>\n<pre id=\"live\"></pre>\n")
	b.WriteString(liveScript)
	b.WriteString("</body></html>\n")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) indexMarkdown() (string, error) {
	sessions, err := logstore.List(s.logDir, s.prefix)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# captestlog\n\n")
	fmt.Fprintf(&b, "Device %s, logs in %s\n\n", markdown.Code(s.device), markdown.Code(s.logDir))
	if current := s.hub.CurrentSession(); current != "" {
		fmt.Fprintf(&b, "Recording to %s\n\n", markdown.Code(current))
	} else {
		b.WriteString("Idle, waiting for session start\n\n")
	}
	if disk, err := sysmon.GetDiskInfo(s.logDir); err == nil {
		fmt.Fprintf(&b, "Free space: %d of %d MB\n\n", disk.FreeMB, disk.TotalMB)
	}
	if self, err := sysmon.GetSelfInfo(); err == nil {
		fmt.Fprintf(&b, "PID %d, RSS %.1f MB, up since %s\n\n", self.PID, self.MemoryMB, self.CreateTime.Format(time.RFC3339))
	}

	b.WriteString("## Sessions\n\n")
	if len(sessions) == 0 {
		b.WriteString("No sessions recorded yet.\n")
		return b.String(), nil
	}
	rows := make([][]string, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, []string{
			markdown.Code(sess.Name),
			strconv.FormatInt(sess.Size, 10),
			sess.ModTime.Format("2006-01-02 15:04:05"),
			string(sess.Type),
		})
	}
	b.WriteString(markdown.Table([]string{"File", "Bytes", "Modified", "Content"}, rows))
	return b.String(), nil
}

const liveScript = `<script>
(function () {
  var out = document.getElementById("live");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = function (ev) {
    var m = JSON.parse(ev.data);
    switch (m.type) {
    case "data": out.textContent += atob(m.data); break;
    case "session_started": out.textContent += "\n[start " + m.name + "]\n"; break;
    case "session_ended": out.textContent += "\n[end " + m.name + " " + m.stamp + "]\n"; break;
    case "error_marker": out.textContent += "\n[ERROR " + m.stamp + "]\n"; break;
    case "info_marker": out.textContent += "\n[TIME " + m.stamp + "]\n"; break;
    }
  };
})();
</script>
`
