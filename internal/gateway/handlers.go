package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"cryptoalertd/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the Hub to HTTP: the WS upgrade endpoint and the
// /api/missed gap-backfill endpoint (§6.4's supplemented feature).
type Server struct {
	hub *Hub
	log *slog.Logger
}

// NewServer creates a Dispatch Fabric HTTP server around hub.
func NewServer(hub *Hub, log *slog.Logger) *Server {
	return &Server{hub: hub, log: log}
}

// Run starts the topic router and ping loop; blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, pubsub model.PubSub) {
	router := newTopicRouter(s.hub, pubsub, s.log)
	go router.Run(ctx)
	go s.hub.pingLoop(ctx)
	<-ctx.Done()
}

// Mux returns an http.Handler with every route registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/missed", s.handleMissed)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn("gateway: ws upgrade failed", "err", err)
		}
		return
	}
	s.hub.HandleConnection(conn)
}

// handleMissed serves every triggered-alert envelope broadcast after
// ?since=<seq>, letting a reconnecting client backfill what it missed
// instead of silently losing events during the gap.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	entries := s.hub.Missed(since)

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"entries":[`))
	for i, e := range entries {
		if i > 0 {
			w.Write([]byte(","))
		}
		w.Write(e)
	}
	w.Write([]byte(`],"currentSeq":`))
	w.Write([]byte(strconv.FormatInt(s.hub.CurrentSeq(), 10)))
	w.Write([]byte(`}`))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
