package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/relay"
	"github.com/telecare/signaling-service/pkg/httputil"

	"github.com/gorilla/websocket"
)

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type Relay interface {
	Connect(id domain.Identity, out relay.Sender) *relay.Conn
	Disconnect(c *relay.Conn)
	Handle(ctx context.Context, c *relay.Conn, data []byte)
	HandleAudio(c *relay.Conn, chunk []byte)
}

type Options struct {
	AllowedOrigins []string // пусто или "*": любой Origin
	PingPeriod     time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	SendBuffer     int
}

func (o *Options) defaults() {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type Server struct {
	upgrader websocket.Upgrader
	verifier TokenVerifier
	relay    Relay
	opts     Options
	log      *slog.Logger

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewServer(v TokenVerifier, r Relay, opts Options, log *slog.Logger) *Server {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		verifier: v,
		relay:    r,
		opts:     opts,
		log:      log.With("component", "ws"),
		conns:    make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// WS endpoint: GET /ws?token=... или Authorization: Bearer ...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = httputil.BearerToken(r)
	}
	if token == "" {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Info("ws handshake rejected", "err", err, "remote", r.RemoteAddr)
		httputil.Error(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, s.opts.SendBuffer)
	s.track(c)
	defer s.untrack(c)

	rc := s.relay.Connect(id, c)
	go c.writePump(s.opts.PingPeriod, s.opts.WriteTimeout)

	s.readPump(r.Context(), c, rc)

	s.relay.Disconnect(rc)
	_ = c.Close()
}

// readPump: кадры одного соединения обрабатываются строго по порядку.
func (s *Server) readPump(ctx context.Context, c *wsConn, rc *relay.Conn) {
	wait := 2 * s.opts.PingPeriod

	c.conn.SetReadLimit(s.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read failed", "conn_id", rc.ID(), "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))

		switch typ {
		case websocket.TextMessage:
			s.relay.Handle(ctx, rc, data)
		case websocket.BinaryMessage:
			s.relay.HandleAudio(rc, data)
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Shutdown закрывает все живые сокеты; обработчики сами вызовут Disconnect.
func (s *Server) Shutdown() {
	s.mu.Lock()
	all := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		all = append(all, c)
	}
	s.mu.Unlock()

	for _, c := range all {
		c.shutdown(s.opts.WriteTimeout)
	}
	if len(all) > 0 {
		s.log.Info("ws connections closed", "count", len(all))
	}
}

func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
