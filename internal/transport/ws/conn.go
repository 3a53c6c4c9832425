package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/relay"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("ws: send buffer full")
	ErrClosed       = errors.New("ws: connection closed")
)

// wsConn держит исходящую сторону соединения. Send не блокирует, в сокет пишет только writePump.
type wsConn struct {
	conn   *websocket.Conn
	send   chan relay.Event
	closed chan struct{}
	once   sync.Once
}

func newWsConn(c *websocket.Conn, buf int) *wsConn {
	return &wsConn{
		conn:   c,
		send:   make(chan relay.Event, buf),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(ev relay.Event) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.closed:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// writePump единственный пишет в сокет (события из очереди и пинги).
func (c *wsConn) writePump(ping, writeTimeout time.Duration) {
	t := time.NewTicker(ping)
	defer t.Stop()

	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.send:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = c.Close()
				return
			}
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// shutdown: корректное закрытие со стороны сервера.
func (c *wsConn) shutdown(writeTimeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = c.Close()
}
