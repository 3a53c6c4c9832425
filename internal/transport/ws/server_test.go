package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/relay"

	"github.com/gorilla/websocket"
)

type staticVerifier map[string]domain.Identity

func (v staticVerifier) Verify(token string) (domain.Identity, error) {
	id, ok := v[token]
	if !ok {
		return domain.Identity{}, domain.ErrAuthentication
	}
	return id, nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Server) {
	t.Helper()
	st := relay.New(relay.Deps{})
	v := staticVerifier{
		"doc": {SubjectID: "u-doc", DisplayName: "Dr. House", Role: domain.RoleDoctor},
		"pat": {SubjectID: "u-pat", DisplayName: "Pat", Role: domain.RolePatient},
	}
	srv := NewServer(v, st, opts, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return ts, srv
}

func dial(t *testing.T, ts *httptest.Server, query string, hdr http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + query
	c, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial %s: %v (resp=%v)", query, err, resp)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := c.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

type frame struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil пропускает кадры других типов.
func readUntil(t *testing.T, c *websocket.Conn, typ string) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	for _, q := range []string{"", "?token=bogus"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+q, nil)
		if err == nil {
			t.Fatalf("dial %q must fail", q)
		}
		if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("dial %q: want 401, got err=%v resp=%v", q, err, resp)
		}
	}
}

func TestBearerHeaderAccepted(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	c := dial(t, ts, "", http.Header{"Authorization": {"Bearer pat"}})

	write(t, c, relay.TypePing, nil)
	readUntil(t, c, relay.TypePong)
}

func TestOfferRelayedOverSockets(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	a := dial(t, ts, "?token=doc", nil)
	b := dial(t, ts, "?token=pat", nil)

	write(t, a, relay.TypeJoinRoom, map[string]string{"roomId": "r1"})
	readUntil(t, a, relay.TypeRoomState)
	write(t, b, relay.TypeJoinRoom, map[string]string{"roomId": "r1"})
	readUntil(t, b, relay.TypeRoomState)

	joined := readUntil(t, a, relay.TypeUserJoined)
	if !strings.Contains(string(joined.Payload), `"subjectId":"u-pat"`) {
		t.Fatalf("user-joined payload = %s", joined.Payload)
	}

	write(t, a, relay.TypeOffer, map[string]any{"roomId": "r1", "payload": map[string]string{"sdp": "x"}})
	got := readUntil(t, b, relay.TypeOffer)
	if string(got.Payload) != `{"sdp":"x"}` || got.From == "" {
		t.Fatalf("offer = %+v", got)
	}
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	a := dial(t, ts, "?token=doc", nil)
	b := dial(t, ts, "?token=pat", nil)

	write(t, a, relay.TypeJoinRoom, map[string]string{"roomId": "r1"})
	readUntil(t, a, relay.TypeRoomState)
	write(t, b, relay.TypeJoinRoom, map[string]string{"roomId": "r1"})
	readUntil(t, b, relay.TypeRoomState)

	_ = b.Close()

	left := readUntil(t, a, relay.TypeUserLeft)
	if !strings.Contains(string(left.Payload), `"subjectId":"u-pat"`) {
		t.Fatalf("user-left payload = %s", left.Payload)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	c := dial(t, ts, "?token=doc", nil)

	if err := c.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, c, relay.TypeError)

	write(t, c, relay.TypePing, nil)
	readUntil(t, c, relay.TypePong)
}

func TestOriginPolicy(t *testing.T) {
	ts, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://app.telecare.test"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=doc"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.test"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin must be refused, err=%v resp=%v", err, resp)
	}

	c, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.telecare.test"}})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = c.Close()
}

func TestShutdownClosesSockets(t *testing.T) {
	ts, srv := newTestServer(t, Options{})
	c := dial(t, ts, "?token=doc", nil)
	write(t, c, relay.TypePing, nil)
	readUntil(t, c, relay.TypePong)

	srv.Shutdown()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Fatalf("expected going-away close, got %v", err)
			}
			return
		}
	}
}

func TestSendBackpressure(t *testing.T) {
	c := &wsConn{send: make(chan relay.Event, 1), closed: make(chan struct{})}

	if err := c.Send(relay.Event{Type: "a"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send(relay.Event{Type: "b"}); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("want ErrBackpressure, got %v", err)
	}

	close(c.closed)
	if err := c.Send(relay.Event{Type: "c"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
