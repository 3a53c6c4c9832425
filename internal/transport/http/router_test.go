package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/relay"
)

type staticVerifier map[string]domain.Identity

func (v staticVerifier) Verify(token string) (domain.Identity, error) {
	id, ok := v[token]
	if !ok {
		return domain.Identity{}, domain.ErrAuthentication
	}
	return id, nil
}

type discard struct{}

func (discard) Send(relay.Event) error { return nil }

func newRouter(t *testing.T) (http.Handler, *relay.State) {
	t.Helper()
	st := relay.New(relay.Deps{})
	v := staticVerifier{
		"doc":   {SubjectID: "u-doc", Role: domain.RoleDoctor},
		"admin": {SubjectID: "u-admin", Role: domain.RoleAdmin},
		"pat":   {SubjectID: "u-pat", Role: domain.RolePatient},
	}
	h := NewRouter(RouterDeps{
		Handler:        NewHandler(st, nil),
		WS:             func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) },
		Verifier:       v,
		AllowedOrigins: []string{"https://app.telecare.test"},
	})
	return h, st
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := newRouter(t)
	rec := do(h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestWSRouteMounted(t *testing.T) {
	h, _ := newRouter(t)
	if rec := do(h, http.MethodGet, "/ws", ""); rec.Code != http.StatusTeapot {
		t.Fatalf("/ws = %d", rec.Code)
	}
}

func TestRoomsAuth(t *testing.T) {
	h, _ := newRouter(t)

	cases := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"bogus", http.StatusUnauthorized},
		{"pat", http.StatusForbidden},
		{"doc", http.StatusOK},
		{"admin", http.StatusOK},
	}
	for _, tc := range cases {
		if rec := do(h, http.MethodGet, "/rooms", tc.token); rec.Code != tc.want {
			t.Fatalf("token %q: status %d, want %d", tc.token, rec.Code, tc.want)
		}
	}
}

func TestGetRoomSnapshot(t *testing.T) {
	h, st := newRouter(t)

	if rec := do(h, http.MethodGet, "/rooms/r1", "doc"); rec.Code != http.StatusNotFound {
		t.Fatalf("inactive room: %d", rec.Code)
	}

	c := st.Connect(domain.Identity{SubjectID: "u-pat", DisplayName: "Pat", Role: domain.RolePatient}, discard{})
	st.Handle(context.Background(), c, []byte(`{"type":"join-room","payload":{"roomId":"r1"}}`))

	rec := do(h, http.MethodGet, "/rooms/r1", "doc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data relay.RoomSnapshot `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.RoomID != "r1" || len(body.Data.Members) != 1 || body.Data.Members[0].SubjectID != "u-pat" {
		t.Fatalf("snapshot = %+v", body.Data)
	}

	rec = do(h, http.MethodGet, "/rooms", "admin")
	var list struct {
		Data []relay.RoomSummary `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].Members != 1 {
		t.Fatalf("rooms = %+v", list.Data)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/rooms", nil)
	req.Header.Set("Origin", "https://app.telecare.test")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.telecare.test" {
		t.Fatalf("allow-origin = %q", got)
	}
}
