package http

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/telecare/signaling-service/internal/relay"
	httpmw "github.com/telecare/signaling-service/internal/transport/http/middleware"
	"github.com/telecare/signaling-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

type RoomReader interface {
	Snapshot(roomID string) (relay.RoomSnapshot, bool)
	Rooms() []relay.RoomSummary
}

type Handler struct {
	rooms RoomReader
	log   *slog.Logger
}

func NewHandler(rooms RoomReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{rooms: rooms, log: log}
}

// GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.rooms.Rooms()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomID < rooms[j].RoomID })

	httputil.OK(w, rooms)
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	snap, ok := h.rooms.Snapshot(roomID)
	if !ok {
		httputil.Error(w, http.StatusNotFound, "not_found", "room is not active")
		return
	}

	if id, ok := httpmw.IdentityFromCtx(r.Context()); ok {
		h.log.Info("room inspected", "room_id", roomID, "subject_id", id.SubjectID, "role", id.Role)
	}
	httputil.OK(w, snap)
}
