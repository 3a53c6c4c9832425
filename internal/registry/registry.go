// Package registry хранит членство соединений в комнатах.
//
// Комнаты лежат в арене слотов; index отображает roomID в номер слота.
// Комната появляется при первом join и явно выселяется, когда пустеет:
// слот чистится и уходит в free-список для переиспользования.
// Registry не потокобезопасен, доступ сериализует владелец (relay.State).
package registry

type Handle int

type room struct {
	id      string
	members []string // порядок входа
}

type Registry struct {
	slots []room
	index map[string]Handle
	free  []Handle
}

func New() *Registry {
	return &Registry{index: make(map[string]Handle)}
}

func (r *Registry) lookupOrCreate(roomID string) Handle {
	if h, ok := r.index[roomID]; ok {
		return h
	}

	var h Handle
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[h] = room{id: roomID}
	} else {
		h = Handle(len(r.slots))
		r.slots = append(r.slots, room{id: roomID})
	}
	r.index[roomID] = h

	return h
}

func (r *Registry) evict(h Handle) {
	delete(r.index, r.slots[h].id)
	r.slots[h] = room{}
	r.free = append(r.free, h)
}

// Join идемпотентен: повторный вход не дублирует участника.
func (r *Registry) Join(roomID, connID string) []string {
	h := r.lookupOrCreate(roomID)
	rm := &r.slots[h]
	if indexOf(rm.members, connID) < 0 {
		rm.members = append(rm.members, connID)
	}

	return clone(rm.members)
}

// Leave для не-участника: no-op. Пустая комната выселяется сразу.
func (r *Registry) Leave(roomID, connID string) []string {
	h, ok := r.index[roomID]
	if !ok {
		return nil
	}
	rm := &r.slots[h]
	if i := indexOf(rm.members, connID); i >= 0 {
		rm.members = append(rm.members[:i], rm.members[i+1:]...)
	}
	if len(rm.members) == 0 {
		r.evict(h)
		return nil
	}

	return clone(rm.members)
}

func (r *Registry) MembersOf(roomID string) []string {
	h, ok := r.index[roomID]
	if !ok {
		return nil
	}

	return clone(r.slots[h].members)
}

func (r *Registry) IsEmpty(roomID string) bool {
	h, ok := r.index[roomID]
	return !ok || len(r.slots[h].members) == 0
}

// Rooms: id всех живых комнат.
func (r *Registry) Rooms() []string {
	out := make([]string, 0, len(r.index))
	for id := range r.index {
		out = append(out, id)
	}

	return out
}

func (r *Registry) Len() int { return len(r.index) }

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func clone(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	return append([]string(nil), list...)
}
