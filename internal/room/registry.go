package room

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"chatd/internal/protocol"
)

// Registry error taxonomy.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrAlreadyInRoom    = errors.New("user already in room")
	ErrNotInRoom        = errors.New("user not in room")
	ErrRoomFull         = errors.New("room is full")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRoomName  = errors.New("invalid room name")
)

// maxListLimit caps room listing queries.
const maxListLimit = 100

// Room is an immutable snapshot of one room's state.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
	Members     []string  `json:"members"`
	Description string    `json:"description,omitempty"`
	MaxMembers  int       `json:"max_members,omitempty"`
}

// CreateRequest carries the user-supplied room attributes.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MaxMembers  int    `json:"max_members,omitempty"`
}

type roomState struct {
	id          string
	name        string
	owner       string
	createdAt   time.Time
	members     map[string]struct{}
	description string
	maxMembers  int
}

// Registry owns all rooms and their membership sets. A single readers-writer
// lock guards both the room map and the user reverse index, so the invariant
// "user is a member iff the room appears in the user's set" holds atomically.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*roomState
	byUser map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*roomState),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Create makes a new room with the owner as its first member.
func (r *Registry) Create(req CreateRequest, owner string) (Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Room{}, ErrInvalidRoomName
	}

	st := &roomState{
		id:          protocol.NewID(),
		name:        name,
		owner:       owner,
		createdAt:   time.Now().UTC(),
		members:     map[string]struct{}{owner: {}},
		description: strings.TrimSpace(req.Description),
		maxMembers:  req.MaxMembers,
	}

	r.mu.Lock()
	r.rooms[st.id] = st
	r.indexLocked(owner, st.id)
	snap := snapshot(st)
	r.mu.Unlock()

	slog.Info("room created", "room_id", st.id, "name", name, "owner", owner)
	return snap, nil
}

// Join adds a user to a room's member set.
func (r *Registry) Join(roomID, userID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if _, member := st.members[userID]; member {
		return snapshot(st), ErrAlreadyInRoom
	}
	if st.maxMembers > 0 && len(st.members) >= st.maxMembers {
		return Room{}, ErrRoomFull
	}
	st.members[userID] = struct{}{}
	r.indexLocked(userID, roomID)

	slog.Info("room joined", "room_id", roomID, "user_id", userID, "members", len(st.members))
	return snapshot(st), nil
}

// Leave removes a user from a room. If the member set becomes empty the room
// is destroyed; the returned snapshot reflects the pre-destruction state.
// The second return reports destruction.
func (r *Registry) Leave(roomID, userID string) (Room, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, userID)
}

func (r *Registry) leaveLocked(roomID, userID string) (Room, bool, error) {
	st, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false, ErrRoomNotFound
	}
	if _, member := st.members[userID]; !member {
		return Room{}, false, ErrNotInRoom
	}

	snap := snapshot(st)
	delete(st.members, userID)
	r.unindexLocked(userID, roomID)

	destroyed := len(st.members) == 0
	if destroyed {
		delete(r.rooms, roomID)
		slog.Info("room destroyed", "room_id", roomID, "reason", "empty")
	} else {
		slog.Info("room left", "room_id", roomID, "user_id", userID, "members", len(st.members))
	}
	return snap, destroyed, nil
}

// Delete destroys a room. Only the owner may do this.
func (r *Registry) Delete(roomID, userID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if st.owner != userID {
		return Room{}, ErrPermissionDenied
	}

	snap := snapshot(st)
	for member := range st.members {
		r.unindexLocked(member, roomID)
	}
	delete(r.rooms, roomID)

	slog.Info("room destroyed", "room_id", roomID, "reason", "deleted", "owner", userID)
	return snap, nil
}

// Get returns one room's snapshot.
func (r *Registry) Get(roomID string) (Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return snapshot(st), nil
}

// Members returns a room's member list.
func (r *Registry) Members(roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return sortedMembers(st), nil
}

// RoomsOf returns the rooms a user belongs to.
func (r *Registry) RoomsOf(userID string) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	out := make([]Room, 0, len(ids))
	for id := range ids {
		if st, ok := r.rooms[id]; ok {
			out = append(out, snapshot(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns a page of rooms ordered by creation time, newest first.
func (r *Registry) List(offset, limit int) []Room {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	all := make([]Room, 0, len(r.rooms))
	for _, st := range r.rooms {
		all = append(all, snapshot(st))
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []Room{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// IsMember reports whether a user belongs to a room.
func (r *Registry) IsMember(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, member := st.members[userID]
	return member
}

// OnDisconnect leaves every room the user was in and returns the affected
// room ids. Individual failures are logged but do not stop the sweep.
func (r *Registry) OnDisconnect(userID string) []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	left := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, _, err := r.leaveLocked(id, userID); err != nil {
			slog.Warn("leave on disconnect", "room_id", id, "user_id", userID, "err", err)
			continue
		}
		left = append(left, id)
	}
	r.mu.Unlock()

	if len(left) > 0 {
		slog.Debug("disconnect swept rooms", "user_id", userID, "rooms", len(left))
	}
	return left
}

// Stats summarizes the registry for the stats endpoint.
type Stats struct {
	Rooms       int `json:"total_rooms"`
	Users       int `json:"users_with_rooms"`
	Memberships int `json:"total_memberships"`
}

// Stat returns registry totals.
func (r *Registry) Stat() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := 0
	for _, st := range r.rooms {
		memberships += len(st.members)
	}
	return Stats{Rooms: len(r.rooms), Users: len(r.byUser), Memberships: memberships}
}

func (r *Registry) indexLocked(userID, roomID string) {
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[roomID] = struct{}{}
}

func (r *Registry) unindexLocked(userID, roomID string) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

func snapshot(st *roomState) Room {
	return Room{
		ID:          st.id,
		Name:        st.name,
		Owner:       st.owner,
		CreatedAt:   st.createdAt,
		Members:     sortedMembers(st),
		Description: st.description,
		MaxMembers:  st.maxMembers,
	}
}

func sortedMembers(st *roomState) []string {
	out := make([]string, 0, len(st.members))
	for id := range st.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
