// Package room holds the in-memory matchmaking rooms. The registry is
// mutex-serialized and never talks to clients; the hub turns its return
// codes into broadcasts. Rooms do not survive a restart.
package room

import (
	"slices"
	"sync"
)

// Room status values.
const (
	StatusIdle    = "idle"
	StatusPlaying = "playing"
)

// LeaveResult is the outcome of Registry.Leave.
type LeaveResult int

const (
	// LeaveNotFound: the room does not exist or the user is not in it.
	LeaveNotFound LeaveResult = iota - 1
	// Left: the user was removed, the room lives on.
	Left
	// Dissolved: the room was deleted (host left, or last member left).
	Dissolved
)

// Info is the full view of one room, sent to clients in replies and
// membership notifications.
type Info struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Host       string   `json:"host"`
	Game       string   `json:"game"`
	Status     string   `json:"status"`
	Players    []string `json:"players"`
	MaxPlayers int      `json:"max_players"`
	GamePort   int      `json:"game_port"`
}

// Summary is the listing view: player count instead of the member list.
type Summary struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Game       string `json:"game"`
	Status     string `json:"status"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

type roomState struct {
	id         int
	name       string
	host       string
	game       string
	status     string
	gamePort   int
	maxPlayers int
	players    []string
}

// Registry owns all live rooms. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	rooms map[int]*roomState
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int]*roomState)}
}

// Create opens a room with the host as its first member and returns the
// room id: the smallest positive integer not currently in use, so ids
// are reused after deletion.
func (r *Registry) Create(name, host, game string, maxPlayers int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := 1
	for _, ok := r.rooms[id]; ok; _, ok = r.rooms[id] {
		id++
	}

	r.rooms[id] = &roomState{
		id:         id,
		name:       name,
		host:       host,
		game:       game,
		status:     StatusIdle,
		maxPlayers: maxPlayers,
		players:    []string{host},
	}
	return id
}

// Join adds user to the room. Fails if the room is missing, not idle,
// full, or the user is already a member.
func (r *Registry) Join(id int, user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return false
	}
	if rm.status != StatusIdle {
		return false
	}
	if len(rm.players) >= rm.maxPlayers {
		return false
	}
	if slices.Contains(rm.players, user) {
		return false
	}
	rm.players = append(rm.players, user)
	return true
}

// Leave removes user from the room. A departing host dissolves the
// room; a room emptied by the departure is deleted too.
func (r *Registry) Leave(id int, user string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return LeaveNotFound
	}

	if rm.host == user {
		delete(r.rooms, id)
		return Dissolved
	}

	i := slices.Index(rm.players, user)
	if i < 0 {
		return LeaveNotFound
	}
	rm.players = slices.Delete(rm.players, i, i+1)
	if len(rm.players) == 0 {
		delete(r.rooms, id)
		return Dissolved
	}
	return Left
}

// IsFull reports whether the room has reached its player limit.
func (r *Registry) IsFull(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	return ok && len(rm.players) == rm.maxPlayers
}

// Info returns the full view of the room, or false if it is gone.
func (r *Registry) Info(id int) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:         rm.id,
		Name:       rm.name,
		Host:       rm.host,
		Game:       rm.game,
		Status:     rm.status,
		Players:    slices.Clone(rm.players),
		MaxPlayers: rm.maxPlayers,
		GamePort:   rm.gamePort,
	}, true
}

// List returns the summary view of every room.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, Summary{
			ID:         rm.id,
			Name:       rm.name,
			Game:       rm.game,
			Status:     rm.status,
			Players:    len(rm.players),
			MaxPlayers: rm.maxPlayers,
		})
	}
	slices.SortFunc(list, func(a, b Summary) int { return a.ID - b.ID })
	return list
}

// IsGameActive reports whether any room, idle or playing, references
// the game. Guards game deletion.
func (r *Registry) IsGameActive(game string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rm := range r.rooms {
		if rm.game == game {
			return true
		}
	}
	return false
}

// StartGame marks the room playing and records the session port.
func (r *Registry) StartGame(id, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return false
	}
	rm.status = StatusPlaying
	rm.gamePort = port
	return true
}

// FinishGame returns the room to idle and clears the port.
func (r *Registry) FinishGame(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return false
	}
	rm.status = StatusIdle
	rm.gamePort = 0
	return true
}

// Count returns the number of open rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
