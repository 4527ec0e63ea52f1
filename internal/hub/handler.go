package hub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gamehub/internal/catalog"
	"gamehub/internal/config"
	"gamehub/internal/metrics"
	"gamehub/internal/protocol"
	"gamehub/internal/room"
	"gamehub/internal/transfer"
)

// Handler executes control requests against the catalog, the room
// registry and the session map, and fans membership notifications out
// to room peers.
//
// All handling is serialized by one mutex: room mutations, session
// transitions and broadcast enqueues happen in a single critical
// section, so every peer observes membership events exactly once, in
// the order they were applied, and the actor's reply is queued before
// any peer notification. Delivery itself is asynchronous per session.
type Handler struct {
	cfg      config.Server
	catalog  catalog.Store
	rooms    *room.Registry
	sessions *SessionManager
	launcher Launcher
	metrics  *metrics.Registry

	mu sync.Mutex
}

func NewHandler(cfg config.Server, store catalog.Store, rooms *room.Registry, sessions *SessionManager, launcher Launcher, reg *metrics.Registry) *Handler {
	return &Handler{
		cfg:      cfg,
		catalog:  store,
		rooms:    rooms,
		sessions: sessions,
		launcher: launcher,
		metrics:  reg,
	}
}

// Handle dispatches one decoded request for the given session.
func (h *Handler) Handle(ctx context.Context, sess *Session, req protocol.Request) {
	h.metrics.Requests.WithLabelValues(req.Action()).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	switch r := req.(type) {
	case protocol.RegisterRequest:
		h.handleRegister(ctx, sess, r)
	case protocol.LoginRequest:
		h.handleLogin(ctx, sess, r)
	case protocol.LogoutRequest:
		h.handleLogout(sess)
	case protocol.ListGamesRequest:
		h.handleListGames(ctx, sess)
	case protocol.ListRoomsRequest:
		h.handleListRooms(sess)
	case protocol.ListPlayersRequest:
		h.handleListPlayers(sess)
	case protocol.UploadRequest:
		h.handleUpload(ctx, sess, r)
	case protocol.DownloadRequest:
		h.handleDownload(ctx, sess, r)
	case protocol.DeleteGameRequest:
		h.handleDeleteGame(ctx, sess, r)
	case protocol.CreateRoomRequest:
		h.handleCreateRoom(ctx, sess, r)
	case protocol.JoinRoomRequest:
		h.handleJoinRoom(sess, r)
	case protocol.LeaveRoomRequest:
		h.handleLeaveRoom(sess)
	case protocol.StartGameRequest:
		h.handleStartGame(ctx, sess)
	case protocol.FinishGameRequest:
		h.handleFinishGame(ctx, sess)
	case protocol.AddCommentRequest:
		h.handleAddComment(ctx, sess, r)
	}
}

// Disconnect runs the membership-change routine for a dropped
// connection and destroys the session. No reply is sent; only peers
// are notified.
func (h *Handler) Disconnect(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess.State() == StateInRoom {
		h.leaveCurrentRoom(sess)
	}
	if sess.State() != StateConnected {
		h.metrics.LoggedInSessions.Dec()
	}
	h.sessions.Remove(sess)
}

// reply queues a direct response. A failed send means the peer is
// being dropped; the read loop will reap it.
func (h *Handler) reply(sess *Session, rep protocol.Reply) {
	if err := sess.Send(rep); err != nil {
		slog.Debug("reply dropped", "client", sess.IP(), "error", err)
	}
}

func (h *Handler) internalError(sess *Session, op string, err error) {
	slog.Error(op, "client", sess.IP(), "error", err)
	h.reply(sess, protocol.Error("Internal server error"))
}

func (h *Handler) handleRegister(ctx context.Context, sess *Session, r protocol.RegisterRequest) {
	if strings.TrimSpace(r.Username) == "" {
		h.reply(sess, protocol.Error("Invalid username"))
		return
	}

	role := r.Role
	if role == "" {
		role = catalog.RolePlayer
	}
	if role != catalog.RolePlayer && role != catalog.RoleDeveloper {
		h.reply(sess, protocol.Error("Invalid role"))
		return
	}

	ok, err := h.catalog.RegisterUser(ctx, r.Username, r.Password, role)
	if err != nil {
		h.internalError(sess, "registering user", err)
		return
	}
	if !ok {
		h.reply(sess, protocol.Error("Username already exists"))
		return
	}
	h.reply(sess, protocol.OKMessage("Registration successful"))
}

func (h *Handler) handleLogin(ctx context.Context, sess *Session, r protocol.LoginRequest) {
	if sess.State() != StateConnected {
		h.reply(sess, protocol.Error("Already logged in."))
		return
	}
	if h.sessions.IsLoggedIn(r.Username) {
		h.reply(sess, protocol.Error("User is already logged in."))
		return
	}

	role, ok, err := h.catalog.LoginUser(ctx, r.Username, r.Password)
	if err != nil {
		h.internalError(sess, "logging in user", err)
		return
	}
	if !ok {
		h.reply(sess, protocol.Error("Invalid username or password"))
		return
	}

	sess.SetIdentity(r.Username, role)
	sess.SetState(StateLoggedIn)
	h.metrics.LoggedInSessions.Inc()
	slog.Info("user logged in", "user", r.Username, "role", role, "client", sess.IP())
	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, Role: role})
}

func (h *Handler) handleLogout(sess *Session) {
	if sess.State() == StateConnected {
		h.reply(sess, protocol.Error("Not logged in."))
		return
	}
	if sess.State() == StateInRoom {
		h.leaveCurrentRoom(sess)
	}
	slog.Info("user logged out", "user", sess.Username(), "client", sess.IP())
	sess.ClearIdentity()
	sess.SetState(StateConnected)
	h.metrics.LoggedInSessions.Dec()
	h.reply(sess, protocol.OK())
}

func (h *Handler) handleListGames(ctx context.Context, sess *Session) {
	games, err := h.catalog.Games(ctx)
	if err != nil {
		h.internalError(sess, "listing games", err)
		return
	}
	if games == nil {
		games = []catalog.GameView{}
	}
	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, Data: games})
}

func (h *Handler) handleListRooms(sess *Session) {
	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, Data: h.rooms.List()})
}

func (h *Handler) handleListPlayers(sess *Session) {
	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, Data: h.sessions.Players()})
}

func (h *Handler) handleUpload(ctx context.Context, sess *Session, r protocol.UploadRequest) {
	if sess.State() != StateLoggedIn || sess.Role() != catalog.RoleDeveloper {
		h.reply(sess, protocol.Error("Permission denied"))
		return
	}

	owner, err := h.catalog.GameOwner(ctx, r.GameName)
	if err != nil {
		h.internalError(sess, "querying game owner", err)
		return
	}

	dev := sess.Username()
	if r.IsNewGame {
		if owner == dev {
			h.reply(sess, protocol.Error(fmt.Sprintf(
				"Failed: You already have a game named '%s'. Please use 'Update Game'.", r.GameName)))
			return
		}
		if owner != "" {
			h.reply(sess, protocol.Error(fmt.Sprintf(
				"Failed: Game name '%s' is already taken by another developer.", r.GameName)))
			return
		}
	} else {
		if owner == "" {
			h.reply(sess, protocol.Error(fmt.Sprintf(
				"Failed: Game '%s' does not exist.", r.GameName)))
			return
		}
		if owner != dev {
			h.reply(sess, protocol.Error("Failed: Permission Denied. You do not own this game."))
			return
		}
	}

	filename := filepath.Base(r.Filename)
	if filename == "." || filename == string(filepath.Separator) || r.Filename == "" {
		h.reply(sess, protocol.Error("Invalid filename"))
		return
	}

	version := r.Version
	if version == "" {
		version = "1.0"
	}
	gameType := r.GameType
	if gameType == "" {
		gameType = "CLI"
	}
	maxPlayers := r.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = catalog.DefaultMaxPlayers
	}

	ln, port, err := transfer.Listen()
	if err != nil {
		h.internalError(sess, "opening upload port", err)
		return
	}

	path := filepath.Join(h.cfg.ArtifactDir, filename)
	go func() {
		if err := transfer.ReceiveFile(ln, path, r.Filesize); err != nil {
			// Metadata is already committed; the catalog may point at
			// a missing or truncated artifact until the next upload.
			slog.Error("upload transfer failed", "path", path, "error", err)
			h.metrics.Transfers.WithLabelValues("upload", "error").Inc()
			return
		}
		h.metrics.Transfers.WithLabelValues("upload", "ok").Inc()
	}()

	if err := h.catalog.UpsertGame(ctx, dev, r.GameName, r.Description, filename, version, gameType, maxPlayers); err != nil {
		h.internalError(sess, "upserting game", err)
		return
	}

	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, Port: port})
}

func (h *Handler) handleDownload(ctx context.Context, sess *Session, r protocol.DownloadRequest) {
	if sess.State() != StateLoggedIn {
		h.reply(sess, protocol.Error("Permission denied"))
		return
	}

	filename, err := h.catalog.GameFilename(ctx, r.GameName)
	if err != nil {
		h.internalError(sess, "querying game filename", err)
		return
	}
	if filename == "" {
		h.reply(sess, protocol.Error("Game not found in DB"))
		return
	}

	path := filepath.Join(h.cfg.ArtifactDir, filename)
	fi, err := os.Stat(path)
	if err != nil {
		slog.Error("artifact missing", "path", path, "error", err)
		h.reply(sess, protocol.Error("File missing on server"))
		return
	}

	if err := h.catalog.RecordDownload(ctx, r.GameName, sess.Username()); err != nil {
		h.internalError(sess, "recording download", err)
		return
	}

	ln, port, err := transfer.Listen()
	if err != nil {
		h.internalError(sess, "opening download port", err)
		return
	}

	go func() {
		if err := transfer.SendFile(ln, path); err != nil {
			slog.Error("download transfer failed", "path", path, "error", err)
			h.metrics.Transfers.WithLabelValues("download", "error").Inc()
			return
		}
		h.metrics.Transfers.WithLabelValues("download", "ok").Inc()
	}()

	h.reply(sess, protocol.Reply{
		Status:   protocol.StatusOK,
		Port:     port,
		Filesize: fi.Size(),
		Filename: filename,
	})
}

func (h *Handler) handleDeleteGame(ctx context.Context, sess *Session, r protocol.DeleteGameRequest) {
	if sess.State() != StateLoggedIn || sess.Role() != catalog.RoleDeveloper {
		h.reply(sess, protocol.Error("Permission denied"))
		return
	}

	if h.rooms.IsGameActive(r.GameName) {
		h.reply(sess, protocol.Error(
			"Failed: Game is currently active in a room. Please wait for matches to finish."))
		return
	}

	filename, err := h.catalog.DeleteGame(ctx, sess.Username(), r.GameName)
	if err != nil {
		h.internalError(sess, "deleting game", err)
		return
	}
	if filename == "" {
		h.reply(sess, protocol.Error(
			"Permission Denied: You do not own this game or it does not exist."))
		return
	}

	path := filepath.Join(h.cfg.ArtifactDir, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("removing artifact", "path", path, "error", err)
	}
	slog.Info("game deleted", "game", r.GameName, "dev", sess.Username())
	h.reply(sess, protocol.OKMessage("Game deleted successfully"))
}

func (h *Handler) handleCreateRoom(ctx context.Context, sess *Session, r protocol.CreateRoomRequest) {
	if sess.State() != StateLoggedIn || sess.Role() != catalog.RolePlayer {
		h.reply(sess, protocol.Error("Permission denied"))
		return
	}

	filename, err := h.catalog.GameFilename(ctx, r.GameName)
	if err != nil {
		h.internalError(sess, "querying game", err)
		return
	}
	if filename == "" {
		h.reply(sess, protocol.Error("Game not found"))
		return
	}

	maxPlayers, err := h.catalog.GameMaxPlayers(ctx, r.GameName)
	if err != nil {
		h.internalError(sess, "querying max players", err)
		return
	}

	id := h.rooms.Create(r.RoomName, sess.Username(), r.GameName, maxPlayers)
	sess.SetRoom(id)
	sess.SetState(StateInRoom)
	h.metrics.OpenRooms.Set(float64(h.rooms.Count()))

	info, _ := h.rooms.Info(id)
	slog.Info("room created", "room", id, "host", sess.Username(), "game", r.GameName)

	// The creator is the sole member: no broadcast.
	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, RoomID: id, Data: info})
}

func (h *Handler) handleJoinRoom(sess *Session, r protocol.JoinRoomRequest) {
	if sess.State() != StateLoggedIn || sess.Role() != catalog.RolePlayer {
		h.reply(sess, protocol.Error("Permission denied"))
		return
	}

	if !h.rooms.Join(r.RoomID, sess.Username()) {
		h.reply(sess, protocol.Error("Cannot join (Room full or playing)"))
		return
	}

	sess.SetRoom(r.RoomID)
	sess.SetState(StateInRoom)

	info, _ := h.rooms.Info(r.RoomID)

	// Reply to the joiner first, then notify everyone who was already
	// in the room.
	h.reply(sess, protocol.Reply{Status: protocol.StatusOK, Message: "Joined", Data: info})
	h.broadcast(r.RoomID, sess, protocol.Notification{
		Action:   protocol.ActionPlayerJoined,
		Username: sess.Username(),
		Data:     info,
	})
}

func (h *Handler) handleLeaveRoom(sess *Session) {
	if sess.State() != StateInRoom {
		h.reply(sess, protocol.Error("Not in a room."))
		return
	}
	h.leaveCurrentRoom(sess)
	h.reply(sess, protocol.OK())
}

func (h *Handler) handleStartGame(ctx context.Context, sess *Session) {
	if sess.State() != StateInRoom {
		h.reply(sess, protocol.Error("Not in a room."))
		return
	}

	id := sess.RoomID()
	info, ok := h.rooms.Info(id)
	if !ok {
		h.reply(sess, protocol.Error("Room not found"))
		return
	}
	if info.Host != sess.Username() {
		h.reply(sess, protocol.Error("Only the host can start the game."))
		return
	}
	if !h.rooms.IsFull(id) {
		h.reply(sess, protocol.Error("Cannot start: Room is not full yet."))
		return
	}

	filename, err := h.catalog.GameFilename(ctx, info.Game)
	if err != nil {
		h.internalError(sess, "querying game filename", err)
		return
	}
	if filename == "" {
		h.reply(sess, protocol.Error("Game not found"))
		return
	}

	gamePort := h.cfg.GamePortBase + id
	artifact := filepath.Join(h.cfg.ArtifactDir, filename)
	if err := h.launcher.Launch(artifact, gamePort); err != nil {
		slog.Error("launching game", "artifact", artifact, "error", err)
		h.reply(sess, protocol.Error("Failed to start game process."))
		return
	}
	h.metrics.GamesLaunched.Inc()

	h.rooms.StartGame(id, gamePort)

	// Every member, host included, learns the session port.
	h.broadcast(id, nil, protocol.Notification{
		Action:   protocol.ActionGameStart,
		GamePort: gamePort,
		Filename: filename,
	})
}

func (h *Handler) handleFinishGame(ctx context.Context, sess *Session) {
	if sess.State() != StateInRoom {
		h.reply(sess, protocol.Error("Not in a room."))
		return
	}

	id := sess.RoomID()
	info, ok := h.rooms.Info(id)
	if !ok {
		h.reply(sess, protocol.Error("Room not found"))
		return
	}
	if info.Host != sess.Username() {
		h.reply(sess, protocol.Error("Only the host can finish the game."))
		return
	}

	h.rooms.FinishGame(id)

	for _, p := range info.Players {
		if err := h.catalog.RecordPlayHistory(ctx, p, info.Game); err != nil {
			slog.Error("recording play history", "user", p, "game", info.Game, "error", err)
		}
	}

	updated, _ := h.rooms.Info(id)
	h.broadcast(id, nil, protocol.Notification{
		Action: protocol.ActionRoomReset,
		Data:   updated,
	})
}

func (h *Handler) handleAddComment(ctx context.Context, sess *Session, r protocol.AddCommentRequest) {
	if sess.State() != StateLoggedIn || sess.Role() != catalog.RolePlayer {
		h.reply(sess, protocol.Error("Permission denied"))
		return
	}
	if r.Score < 1 || r.Score > 5 {
		h.reply(sess, protocol.Error("Score must be between 1 and 5."))
		return
	}

	played, err := h.catalog.HasPlayed(ctx, sess.Username(), r.GameName)
	if err != nil {
		h.internalError(sess, "querying play history", err)
		return
	}
	if !played {
		h.reply(sess, protocol.Error("You must play this game before rating it!"))
		return
	}

	result, err := h.catalog.AddComment(ctx, r.GameName, sess.Username(), r.Score, r.Content)
	if err != nil {
		h.internalError(sess, "adding comment", err)
		return
	}
	if result != catalog.CommentAdded {
		h.reply(sess, protocol.Error("You have already rated this game or game not found."))
		return
	}
	h.reply(sess, protocol.OKMessage("Comment added successfully"))
}

// leaveCurrentRoom applies the membership change for a departing
// session and notifies the peers that were in the room. On a dissolve,
// every peer is also reset to LOGGED_IN. The departing session itself
// gets no notification; explicit leave sends its ok reply separately,
// and on disconnect there is nobody to reply to.
func (h *Handler) leaveCurrentRoom(sess *Session) {
	id := sess.RoomID()
	if id < 0 {
		return
	}

	result := h.rooms.Leave(id, sess.Username())
	switch result {
	case room.Dissolved:
		h.sessions.ForEachInRoom(id, func(peer *Session) {
			if peer == sess {
				return
			}
			if err := peer.Send(protocol.Notification{Action: protocol.ActionRoomDisbanded}); err != nil {
				slog.Debug("broadcast dropped", "client", peer.IP(), "error", err)
			}
			peer.SetRoom(-1)
			peer.SetState(StateLoggedIn)
			h.metrics.Broadcasts.WithLabelValues(protocol.ActionRoomDisbanded).Inc()
		})
		slog.Info("room dissolved", "room", id, "by", sess.Username())

	case room.Left:
		info, _ := h.rooms.Info(id)
		h.broadcast(id, sess, protocol.Notification{
			Action:   protocol.ActionPlayerLeft,
			Username: sess.Username(),
			Data:     info,
		})
	}

	sess.SetRoom(-1)
	sess.SetState(StateLoggedIn)
	h.metrics.OpenRooms.Set(float64(h.rooms.Count()))
}

// broadcast fans one notification out to every session in the room,
// skipping exclude when non-nil. A peer whose send fails is left for
// its own read loop to reap; the remaining peers still get the event.
func (h *Handler) broadcast(roomID int, exclude *Session, note protocol.Notification) {
	h.sessions.ForEachInRoom(roomID, func(peer *Session) {
		if peer == exclude {
			return
		}
		if err := peer.Send(note); err != nil {
			slog.Debug("broadcast dropped", "client", peer.IP(), "error", err)
		}
		h.metrics.Broadcasts.WithLabelValues(note.Action).Inc()
	})
}
