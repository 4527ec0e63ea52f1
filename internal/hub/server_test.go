package hub_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/internal/catalog"
	"gamehub/internal/config"
	"gamehub/internal/hub"
	"gamehub/internal/protocol"
	"gamehub/internal/testutil"
)

type launchCall struct {
	artifact string
	port     int
}

// stubLauncher records launches instead of spawning subprocesses.
type stubLauncher struct {
	mu    sync.Mutex
	calls []launchCall
	err   error
}

func (l *stubLauncher) Launch(artifact string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.calls = append(l.calls, launchCall{artifact: artifact, port: port})
	return nil
}

func (l *stubLauncher) Calls() []launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launchCall(nil), l.calls...)
}

type hubEnv struct {
	addr     string
	cfg      config.Server
	launcher *stubLauncher
}

func startHub(t *testing.T) *hubEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultServer()
	cfg.BindAddress = "127.0.0.1"
	cfg.ArtifactDir = filepath.Join(dir, "uploaded_games")
	cfg.Catalog.Path = filepath.Join(dir, "database.json")
	require.NoError(t, os.MkdirAll(cfg.ArtifactDir, 0o755))

	store, err := catalog.NewFileStore(cfg.Catalog.Path)
	require.NoError(t, err)

	launcher := &stubLauncher{}
	server := hub.NewServer(cfg, store, hub.WithLauncher(launcher))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addr := ln.Addr().String()
	require.NoError(t, testutil.WaitForTCPReady(addr, 5*time.Second))

	return &hubEnv{addr: addr, cfg: cfg, launcher: launcher}
}

// uploadGame runs the full two-connection upload: control request, then
// the data connection carrying the artifact bytes.
func uploadGame(t *testing.T, c *testutil.Client, name, filename string, content []byte, artifactDir string) {
	t.Helper()

	rep, err := c.Do(protocol.UploadRequest{
		GameName:  name,
		IsNewGame: true,
		Filename:  filename,
		Filesize:  int64(len(content)),
	})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status, rep.Message)
	require.NotZero(t, rep.Port)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", rep.Port))
	require.NoError(t, err)
	_, err = conn.Write(content)
	require.NoError(t, err)
	conn.Close()

	path := filepath.Join(artifactDir, filename)
	testutil.WaitForCondition(t, func() bool {
		fi, err := os.Stat(path)
		return err == nil && fi.Size() == int64(len(content))
	}, 5*time.Second)
}

func TestRegisterAndLogin(t *testing.T) {
	env := startHub(t)

	c, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)

	c.Register("alice", "pw", "player")

	rep, err := c.Do(protocol.RegisterRequest{Username: "alice", Password: "other", Role: "developer"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "Username already exists", rep.Message)

	rep, err = c.Do(protocol.LoginRequest{Username: "alice", Password: "wrong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)

	rep, err = c.Do(protocol.LoginRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)
	assert.Equal(t, "player", rep.Role)

	// A second session for the same user is refused while this one is
	// logged in.
	c2, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	rep, err = c2.Do(protocol.LoginRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "User is already logged in.", rep.Message)

	// Logout frees the username.
	rep, err = c.Do(protocol.LogoutRequest{})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	rep, err = c2.Do(protocol.LoginRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, rep.Status)
}

func TestDisconnectFreesUsername(t *testing.T) {
	env := startHub(t)

	c, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	c.Register("alice", "pw", "player")
	c.Login("alice", "pw")
	require.NoError(t, c.Close())

	c2, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	testutil.WaitForCondition(t, func() bool {
		rep, err := c2.Do(protocol.LoginRequest{Username: "alice", Password: "pw"})
		if err != nil {
			return false
		}
		return rep.Status == protocol.StatusOK
	}, 5*time.Second)
}

func TestRoleEnforcement(t *testing.T) {
	env := startHub(t)

	player, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	player.Register("alice", "pw", "player")
	player.Login("alice", "pw")

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")

	// Players cannot publish or delete games.
	rep, err := player.Do(protocol.UploadRequest{GameName: "pong", IsNewGame: true, Filename: "pong.py", Filesize: 1})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)

	rep, err = player.Do(protocol.DeleteGameRequest{GameName: "pong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)

	// Developers cannot enter matchmaking.
	rep, err = dev.Do(protocol.CreateRoomRequest{RoomName: "r", GameName: "pong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)

	rep, err = dev.Do(protocol.JoinRoomRequest{RoomID: 1})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
}

func TestUploadDownloadDelete(t *testing.T) {
	env := startHub(t)

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")

	content := []byte("print('pong')\n")
	uploadGame(t, dev, "pong", "pong.py", content, env.cfg.ArtifactDir)

	// Re-publishing under the same name is refused; updates go through
	// is_new_game=false.
	rep, err := dev.Do(protocol.UploadRequest{GameName: "pong", IsNewGame: true, Filename: "pong.py", Filesize: 1})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "Failed: You already have a game named 'pong'. Please use 'Update Game'.", rep.Message)

	rep, err = dev.Do(protocol.ListGamesRequest{})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)
	games, ok := rep.Data.([]any)
	require.True(t, ok)
	require.Len(t, games, 1)
	game := games[0].(map[string]any)
	assert.Equal(t, "pong", game["name"])
	assert.Equal(t, "1.0", game["version"])
	assert.Equal(t, "CLI", game["game_type"])
	assert.Equal(t, float64(2), game["max_players"])

	// Download as a player.
	player, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	player.Register("alice", "pw", "player")
	player.Login("alice", "pw")

	rep, err = player.Do(protocol.DownloadRequest{GameName: "pong"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status, rep.Message)
	assert.Equal(t, "pong.py", rep.Filename)
	assert.Equal(t, int64(len(content)), rep.Filesize)
	require.NotZero(t, rep.Port)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", rep.Port))
	require.NoError(t, err)
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, content, got)

	rep, err = player.Do(protocol.DownloadRequest{GameName: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "Game not found in DB", rep.Message)

	// Delete removes both the catalog entry and the artifact.
	rep, err = dev.Do(protocol.DeleteGameRequest{GameName: "pong"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status, rep.Message)

	_, err = os.Stat(filepath.Join(env.cfg.ArtifactDir, "pong.py"))
	assert.True(t, os.IsNotExist(err))

	rep, err = player.Do(protocol.DownloadRequest{GameName: "pong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
}

func TestRoomLifecycle(t *testing.T) {
	env := startHub(t)

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")
	uploadGame(t, dev, "pong", "pong.py", []byte("print('pong')\n"), env.cfg.ArtifactDir)

	host, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	host.Register("alice", "pw", "player")
	host.Login("alice", "pw")

	joiner, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	joiner.Register("bob", "pw", "player")
	joiner.Login("bob", "pw")

	rep, err := host.Do(protocol.CreateRoomRequest{RoomName: "match", GameName: "pong"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status, rep.Message)
	roomID := rep.RoomID
	assert.Equal(t, 1, roomID)

	// Start before the room is full is refused.
	require.NoError(t, host.Send(protocol.StartGameRequest{}))
	rep, err = host.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, "Cannot start: Room is not full yet.", rep.Message)

	rep, err = joiner.Do(protocol.JoinRoomRequest{RoomID: roomID})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status, rep.Message)

	note, err := host.ReadNotification()
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionPlayerJoined, note.Action)
	assert.Equal(t, "bob", note.Username)

	// Only the host may start.
	require.NoError(t, joiner.Send(protocol.StartGameRequest{}))
	rep, err = joiner.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)

	// Host starts: every member gets game_start, the artifact is
	// launched on game_port_base + room id.
	require.NoError(t, host.Send(protocol.StartGameRequest{}))

	wantPort := env.cfg.GamePortBase + roomID
	for _, c := range []*testutil.Client{host, joiner} {
		note, err := c.ReadNotification()
		require.NoError(t, err)
		assert.Equal(t, protocol.ActionGameStart, note.Action)
		assert.Equal(t, wantPort, note.GamePort)
		assert.Equal(t, "pong.py", note.Filename)
	}

	calls := env.launcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(env.cfg.ArtifactDir, "pong.py"), calls[0].artifact)
	assert.Equal(t, wantPort, calls[0].port)

	// The playing room refuses new members and game deletion.
	rep, err = dev.Do(protocol.DeleteGameRequest{GameName: "pong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "Failed: Game is currently active in a room. Please wait for matches to finish.", rep.Message)

	// Host finishes: members get room_reset and earn play history.
	require.NoError(t, host.Send(protocol.FinishGameRequest{}))
	for _, c := range []*testutil.Client{host, joiner} {
		note, err := c.ReadNotification()
		require.NoError(t, err)
		assert.Equal(t, protocol.ActionRoomReset, note.Action)
	}

	rep, err = host.Do(protocol.ListRoomsRequest{})
	require.NoError(t, err)
	rooms, ok := rep.Data.([]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	assert.Equal(t, "idle", rooms[0].(map[string]any)["status"])

	// Non-host leave: host is notified, the room survives.
	rep, err = joiner.Do(protocol.LeaveRoomRequest{})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	note, err = host.ReadNotification()
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionPlayerLeft, note.Action)
	assert.Equal(t, "bob", note.Username)

	// Having played, bob may now rate the game once.
	rep, err = joiner.Do(protocol.AddCommentRequest{GameName: "pong", Score: 5, Content: "fun"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status, rep.Message)

	rep, err = joiner.Do(protocol.AddCommentRequest{GameName: "pong", Score: 1, Content: "again"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "You have already rated this game or game not found.", rep.Message)

	// Host leave empties and deletes the room.
	rep, err = host.Do(protocol.LeaveRoomRequest{})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	rep, err = host.Do(protocol.ListRoomsRequest{})
	require.NoError(t, err)
	rooms, ok = rep.Data.([]any)
	require.True(t, ok)
	assert.Empty(t, rooms)
}

func TestHostLeaveDissolvesRoom(t *testing.T) {
	env := startHub(t)

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")
	uploadGame(t, dev, "pong", "pong.py", []byte("x"), env.cfg.ArtifactDir)

	host, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	host.Register("alice", "pw", "player")
	host.Login("alice", "pw")

	peer, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	peer.Register("bob", "pw", "player")
	peer.Login("bob", "pw")

	rep, err := host.Do(protocol.CreateRoomRequest{RoomName: "match", GameName: "pong"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)
	roomID := rep.RoomID

	rep, err = peer.Do(protocol.JoinRoomRequest{RoomID: roomID})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)
	_, err = host.ReadNotification() // player_joined
	require.NoError(t, err)

	rep, err = host.Do(protocol.LeaveRoomRequest{})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	note, err := peer.ReadNotification()
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionRoomDisbanded, note.Action)

	// The peer was reset to the lobby: it may open its own room now.
	rep, err = peer.Do(protocol.CreateRoomRequest{RoomName: "next", GameName: "pong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, rep.Status, rep.Message)
	assert.Equal(t, 1, rep.RoomID, "dissolved room's id is reused")
}

func TestHostDisconnectDissolvesRoom(t *testing.T) {
	env := startHub(t)

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")
	uploadGame(t, dev, "pong", "pong.py", []byte("x"), env.cfg.ArtifactDir)

	host, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	host.Register("alice", "pw", "player")
	host.Login("alice", "pw")

	peer, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	peer.Register("bob", "pw", "player")
	peer.Login("bob", "pw")

	rep, err := host.Do(protocol.CreateRoomRequest{RoomName: "match", GameName: "pong"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	rep, err = peer.Do(protocol.JoinRoomRequest{RoomID: rep.RoomID})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	require.NoError(t, host.Close())

	note, err := peer.ReadNotification()
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionRoomDisbanded, note.Action)

	// Back in the lobby, the peer may open a room of its own.
	rep, err = peer.Do(protocol.CreateRoomRequest{RoomName: "next", GameName: "pong"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, rep.Status, rep.Message)
}

func TestPeerDisconnectNotifiesRoom(t *testing.T) {
	env := startHub(t)

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")
	uploadGame(t, dev, "pong", "pong.py", []byte("x"), env.cfg.ArtifactDir)

	host, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	host.Register("alice", "pw", "player")
	host.Login("alice", "pw")

	peer, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	peer.Register("bob", "pw", "player")
	peer.Login("bob", "pw")

	rep, err := host.Do(protocol.CreateRoomRequest{RoomName: "match", GameName: "pong"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)

	rep, err = peer.Do(protocol.JoinRoomRequest{RoomID: rep.RoomID})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, rep.Status)
	_, err = host.ReadNotification() // player_joined
	require.NoError(t, err)

	// An abrupt disconnect behaves like leave_room.
	require.NoError(t, peer.Close())

	note, err := host.ReadNotification()
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionPlayerLeft, note.Action)
	assert.Equal(t, "bob", note.Username)
}

func TestCommentRequiresPlayHistory(t *testing.T) {
	env := startHub(t)

	dev, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	dev.Register("dev1", "pw", "developer")
	dev.Login("dev1", "pw")
	uploadGame(t, dev, "pong", "pong.py", []byte("x"), env.cfg.ArtifactDir)

	player, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)
	player.Register("alice", "pw", "player")
	player.Login("alice", "pw")

	rep, err := player.Do(protocol.AddCommentRequest{GameName: "pong", Score: 4, Content: "nice"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "You must play this game before rating it!", rep.Message)

	rep, err = player.Do(protocol.AddCommentRequest{GameName: "pong", Score: 9, Content: "nice"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, rep.Status)
	assert.Equal(t, "Score must be between 1 and 5.", rep.Message)
}

func TestMalformedRequestsAreDropped(t *testing.T) {
	env := startHub(t)

	c, err := testutil.NewClient(t, env.addr)
	require.NoError(t, err)

	// Neither malformed JSON nor an unknown action gets a reply, and the
	// connection survives both.
	require.NoError(t, c.SendRaw([]byte("this is not json")))
	require.NoError(t, c.SendRaw([]byte(`{"action":"warp_core_breach"}`)))

	rep, err := c.Do(protocol.ListGamesRequest{})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, rep.Status)
}
