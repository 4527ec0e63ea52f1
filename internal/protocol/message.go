package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Action names carried in the "action" field of every request and
// server-initiated notification.
const (
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionListGames       = "list_games"
	ActionListRooms       = "list_rooms"
	ActionListPlayers     = "list_players"
	ActionUploadRequest   = "upload_request"
	ActionDownloadRequest = "download_request"
	ActionDeleteGame      = "delete_game"
	ActionCreateRoom      = "create_room"
	ActionJoinRoom        = "join_room"
	ActionLeaveRoom       = "leave_room"
	ActionStartGame       = "start_game"
	ActionFinishGame      = "finish_game"
	ActionAddComment      = "add_comment"

	ActionPlayerJoined  = "player_joined"
	ActionPlayerLeft    = "player_left"
	ActionRoomDisbanded = "room_disbanded"
	ActionRoomReset     = "room_reset"
	ActionGameStart     = "game_start"
)

// ErrUnknownAction is returned by DecodeRequest for an action the server
// does not recognize. The request is dropped, the connection stays open.
var ErrUnknownAction = errors.New("unknown action")

// Request is the decoded form of one client control message.
// One concrete type per action replaces the string-keyed dispatch.
type Request interface {
	Action() string
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutRequest struct{}

type ListGamesRequest struct{}

type ListRoomsRequest struct{}

type ListPlayersRequest struct{}

type UploadRequest struct {
	GameName    string `json:"gamename"`
	IsNewGame   bool   `json:"is_new_game"`
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	Version     string `json:"version"`
	GameType    string `json:"game_type"`
	MaxPlayers  int    `json:"max_players"`
	Description string `json:"description"`
}

type DownloadRequest struct {
	GameName string `json:"gamename"`
}

type DeleteGameRequest struct {
	GameName string `json:"gamename"`
}

type CreateRoomRequest struct {
	RoomName string `json:"room_name"`
	GameName string `json:"game_name"`
}

type JoinRoomRequest struct {
	RoomID int `json:"room_id"`
}

type LeaveRoomRequest struct{}

type StartGameRequest struct{}

type FinishGameRequest struct{}

type AddCommentRequest struct {
	GameName string `json:"game_name"`
	Score    int    `json:"score"`
	Content  string `json:"content"`
}

func (RegisterRequest) Action() string    { return ActionRegister }
func (LoginRequest) Action() string       { return ActionLogin }
func (LogoutRequest) Action() string      { return ActionLogout }
func (ListGamesRequest) Action() string   { return ActionListGames }
func (ListRoomsRequest) Action() string   { return ActionListRooms }
func (ListPlayersRequest) Action() string { return ActionListPlayers }
func (UploadRequest) Action() string      { return ActionUploadRequest }
func (DownloadRequest) Action() string    { return ActionDownloadRequest }
func (DeleteGameRequest) Action() string  { return ActionDeleteGame }
func (CreateRoomRequest) Action() string  { return ActionCreateRoom }
func (JoinRoomRequest) Action() string    { return ActionJoinRoom }
func (LeaveRoomRequest) Action() string   { return ActionLeaveRoom }
func (StartGameRequest) Action() string   { return ActionStartGame }
func (FinishGameRequest) Action() string  { return ActionFinishGame }
func (AddCommentRequest) Action() string  { return ActionAddComment }

// DecodeRequest parses one framed JSON payload into its typed request.
func DecodeRequest(data []byte) (Request, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing request envelope: %w", err)
	}

	var (
		req Request
		err error
	)
	switch envelope.Action {
	case ActionRegister:
		req, err = unmarshalAs[RegisterRequest](data)
	case ActionLogin:
		req, err = unmarshalAs[LoginRequest](data)
	case ActionLogout:
		req = LogoutRequest{}
	case ActionListGames:
		req = ListGamesRequest{}
	case ActionListRooms:
		req = ListRoomsRequest{}
	case ActionListPlayers:
		req = ListPlayersRequest{}
	case ActionUploadRequest:
		req, err = unmarshalAs[UploadRequest](data)
	case ActionDownloadRequest:
		req, err = unmarshalAs[DownloadRequest](data)
	case ActionDeleteGame:
		req, err = unmarshalAs[DeleteGameRequest](data)
	case ActionCreateRoom:
		req, err = unmarshalAs[CreateRoomRequest](data)
	case ActionJoinRoom:
		req, err = unmarshalAs[JoinRoomRequest](data)
	case ActionLeaveRoom:
		req = LeaveRoomRequest{}
	case ActionStartGame:
		req = StartGameRequest{}
	case ActionFinishGame:
		req = FinishGameRequest{}
	case ActionAddComment:
		req, err = unmarshalAs[AddCommentRequest](data)
	default:
		return nil, fmt.Errorf("action %q: %w", envelope.Action, ErrUnknownAction)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeRequest marshals a typed request together with its action tag.
// The structs deliberately carry no action field of their own (the type
// is the tag), so clients must encode through here for DecodeRequest on
// the other side to resolve the variant.
func EncodeRequest(req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Action(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Action(), err)
	}
	tag, err := json.Marshal(req.Action())
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Action(), err)
	}
	fields["action"] = tag

	return json.Marshal(fields)
}

func unmarshalAs[T Request](data []byte) (Request, error) {
	var req T
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing %s request: %w", req.Action(), err)
	}
	return req, nil
}

// Reply is the direct response to a client request.
// Optional fields are populated per action; zero values are omitted.
type Reply struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Role     string `json:"role,omitempty"`
	RoomID   int    `json:"room_id,omitempty"`
	Port     int    `json:"port,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// OK returns a bare success reply.
func OK() Reply {
	return Reply{Status: StatusOK}
}

// OKMessage returns a success reply with a human-readable message.
func OKMessage(msg string) Reply {
	return Reply{Status: StatusOK, Message: msg}
}

// Error returns an error reply with a human-readable message.
func Error(msg string) Reply {
	return Reply{Status: StatusError, Message: msg}
}

// Notification is a server-initiated message fanned out to room peers.
type Notification struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
	GamePort int    `json:"game_port,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     any    `json:"data,omitempty"`
}
