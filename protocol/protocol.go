package protocol

import (
	"encoding/json"
	"errors"

	"originchats/models"
)

// Inbound command tags.
const (
	CmdPing          = "ping"
	CmdAuth          = "auth"
	CmdMessageNew    = "message_new"
	CmdMessageEdit   = "message_edit"
	CmdMessageDelete = "message_delete"
	CmdChannelsGet   = "channels_get"
	CmdMessagesGet   = "messages_get"
	CmdUsersGet      = "users_get"
	CmdOnlineGet     = "online_get"
)

// Outbound command tags.
const (
	CmdPong           = "pong"
	CmdError          = "error"
	CmdAuthError      = "auth_error"
	CmdAuthSuccess    = "auth_success"
	CmdHandshake      = "handshake"
	CmdUserConnect    = "user_connect"
	CmdUserDisconnect = "user_disconnect"
	CmdUserEdit       = "user_edit"
	CmdDisconnect     = "disconnect"
)

var ErrMalformed = errors.New("malformed frame")

// AuthRequest carries the opaque validator token.
type AuthRequest struct {
	Token string `json:"token"`
}

type MessageNewRequest struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
}

type MessageEditRequest struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

type MessageDeleteRequest struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

type MessagesGetRequest struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
}

// Request is the decoded form of one inbound frame: the command tag plus at
// most one populated payload. Payloads are decoded here, once, so handlers
// never re-parse raw JSON for field presence.
type Request struct {
	Cmd string

	Auth          *AuthRequest
	MessageNew    *MessageNewRequest
	MessageEdit   *MessageEditRequest
	MessageDelete *MessageDeleteRequest
	MessagesGet   *MessagesGetRequest
}

// ParseRequest decodes one inbound frame. Unknown command tags decode to a
// bare Request so the dispatcher can echo them back in its error reply.
func ParseRequest(data []byte) (*Request, error) {
	var env struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}
	if env.Cmd == "" {
		return nil, ErrMalformed
	}

	req := &Request{Cmd: env.Cmd}

	var err error
	switch env.Cmd {
	case CmdAuth:
		req.Auth = &AuthRequest{}
		err = json.Unmarshal(data, req.Auth)
	case CmdMessageNew:
		req.MessageNew = &MessageNewRequest{}
		err = json.Unmarshal(data, req.MessageNew)
	case CmdMessageEdit:
		req.MessageEdit = &MessageEditRequest{}
		err = json.Unmarshal(data, req.MessageEdit)
	case CmdMessageDelete:
		req.MessageDelete = &MessageDeleteRequest{}
		err = json.Unmarshal(data, req.MessageDelete)
	case CmdMessagesGet:
		req.MessagesGet = &MessagesGetRequest{}
		err = json.Unmarshal(data, req.MessagesGet)
	}
	if err != nil {
		return nil, ErrMalformed
	}

	return req, nil
}

// ValFrame is the generic cmd/val shape used for errors, acknowledgements and
// simple notifications.
type ValFrame struct {
	Cmd string `json:"cmd"`
	Val string `json:"val"`
}

func Error(val string) ValFrame     { return ValFrame{Cmd: CmdError, Val: val} }
func AuthError(val string) ValFrame { return ValFrame{Cmd: CmdAuthError, Val: val} }
func Pong() ValFrame                { return ValFrame{Cmd: CmdPong, Val: "pong"} }

// Ping is the server-initiated heartbeat frame.
func Ping() ValFrame { return ValFrame{Cmd: CmdPing, Val: "ping"} }

// Disconnect tells a client the server is about to drop it, with a reason.
func Disconnect(reason string) ValFrame { return ValFrame{Cmd: CmdDisconnect, Val: reason} }

// HandshakeInfo is sent unprompted when a connection opens.
type HandshakeInfo struct {
	Server       string `json:"server"`
	Version      string `json:"version"`
	ValidatorKey string `json:"validator_key"`
}

type HandshakeFrame struct {
	Cmd string        `json:"cmd"`
	Val HandshakeInfo `json:"val"`
}

func Handshake(server, version, validatorKey string) HandshakeFrame {
	return HandshakeFrame{
		Cmd: CmdHandshake,
		Val: HandshakeInfo{Server: server, Version: version, ValidatorKey: validatorKey},
	}
}

// Profile is a user as shown to clients: directory record plus the display
// color derived from the first role that defines one.
type Profile struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Color    string   `json:"color,omitempty"`
}

type AuthSuccessFrame struct {
	Cmd string  `json:"cmd"`
	Val Profile `json:"val"`
}

func AuthSuccess(p Profile) AuthSuccessFrame {
	return AuthSuccessFrame{Cmd: CmdAuthSuccess, Val: p}
}

type UsersFrame struct {
	Cmd string    `json:"cmd"`
	Val []Profile `json:"val"`
}

func Users(users []Profile) UsersFrame { return UsersFrame{Cmd: CmdUsersGet, Val: users} }

type OnlineFrame struct {
	Cmd string    `json:"cmd"`
	Val []Profile `json:"val"`
}

func Online(users []Profile) OnlineFrame { return OnlineFrame{Cmd: CmdOnlineGet, Val: users} }

type PresenceFrame struct {
	Cmd      string `json:"cmd"`
	Username string `json:"username"`
}

func UserConnect(username string) PresenceFrame {
	return PresenceFrame{Cmd: CmdUserConnect, Username: username}
}

func UserDisconnect(username string) PresenceFrame {
	return PresenceFrame{Cmd: CmdUserDisconnect, Username: username}
}

type ChannelsFrame struct {
	Cmd string           `json:"cmd"`
	Val []models.Channel `json:"val"`
}

func Channels(channels []models.Channel) ChannelsFrame {
	return ChannelsFrame{Cmd: CmdChannelsGet, Val: channels}
}

type MessagesFrame struct {
	Cmd      string           `json:"cmd"`
	Channel  string           `json:"channel"`
	Messages []models.Message `json:"messages"`
}

func Messages(channel string, messages []models.Message) MessagesFrame {
	return MessagesFrame{Cmd: CmdMessagesGet, Channel: channel, Messages: messages}
}

type MessageNewFrame struct {
	Cmd     string         `json:"cmd"`
	Channel string         `json:"channel"`
	Message models.Message `json:"message"`
}

func MessageNew(channel string, m models.Message) MessageNewFrame {
	return MessageNewFrame{Cmd: CmdMessageNew, Channel: channel, Message: m}
}

type MessageEditFrame struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

func MessageEdit(channel, id, content string) MessageEditFrame {
	return MessageEditFrame{Cmd: CmdMessageEdit, Channel: channel, ID: id, Content: content}
}

type MessageDeleteFrame struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

func MessageDelete(channel, id string) MessageDeleteFrame {
	return MessageDeleteFrame{Cmd: CmdMessageDelete, Channel: channel, ID: id}
}

type UserEditFrame struct {
	Cmd     string             `json:"cmd"`
	Changes models.UserChanges `json:"changes"`
}

func UserEdit(changes models.UserChanges) UserEditFrame {
	return UserEditFrame{Cmd: CmdUserEdit, Changes: changes}
}
