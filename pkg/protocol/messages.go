package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Message type tags (Client → Server)
const (
	TypeLogin         = "login"
	TypeRegister      = "register"
	TypeRequestReset  = "request_reset"
	TypeResetPassword = "reset_password"
	TypeJoinQueue     = "join_queue"
	TypeLeaveQueue    = "leave_queue"
	TypeMove          = "move"
	TypeResign        = "resign"
)

// Message type tags (Server → Client)
const (
	TypeLoginResponse         = "login_response"
	TypeRegisterResponse      = "register_response"
	TypeResetResponse         = "reset_response"
	TypeResetPasswordResponse = "reset_password_response"
	TypeQueueResponse         = "queue_response"
	TypeGameStart             = "game_start"
	TypeMoveResponse          = "move_response"
	TypeOpponentMove          = "opponent_move"
	TypeGameEnd               = "game_end"
	TypeError                 = "error"
)

var (
	// ErrMalformed means the payload is not a JSON object with a type tag.
	// It is a protocol violation.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType and ErrInvalidFields are recoverable: the peer gets an
	// error message and the connection stays up.
	ErrUnknownType   = errors.New("unknown message type")
	ErrInvalidFields = errors.New("invalid message fields")
)

// Message is the closed set of application messages. Every concrete type in
// this file implements it; Decode never returns anything else.
type Message interface {
	MessageType() string
}

// Board is the wire form of the grid: rows of nil or "<color>_<type>".
type Board [][]*string

// Stats is the account summary sent after login.
type Stats struct {
	GamesPlayed int `json:"games_played"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	Draws       int `json:"draws"`
	Rating      int `json:"rating"`
}

// LoginRequest authenticates the connection.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type RequestResetRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type JoinQueueRequest struct{}

type LeaveQueueRequest struct{}

// MoveRequest carries (row, col) pairs. Promotion is optional.
type MoveRequest struct {
	From           []int  `json:"from"`
	To             []int  `json:"to"`
	PromotionPiece string `json:"promotion_piece,omitempty"`
}

type ResignRequest struct{}

type LoginResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Stats    *Stats `json:"stats,omitempty"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ResetPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type QueueResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type GameStart struct {
	GameID   string `json:"game_id"`
	Color    string `json:"color"`
	Opponent string `json:"opponent"`
	Board    Board  `json:"board"`
}

// MoveResponse answers the mover. On rejection only Success and Message are
// set; on game end GameOver and Reason are set.
type MoveResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Board      Board  `json:"board,omitempty"`
	Turn       string `json:"turn,omitempty"`
	InCheck    bool   `json:"in_check"`
	GameStatus string `json:"game_status,omitempty"`
	Captured   string `json:"captured,omitempty"`
	Promotion  string `json:"promotion,omitempty"`
	GameOver   bool   `json:"game_over,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type OpponentMove struct {
	From    []int  `json:"from"`
	To      []int  `json:"to"`
	Board   Board  `json:"board"`
	Turn    string `json:"turn"`
	InCheck bool   `json:"in_check"`
}

// GameEnd results and reasons
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"

	ReasonCheckmate            = "checkmate"
	ReasonStalemate            = "stalemate"
	ReasonResigned             = "resigned"
	ReasonOpponentResigned     = "opponent_resigned"
	ReasonOpponentDisconnected = "opponent_disconnected"
)

type GameEnd struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (*LoginRequest) MessageType() string          { return TypeLogin }
func (*RegisterRequest) MessageType() string       { return TypeRegister }
func (*RequestResetRequest) MessageType() string   { return TypeRequestReset }
func (*ResetPasswordRequest) MessageType() string  { return TypeResetPassword }
func (*JoinQueueRequest) MessageType() string      { return TypeJoinQueue }
func (*LeaveQueueRequest) MessageType() string     { return TypeLeaveQueue }
func (*MoveRequest) MessageType() string           { return TypeMove }
func (*ResignRequest) MessageType() string         { return TypeResign }
func (*LoginResponse) MessageType() string         { return TypeLoginResponse }
func (*RegisterResponse) MessageType() string      { return TypeRegisterResponse }
func (*ResetResponse) MessageType() string         { return TypeResetResponse }
func (*ResetPasswordResponse) MessageType() string { return TypeResetPasswordResponse }
func (*QueueResponse) MessageType() string         { return TypeQueueResponse }
func (*GameStart) MessageType() string             { return TypeGameStart }
func (*MoveResponse) MessageType() string          { return TypeMoveResponse }
func (*OpponentMove) MessageType() string          { return TypeOpponentMove }
func (*GameEnd) MessageType() string               { return TypeGameEnd }
func (*ErrorMessage) MessageType() string          { return TypeError }

var registry = map[string]func() Message{
	TypeLogin:                 func() Message { return &LoginRequest{} },
	TypeRegister:              func() Message { return &RegisterRequest{} },
	TypeRequestReset:          func() Message { return &RequestResetRequest{} },
	TypeResetPassword:         func() Message { return &ResetPasswordRequest{} },
	TypeJoinQueue:             func() Message { return &JoinQueueRequest{} },
	TypeLeaveQueue:            func() Message { return &LeaveQueueRequest{} },
	TypeMove:                  func() Message { return &MoveRequest{} },
	TypeResign:                func() Message { return &ResignRequest{} },
	TypeLoginResponse:         func() Message { return &LoginResponse{} },
	TypeRegisterResponse:      func() Message { return &RegisterResponse{} },
	TypeResetResponse:         func() Message { return &ResetResponse{} },
	TypeResetPasswordResponse: func() Message { return &ResetPasswordResponse{} },
	TypeQueueResponse:         func() Message { return &QueueResponse{} },
	TypeGameStart:             func() Message { return &GameStart{} },
	TypeMoveResponse:          func() Message { return &MoveResponse{} },
	TypeOpponentMove:          func() Message { return &OpponentMove{} },
	TypeGameEnd:               func() Message { return &GameEnd{} },
	TypeError:                 func() Message { return &ErrorMessage{} },
}

// Encode marshals a message to a JSON object with its "type" tag first.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.MessageType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %s does not encode to an object", ErrMalformed, m.MessageType())
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(body)+32))
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Quote(m.MessageType()))
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// Decode parses a JSON object into the concrete message named by its "type"
// field. Unknown tags yield ErrUnknownType so the caller can answer with an
// error message instead of dropping the request.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	newMsg, ok := registry[*envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, *envelope.Type)
	}

	msg := newMsg()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFields, *envelope.Type, err)
	}
	return msg, nil
}
