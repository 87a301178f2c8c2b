package client

import (
	"fmt"
	"time"

	"github.com/aeolun/ninechess/pkg/protocol"
)

// DefaultTimeout bounds each request helper.
const DefaultTimeout = 10 * time.Second

// Register creates an account.
func (c *Connection) Register(username, password, email string) (*protocol.RegisterResponse, error) {
	return request[*protocol.RegisterResponse](c, &protocol.RegisterRequest{Username: username, Password: password, Email: email}, protocol.TypeRegisterResponse)
}

// Login authenticates the session.
func (c *Connection) Login(username, password string) (*protocol.LoginResponse, error) {
	return request[*protocol.LoginResponse](c, &protocol.LoginRequest{Username: username, Password: password}, protocol.TypeLoginResponse)
}

// RequestReset asks for a password reset code by email.
func (c *Connection) RequestReset(email string) (*protocol.ResetResponse, error) {
	return request[*protocol.ResetResponse](c, &protocol.RequestResetRequest{Email: email}, protocol.TypeResetResponse)
}

// ResetPassword sets a new password with an emailed code.
func (c *Connection) ResetPassword(email, code, newPassword string) (*protocol.ResetPasswordResponse, error) {
	return request[*protocol.ResetPasswordResponse](c, &protocol.ResetPasswordRequest{Email: email, Code: code, NewPassword: newPassword}, protocol.TypeResetPasswordResponse)
}

// JoinQueue enters matchmaking. A game_start for the pair may arrive before
// the response; collect it with WaitGameStart.
func (c *Connection) JoinQueue() (*protocol.QueueResponse, error) {
	return request[*protocol.QueueResponse](c, &protocol.JoinQueueRequest{}, protocol.TypeQueueResponse)
}

// LeaveQueue leaves matchmaking.
func (c *Connection) LeaveQueue() (*protocol.QueueResponse, error) {
	return request[*protocol.QueueResponse](c, &protocol.LeaveQueueRequest{}, protocol.TypeQueueResponse)
}

// Move submits a move given as (row, col) pairs.
func (c *Connection) Move(from, to []int, promotion string) (*protocol.MoveResponse, error) {
	return request[*protocol.MoveResponse](c, &protocol.MoveRequest{From: from, To: to, PromotionPiece: promotion}, protocol.TypeMoveResponse)
}

// Resign concedes the current game and returns the resulting game_end.
func (c *Connection) Resign() (*protocol.GameEnd, error) {
	if err := c.Send(&protocol.ResignRequest{}); err != nil {
		return nil, err
	}
	msg, err := c.Expect(DefaultTimeout, protocol.TypeGameEnd, protocol.TypeError)
	if err != nil {
		return nil, err
	}
	if e, ok := msg.(*protocol.ErrorMessage); ok {
		return nil, fmt.Errorf("resign rejected: %s", e.Message)
	}
	return msg.(*protocol.GameEnd), nil
}

// WaitGameStart waits for pairing.
func (c *Connection) WaitGameStart(timeout time.Duration) (*protocol.GameStart, error) {
	return wait[*protocol.GameStart](c, timeout, protocol.TypeGameStart)
}

// WaitOpponentMove waits for the opponent's move.
func (c *Connection) WaitOpponentMove(timeout time.Duration) (*protocol.OpponentMove, error) {
	return wait[*protocol.OpponentMove](c, timeout, protocol.TypeOpponentMove)
}

// WaitGameEnd waits for the end of the game.
func (c *Connection) WaitGameEnd(timeout time.Duration) (*protocol.GameEnd, error) {
	return wait[*protocol.GameEnd](c, timeout, protocol.TypeGameEnd)
}

func request[T protocol.Message](c *Connection, req protocol.Message, respType string) (T, error) {
	var zero T
	if err := c.Send(req); err != nil {
		return zero, err
	}
	return wait[T](c, DefaultTimeout, respType)
}

func wait[T protocol.Message](c *Connection, timeout time.Duration, msgType string) (T, error) {
	var zero T
	msg, err := c.Expect(timeout, msgType)
	if err != nil {
		return zero, err
	}
	typed, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %T for %s", msg, msgType)
	}
	return typed, nil
}
