package server

import (
	"errors"
	"time"

	"github.com/aeolun/ninechess/pkg/accounts"
	"github.com/aeolun/ninechess/pkg/chess"
	"github.com/aeolun/ninechess/pkg/protocol"
)

// offBoard stands in for a coordinate that is not a [row, col] pair.
var offBoard = chess.Square{Row: -1, Col: -1}

// handleMessage dispatches a decoded message to its handler. A returned error
// means the reply could not be sent and the connection is done.
func (s *Server) handleMessage(sess *Session, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.LoginRequest:
		return s.handleLogin(sess, m)
	case *protocol.RegisterRequest:
		return s.handleRegister(sess, m)
	case *protocol.RequestResetRequest:
		return s.handleRequestReset(sess, m)
	case *protocol.ResetPasswordRequest:
		return s.handleResetPassword(sess, m)
	case *protocol.JoinQueueRequest:
		return s.handleJoinQueue(sess)
	case *protocol.LeaveQueueRequest:
		return s.handleLeaveQueue(sess)
	case *protocol.MoveRequest:
		return s.handleMove(sess, m)
	case *protocol.ResignRequest:
		return s.handleResign(sess)
	default:
		// Server-to-client types are not requests
		return s.sendError(sess, ErrUnknownType)
	}
}

// handleLogin handles login
func (s *Server) handleLogin(sess *Session, msg *protocol.LoginRequest) error {
	if !sess.authLimiter.Allow() {
		return s.sendMessage(sess, &protocol.LoginResponse{Success: false, Message: ErrTooManyAttempts.Error()})
	}
	if sess.Username() != "" {
		return s.sendMessage(sess, &protocol.LoginResponse{Success: false, Message: ErrAlreadyLoggedIn.Error()})
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	acct, err := s.accounts.Login(ctx, msg.Username, msg.Password)
	if err != nil {
		return s.sendMessage(sess, &protocol.LoginResponse{Success: false, Message: s.clientMessage(sess, err)})
	}

	if err := s.sessions.BindUsername(sess, acct.Username); err != nil {
		return s.sendMessage(sess, &protocol.LoginResponse{Success: false, Message: s.clientMessage(sess, err)})
	}

	s.log.Infow("Player logged in", "session", sess.ID, "user", acct.Username)

	return s.sendMessage(sess, &protocol.LoginResponse{
		Success:  true,
		Username: acct.Username,
		Stats: &protocol.Stats{
			GamesPlayed: acct.GamesPlayed,
			Wins:        acct.Wins,
			Losses:      acct.Losses,
			Draws:       acct.Draws,
			Rating:      acct.Rating,
		},
	})
}

// handleRegister handles register
func (s *Server) handleRegister(sess *Session, msg *protocol.RegisterRequest) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.accounts.Register(ctx, msg.Username, msg.Password, msg.Email); err != nil {
		return s.sendMessage(sess, &protocol.RegisterResponse{Success: false, Message: s.clientMessage(sess, err)})
	}

	s.log.Infow("Account registered", "session", sess.ID, "user", msg.Username)
	return s.sendMessage(sess, &protocol.RegisterResponse{Success: true, Message: "Registration successful"})
}

// handleRequestReset handles request_reset
func (s *Server) handleRequestReset(sess *Session, msg *protocol.RequestResetRequest) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.accounts.RequestReset(ctx, msg.Email); err != nil {
		return s.sendMessage(sess, &protocol.ResetResponse{Success: false, Message: s.clientMessage(sess, err)})
	}
	return s.sendMessage(sess, &protocol.ResetResponse{Success: true, Message: "Reset code sent to email"})
}

// handleResetPassword handles reset_password
func (s *Server) handleResetPassword(sess *Session, msg *protocol.ResetPasswordRequest) error {
	if !sess.authLimiter.Allow() {
		return s.sendMessage(sess, &protocol.ResetPasswordResponse{Success: false, Message: ErrTooManyResets.Error()})
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	if err := s.accounts.ResetPassword(ctx, msg.Email, msg.Code, msg.NewPassword); err != nil {
		return s.sendMessage(sess, &protocol.ResetPasswordResponse{Success: false, Message: s.clientMessage(sess, err)})
	}
	return s.sendMessage(sess, &protocol.ResetPasswordResponse{Success: true, Message: "Password reset successful"})
}

// handleJoinQueue handles join_queue. When the join completes a pair both
// players get game_start before the joiner's queue_response.
func (s *Server) handleJoinQueue(sess *Session) error {
	match, err := s.queue.Join(sess)
	if err != nil {
		return s.sendMessage(sess, &protocol.QueueResponse{Success: false, Message: s.clientMessage(sess, err)})
	}

	s.log.Debugw("Joined queue", "session", sess.ID, "user", sess.Username())
	if match != nil {
		s.deliver(gameStarts(match)...)
	}
	return s.sendMessage(sess, &protocol.QueueResponse{Success: true, Message: "Joined queue"})
}

// handleLeaveQueue handles leave_queue
func (s *Server) handleLeaveQueue(sess *Session) error {
	if s.queue.Leave(sess) {
		s.log.Debugw("Left queue", "session", sess.ID, "user", sess.Username())
	}
	return s.sendMessage(sess, &protocol.QueueResponse{Success: true, Message: "Left queue"})
}

// handleMove handles move. The mover's reply goes out before the opponent's
// notification, and game_end (if any) after both.
func (s *Server) handleMove(sess *Session, msg *protocol.MoveRequest) error {
	match, color, ok := s.activeMatch(sess)
	if !ok {
		return s.sendMessage(sess, &protocol.MoveResponse{Success: false, Message: ErrNoActiveGame.Error()})
	}

	from, ok := chess.SquareFromPair(msg.From)
	if !ok {
		from = offBoard
	}
	to, ok := chess.SquareFromPair(msg.To)
	if !ok {
		to = offBoard
	}

	start := time.Now()
	res, err := match.Game.MakeMove(color, from, to, msg.PromotionPiece)
	if err != nil {
		var moveErr *chess.MoveError
		if !errors.As(err, &moveErr) {
			moveErr = chess.ErrGameOver
		}
		s.metrics.RecordMove(moveErr.Message, 0)
		s.log.Debugw("Move rejected", "game", match.ID, "user", sess.Username(), "from", from, "to", to, "reason", moveErr.Message)
		return s.sendMessage(sess, &protocol.MoveResponse{Success: false, Message: moveErr.Message})
	}
	s.metrics.RecordMove("", time.Since(start).Seconds())

	board := protocol.Board(res.Board.Cells())
	reply := &protocol.MoveResponse{
		Success:    true,
		Board:      board,
		Turn:       res.Turn.String(),
		InCheck:    res.InCheck,
		GameStatus: string(res.Status),
		Captured:   res.Captured.String(),
	}
	if res.Promotion != chess.NoPiece {
		reply.Promotion = res.Promotion.String()
	}

	notices := []outbound{{match.Player(color.Opponent()), &protocol.OpponentMove{
		From:    from.Pair(),
		To:      to.Pair(),
		Board:   board,
		Turn:    res.Turn.String(),
		InCheck: res.InCheck,
	}}}

	if res.Outcome != nil {
		reply.GameOver = true
		reply.Reason = string(res.Status)
		notices = append(notices, s.endMatch(match, *res.Outcome)...)
	}

	err = s.sendMessage(sess, reply)
	s.deliver(notices...)
	return err
}

// handleResign handles resign. Both players get game_end.
func (s *Server) handleResign(sess *Session) error {
	match, color, ok := s.activeMatch(sess)
	if !ok {
		return s.sendError(sess, ErrNoActiveGame)
	}

	outcome, err := match.Game.Resign(color)
	if err != nil {
		return s.sendError(sess, err)
	}

	s.log.Infow("Player resigned", "game", match.ID, "user", sess.Username())
	s.deliver(s.endMatch(match, outcome)...)
	return nil
}

// handleDisconnect runs once per session after its read loop ends. An active
// game is forfeited and the opponent told; the session never joins a game
// afterwards.
func (s *Server) handleDisconnect(sess *Session) {
	if gameID := s.queue.Remove(sess); gameID != "" {
		if match, ok := s.games.Get(gameID); ok {
			if outcome, err := match.Game.Abandon(match.ColorOf(sess)); err == nil {
				s.log.Infow("Player disconnected mid-game", "game", match.ID, "user", sess.Username())
				s.deliver(s.endMatch(match, outcome)...)
			}
		}
	}
	s.sessions.RemoveSession(sess)
}

// activeMatch returns the game sess is playing and its color.
func (s *Server) activeMatch(sess *Session) (*Match, chess.Color, bool) {
	id := sess.GameID()
	if id == "" {
		return nil, chess.NoColor, false
	}
	match, ok := s.games.Get(id)
	if !ok {
		return nil, chess.NoColor, false
	}
	color := match.ColorOf(sess)
	return match, color, color != chess.NoColor
}

// clientMessage turns a handler error into the text sent to the client.
// Unexpected errors are logged and reported generically.
func (s *Server) clientMessage(sess *Session, err error) string {
	var accErr accounts.Error
	if errors.As(err, &accErr) {
		return accErr.Error()
	}
	var srvErr Error
	if errors.As(err, &srvErr) {
		return srvErr.Error()
	}
	var moveErr *chess.MoveError
	if errors.As(err, &moveErr) {
		return moveErr.Message
	}
	s.log.Errorw("Request failed", "session", sess.ID, "error", err)
	return "Internal server error"
}

// sendMessage sends a message to a session
func (s *Server) sendMessage(sess *Session, msg protocol.Message) error {
	s.log.Debugw("SEND", "session", sess.ID, "type", msg.MessageType())
	s.metrics.RecordMessageSent(msg.MessageType())
	return sess.Conn.Send(msg)
}

// sendError sends an error message to a session
func (s *Server) sendError(sess *Session, err error) error {
	return s.sendMessage(sess, &protocol.ErrorMessage{Message: s.clientMessage(sess, err)})
}

// deliver sends notifications to other sessions. A failed send closes that
// connection, which runs the same cleanup as a disconnect.
func (s *Server) deliver(msgs ...outbound) {
	for _, o := range msgs {
		if err := s.sendMessage(o.to, o.msg); err != nil {
			s.log.Warnw("Notification failed, dropping connection", "session", o.to.ID, "type", o.msg.MessageType(), "error", err)
			o.to.Conn.Close()
		}
	}
}
