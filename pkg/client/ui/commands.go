package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aeolun/ninechess/pkg/chess"
	"github.com/aeolun/ninechess/pkg/protocol"
)

var (
	errQuit = errors.New("quit")
	errHelp = errors.New("help")
)

const helpText = `/register <user> <password> <email>   create an account
/login <user> <password>              log in
/reset <email>                        mail a password reset code
/newpass <email> <code> <password>    set a new password with the code
/queue  /leave                        join or leave the matchmaking queue
/move e2 e4 [piece]  or  e2e4         move, with an optional promotion piece
/resign  /quit`

// parseCommand turns a line of input into a request. A bare move such as
// "e2e4" or "e2 e4" needs no slash.
func parseCommand(line string) (protocol.Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	name := strings.ToLower(fields[0])
	args := fields[1:]
	if !strings.HasPrefix(name, "/") {
		return parseMove(fields)
	}

	switch name {
	case "/register":
		if len(args) != 3 {
			return nil, usage("/register <user> <password> <email>")
		}
		return &protocol.RegisterRequest{Username: args[0], Password: args[1], Email: args[2]}, nil
	case "/login":
		if len(args) != 2 {
			return nil, usage("/login <user> <password>")
		}
		return &protocol.LoginRequest{Username: args[0], Password: args[1]}, nil
	case "/reset":
		if len(args) != 1 {
			return nil, usage("/reset <email>")
		}
		return &protocol.RequestResetRequest{Email: args[0]}, nil
	case "/newpass":
		if len(args) != 3 {
			return nil, usage("/newpass <email> <code> <password>")
		}
		return &protocol.ResetPasswordRequest{Email: args[0], Code: args[1], NewPassword: args[2]}, nil
	case "/queue":
		return &protocol.JoinQueueRequest{}, nil
	case "/leave":
		return &protocol.LeaveQueueRequest{}, nil
	case "/move", "/m":
		return parseMove(args)
	case "/resign":
		return &protocol.ResignRequest{}, nil
	case "/help", "/?":
		return nil, errHelp
	case "/quit", "/q":
		return nil, errQuit
	}
	return nil, fmt.Errorf("unknown command %s, try /help", name)
}

func parseMove(args []string) (protocol.Message, error) {
	// "e2e4" and "e8e9 knight" spell both squares in one word
	if len(args) > 0 && len(args[0]) == 4 {
		args = append([]string{args[0][:2], args[0][2:]}, args[1:]...)
	}
	if len(args) < 2 || len(args) > 3 {
		return nil, usage("/move e2 e4 [piece]")
	}

	from, err := chess.ParseSquare(strings.ToLower(args[0]))
	if err != nil {
		return nil, err
	}
	to, err := chess.ParseSquare(strings.ToLower(args[1]))
	if err != nil {
		return nil, err
	}

	req := &protocol.MoveRequest{From: from.Pair(), To: to.Pair()}
	if len(args) == 3 {
		req.PromotionPiece = strings.ToLower(args[2])
	}
	return req, nil
}

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}
