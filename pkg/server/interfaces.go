package server

import (
	"context"

	"github.com/aeolun/ninechess/pkg/accounts"
	"github.com/aeolun/ninechess/pkg/database"
)

// AccountService is the credential store and email dispatch the handlers use.
// *accounts.Service implements it; tests substitute fakes.
type AccountService interface {
	Register(ctx context.Context, username, password, email string) error
	Login(ctx context.Context, username, password string) (*database.Account, error)
	RequestReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error

	// RecordGame updates both players' statistics once per finished game.
	RecordGame(ctx context.Context, white, black string, result accounts.Result) (*database.Account, *database.Account, error)
}

// GameArchive persists finished games. *database.WriteBuffer implements it.
type GameArchive interface {
	ArchiveGame(g *database.GameRecord)
}
