// Package accounts implements registration, login, password reset and
// result bookkeeping on top of the database.
package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/aeolun/ninechess/pkg/database"
	"go.uber.org/zap"
)

// Error is a failure reported to the player verbatim.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMissingFields      Error = "Missing fields"
	ErrMissingCredentials Error = "Missing credentials"
	ErrUserExists         Error = "Username already exists"
	ErrInvalidCredentials Error = "Invalid credentials"
	ErrEmailNotFound      Error = "Email not found"
	ErrSendFailed         Error = "Failed to send email"
	ErrInvalidResetCode   Error = "Invalid reset code"
	ErrResetCodeExpired   Error = "Reset code expired"
)

// DefaultResetCodeTTL is how long a reset code stays valid.
const DefaultResetCodeTTL = 10 * time.Minute

// MaxResetFailures is how many wrong guesses discard a pending reset code.
const MaxResetFailures = 5

// Store is the persistence the service needs; *database.DB implements it.
type Store interface {
	CreateAccount(username, email, passwordHash string) (*database.Account, error)
	GetAccount(username string) (*database.Account, error)
	GetAccountByEmail(email string) (*database.Account, error)
	SetPasswordHash(username, passwordHash string) error
	TouchLogin(username string) error
	RecordResult(white, black string, whiteScore float64, rate database.RatingFunc) (*database.Account, *database.Account, error)
}

// Mailer delivers reset codes.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

// Config tunes the service.
type Config struct {
	Pepper       string
	BcryptCost   int           // 0 selects bcrypt.DefaultCost
	ResetCodeTTL time.Duration // 0 selects DefaultResetCodeTTL
}

// Result is a finished game from white's point of view.
type Result int

const (
	WhiteWins Result = iota
	BlackWins
	Draw
)

func (r Result) whiteScore() float64 {
	switch r {
	case WhiteWins:
		return 1
	case BlackWins:
		return 0
	}
	return 0.5
}

// Service is the credential store and email dispatch collaborator.
type Service struct {
	store  Store
	codes  CodeStore
	mailer Mailer
	hasher Hasher
	ttl    time.Duration
	log    *zap.SugaredLogger
	now    func() time.Time
	random io.Reader
}

// NewService wires the service. A nil logger discards output.
func NewService(store Store, codes CodeStore, mailer Mailer, cfg Config, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ttl := cfg.ResetCodeTTL
	if ttl == 0 {
		ttl = DefaultResetCodeTTL
	}
	return &Service{
		store:  store,
		codes:  codes,
		mailer: mailer,
		hasher: NewHasher(cfg.Pepper, cfg.BcryptCost),
		ttl:    ttl,
		log:    log,
		now:    time.Now,
		random: rand.Reader,
	}
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, username, password, email string) error {
	if username == "" || password == "" || email == "" {
		return ErrMissingFields
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := s.store.CreateAccount(username, email, hash); err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return ErrUserExists
		}
		return err
	}

	s.log.Infow("user registered", "user", username)
	return nil
}

// Login verifies credentials and returns the account with current stats.
func (s *Service) Login(ctx context.Context, username, password string) (*database.Account, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	acc, err := s.store.GetAccount(username)
	if errors.Is(err, database.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(acc.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if err := s.store.TouchLogin(username); err != nil {
		s.log.Warnw("failed to record login", "user", username, "error", err)
	}
	return acc, nil
}

// RequestReset issues a fresh code for the account registered with email and
// mails it. A new request replaces any pending code.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	if _, err := s.store.GetAccountByEmail(email); err != nil {
		if errors.Is(err, database.ErrAccountNotFound) {
			return ErrEmailNotFound
		}
		return err
	}

	code, err := s.generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate reset code: %w", err)
	}

	// Keep the entry past expiry so a late attempt reports "expired".
	entry := ResetCode{Code: code, IssuedAt: s.now()}
	if err := s.codes.Put(ctx, email, entry, 2*s.ttl); err != nil {
		return fmt.Errorf("failed to store reset code: %w", err)
	}

	if err := s.mailer.SendCode(ctx, email, code); err != nil {
		s.log.Errorw("failed to send reset email", "email", email, "error", err)
		return ErrSendFailed
	}

	s.log.Infow("reset code sent", "email", email)
	return nil
}

// ResetPassword consumes a valid code and sets the new password. The code
// is taken out of the store before it is compared, so concurrent attempts
// with the right code cannot both succeed. A wrong guess puts it back until
// MaxResetFailures is reached; an expired code is discarded.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	entry, ok, err := s.codes.Take(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidResetCode
	}

	age := s.now().Sub(entry.IssuedAt)
	if age > s.ttl {
		return ErrResetCodeExpired
	}
	if code != entry.Code {
		entry.Failures++
		if entry.Failures >= MaxResetFailures {
			s.log.Warnw("reset code discarded after repeated wrong guesses", "email", email)
			return ErrInvalidResetCode
		}
		s.restoreCode(ctx, email, entry, age)
		return ErrInvalidResetCode
	}
	if newPassword == "" {
		s.restoreCode(ctx, email, entry, age)
		return ErrMissingFields
	}

	acc, err := s.store.GetAccountByEmail(email)
	if err != nil {
		s.restoreCode(ctx, email, entry, age)
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.restoreCode(ctx, email, entry, age)
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.SetPasswordHash(acc.Username, hash); err != nil {
		s.restoreCode(ctx, email, entry, age)
		return err
	}

	s.log.Infow("password reset", "user", acc.Username)
	return nil
}

// RecordGame updates both players' stats and Elo ratings.
func (s *Service) RecordGame(ctx context.Context, white, black string, result Result) (*database.Account, *database.Account, error) {
	return s.store.RecordResult(white, black, result.whiteScore(), Elo)
}

// generateCode returns a uniformly random 6-digit code.
func (s *Service) restoreCode(ctx context.Context, email string, entry ResetCode, age time.Duration) {
	if err := s.codes.Restore(ctx, email, entry, 2*s.ttl-age); err != nil {
		s.log.Warnw("failed to restore reset code", "email", email, "error", err)
	}
}

func (s *Service) generateCode() (string, error) {
	n, err := rand.Int(s.random, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
