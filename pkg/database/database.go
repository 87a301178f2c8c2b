package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrAccountNotFound indicates no account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrGameNotFound indicates the game id is not archived.
	ErrGameNotFound = errors.New("game not found")
)

// DefaultRating is the rating of a new account.
const DefaultRating = 1200

// DB wraps the SQLite database connection
type DB struct {
	conn        *sql.DB // Read connection pool
	writeConn   *sql.DB // Dedicated write connection (1 connection)
	log         *zap.SugaredLogger
	WriteBuffer *WriteBuffer
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
}

func configure(conn *sql.DB) error {
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Open opens the SQLite database at path, applies pending migrations and
// starts the archive write buffer. A nil logger discards output.
func Open(path string, log *zap.SugaredLogger) (*DB, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := configure(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	// SQLite allows one writer; funnel all writes through a single connection
	// so they queue in Go instead of failing with SQLITE_BUSY.
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := configure(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	if err := newMigrator(writeConn, migrationFiles, log).migrate(path); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		log:       log,
	}
	db.WriteBuffer = NewWriteBuffer(db, 100*time.Millisecond)

	return db, nil
}

// Close flushes pending archive writes and closes both connections.
func (db *DB) Close() error {
	db.WriteBuffer.Close()
	db.writeConn.Close()
	return db.conn.Close()
}

// Account is a registered player with running statistics.
type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	GamesPlayed  int
	Wins         int
	Losses       int
	Draws        int
	Rating       int
	CreatedAt    int64  // Unix timestamp in milliseconds
	LastLogin    *int64 // Unix timestamp in milliseconds
}

const accountColumns = `id, username, email, password_hash, games_played, wins, losses, draws, rating, created_at, last_login`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var lastLogin sql.NullInt64
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash,
		&a.GamesPlayed, &a.Wins, &a.Losses, &a.Draws, &a.Rating,
		&a.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		a.LastLogin = &lastLogin.Int64
	}
	return &a, nil
}

// CreateAccount inserts a new account with zeroed statistics.
func (db *DB) CreateAccount(username, email, passwordHash string) (*Account, error) {
	now := nowMillis()
	res, err := db.writeConn.Exec(`
		INSERT INTO Account (username, email, password_hash, rating, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, username, email, passwordHash, DefaultRating, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Rating:       DefaultRating,
		CreatedAt:    now,
	}, nil
}

// GetAccount looks an account up by username.
func (db *DB) GetAccount(username string) (*Account, error) {
	row := db.conn.QueryRow(`SELECT `+accountColumns+` FROM Account WHERE username = ?`, username)
	return scanAccount(row)
}

// GetAccountByEmail returns the oldest account registered with email.
func (db *DB) GetAccountByEmail(email string) (*Account, error) {
	row := db.conn.QueryRow(`SELECT `+accountColumns+` FROM Account WHERE email = ? ORDER BY id LIMIT 1`, email)
	return scanAccount(row)
}

// SetPasswordHash replaces the stored hash for username.
func (db *DB) SetPasswordHash(username, passwordHash string) error {
	res, err := db.writeConn.Exec(`UPDATE Account SET password_hash = ? WHERE username = ?`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(res)
}

// TouchLogin records a successful login.
func (db *DB) TouchLogin(username string) error {
	res, err := db.writeConn.Exec(`UPDATE Account SET last_login = ? WHERE username = ?`, nowMillis(), username)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// RatingFunc computes new ratings from the current ones and white's score
// (1 win, 0.5 draw, 0 loss).
type RatingFunc func(white, black int, whiteScore float64) (newWhite, newBlack int)

// RecordResult updates both players' statistics and ratings in one
// transaction and returns the updated accounts.
func (db *DB) RecordResult(white, black string, whiteScore float64, rate RatingFunc) (*Account, *Account, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var whiteRating, blackRating int
	if err := tx.QueryRow(`SELECT rating FROM Account WHERE username = ?`, white).Scan(&whiteRating); err != nil {
		return nil, nil, accountErr(white, err)
	}
	if err := tx.QueryRow(`SELECT rating FROM Account WHERE username = ?`, black).Scan(&blackRating); err != nil {
		return nil, nil, accountErr(black, err)
	}

	newWhite, newBlack := rate(whiteRating, blackRating, whiteScore)

	update := `
		UPDATE Account SET
			games_played = games_played + 1,
			wins = wins + ?,
			losses = losses + ?,
			draws = draws + ?,
			rating = ?
		WHERE username = ?`

	w, l, d := tally(whiteScore)
	if _, err := tx.Exec(update, w, l, d, newWhite, white); err != nil {
		return nil, nil, fmt.Errorf("failed to update %s: %w", white, err)
	}
	w, l, d = tally(1 - whiteScore)
	if _, err := tx.Exec(update, w, l, d, newBlack, black); err != nil {
		return nil, nil, fmt.Errorf("failed to update %s: %w", black, err)
	}

	whiteAcc, err := scanAccount(tx.QueryRow(`SELECT `+accountColumns+` FROM Account WHERE username = ?`, white))
	if err != nil {
		return nil, nil, err
	}
	blackAcc, err := scanAccount(tx.QueryRow(`SELECT `+accountColumns+` FROM Account WHERE username = ?`, black))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return whiteAcc, blackAcc, nil
}

func tally(score float64) (win, loss, draw int) {
	switch {
	case score >= 1:
		return 1, 0, 0
	case score <= 0:
		return 0, 1, 0
	}
	return 0, 0, 1
}

func accountErr(username string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", username, ErrAccountNotFound)
	}
	return err
}

// GameRecord is an archived, finished game.
type GameRecord struct {
	ID        string
	White     string
	Black     string
	Winner    string // "white", "black" or "draw"
	Reason    string
	StartedAt int64 // Unix timestamp in milliseconds
	EndedAt   int64 // Unix timestamp in milliseconds
	Moves     []MoveRecord
}

// MoveRecord is one ply of an archived game. Squares use algebraic notation.
type MoveRecord struct {
	Ply       int
	Color     string
	From      string
	To        string
	Piece     string
	Captured  *string
	Promotion *string
	PlayedAt  int64
}

// SaveGames archives finished games and their moves in one transaction.
func (db *DB) SaveGames(games []*GameRecord) error {
	if len(games) == 0 {
		return nil
	}

	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	gameStmt, err := tx.Prepare(`
		INSERT INTO Game (id, white, black, winner, reason, move_count, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare game insert: %w", err)
	}
	defer gameStmt.Close()

	moveStmt, err := tx.Prepare(`
		INSERT INTO Move (game_id, ply, color, from_square, to_square, piece, captured, promotion, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare move insert: %w", err)
	}
	defer moveStmt.Close()

	for _, g := range games {
		if _, err := gameStmt.Exec(g.ID, g.White, g.Black, g.Winner, g.Reason, len(g.Moves), g.StartedAt, g.EndedAt); err != nil {
			return fmt.Errorf("failed to insert game %s: %w", g.ID, err)
		}
		for _, m := range g.Moves {
			if _, err := moveStmt.Exec(g.ID, m.Ply, m.Color, m.From, m.To, m.Piece, m.Captured, m.Promotion, m.PlayedAt); err != nil {
				return fmt.Errorf("failed to insert move %d of game %s: %w", m.Ply, g.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetGame loads an archived game with its moves in ply order.
func (db *DB) GetGame(id string) (*GameRecord, error) {
	var g GameRecord
	var moveCount int
	err := db.conn.QueryRow(`
		SELECT id, white, black, winner, reason, move_count, started_at, ended_at
		FROM Game WHERE id = ?
	`, id).Scan(&g.ID, &g.White, &g.Black, &g.Winner, &g.Reason, &moveCount, &g.StartedAt, &g.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`
		SELECT ply, color, from_square, to_square, piece, captured, promotion, played_at
		FROM Move WHERE game_id = ? ORDER BY ply
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g.Moves = make([]MoveRecord, 0, moveCount)
	for rows.Next() {
		var m MoveRecord
		var captured, promotion sql.NullString
		if err := rows.Scan(&m.Ply, &m.Color, &m.From, &m.To, &m.Piece, &captured, &promotion, &m.PlayedAt); err != nil {
			return nil, err
		}
		if captured.Valid {
			m.Captured = &captured.String
		}
		if promotion.Valid {
			m.Promotion = &promotion.String
		}
		g.Moves = append(g.Moves, m)
	}
	return &g, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
