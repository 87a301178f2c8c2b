package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/ninechess/pkg/chess"
	"github.com/aeolun/ninechess/pkg/client"
	"github.com/aeolun/ninechess/pkg/protocol"
)

var promotionChoices = []string{"queen", "rook", "bishop", "knight"}

// Stats tracks performance metrics
type Stats struct {
	gamesFinished     atomic.Int64
	movesPlayed       atomic.Int64
	movesRejected     atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64

	// Detailed failure tracking
	timeouts       atomic.Int64
	disconnections atomic.Int64
	resignations   atomic.Int64
}

func (s *Stats) recordMove(responseTimeUs int64) {
	s.movesPlayed.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordError(err error) {
	switch {
	case errors.Is(err, client.ErrTimeout):
		s.timeouts.Add(1)
	case errors.Is(err, client.ErrClosed):
		s.disconnections.Add(1)
	default:
		s.connectionErrors.Add(1)
	}
}

func (s *Stats) snapshot() (games, moves, rejected int64, avgResponseUs float64) {
	games = s.gamesFinished.Load()
	moves = s.movesPlayed.Load()
	rejected = s.movesRejected.Load()

	if moves > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(moves)
	}

	return
}

// BotClient plays random legal moves
type BotClient struct {
	id       int
	username string
	password string
	conn     *client.Connection
	stats    *Stats
	rng      *rand.Rand
}

func NewBotClient(id int, run, serverAddr string, stats *Stats) (*BotClient, error) {
	conn, err := client.NewConnection(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return &BotClient{
		id:       id,
		username: fmt.Sprintf("bot-%s-%d", run, id),
		password: uuid.NewString(),
		conn:     conn,
		stats:    stats,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}, nil
}

// Connect performs the handshake and creates the bot's account
func (bc *BotClient) Connect() error {
	if err := bc.conn.Connect(); err != nil {
		return err
	}

	reg, err := bc.conn.Register(bc.username, bc.password, bc.username+"@loadtest.invalid")
	if err != nil {
		return err
	}
	if !reg.Success {
		return fmt.Errorf("register rejected: %s", reg.Message)
	}

	login, err := bc.conn.Login(bc.username, bc.password)
	if err != nil {
		return err
	}
	if !login.Success {
		return fmt.Errorf("login rejected: %s", login.Message)
	}
	return nil
}

// PlayGame queues, plays one game to the end and returns.
func (bc *BotClient) PlayGame(maxPlies int, moveDelay time.Duration) error {
	resp, err := bc.conn.JoinQueue()
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("join queue rejected: %s", resp.Message)
	}

	start, err := bc.conn.WaitGameStart(2 * time.Minute)
	if err != nil {
		return err
	}
	color, err := chess.ParseColor(start.Color)
	if err != nil {
		return err
	}

	board := start.Board
	myTurn := color == chess.White

	for ply := 0; ; ply++ {
		if !myTurn {
			msg, err := bc.conn.Expect(client.DefaultTimeout*3, protocol.TypeOpponentMove, protocol.TypeGameEnd)
			if err != nil {
				return err
			}
			if _, done := msg.(*protocol.GameEnd); done {
				bc.stats.gamesFinished.Add(1)
				return nil
			}
			om := msg.(*protocol.OpponentMove)
			board = om.Board
			myTurn = om.Turn == start.Color
			continue
		}

		if ply >= maxPlies {
			bc.stats.resignations.Add(1)
			if _, err := bc.conn.Resign(); err != nil {
				return err
			}
			bc.stats.gamesFinished.Add(1)
			return nil
		}

		if moveDelay > 0 {
			time.Sleep(time.Duration(bc.rng.Int63n(int64(moveDelay))))
		}

		move, err := bc.pickMove(board, color)
		if err != nil {
			return err
		}

		sent := time.Now()
		reply, err := bc.conn.Move(move.From.Pair(), move.To.Pair(), promotionChoices[bc.rng.Intn(len(promotionChoices))])
		if err != nil {
			return err
		}

		if !reply.Success {
			// The opponent may have resigned while we were thinking
			bc.stats.movesRejected.Add(1)
			if _, err := bc.conn.WaitGameEnd(client.DefaultTimeout); err != nil {
				return fmt.Errorf("move rejected: %s", reply.Message)
			}
			bc.stats.gamesFinished.Add(1)
			return nil
		}
		bc.stats.recordMove(time.Since(sent).Microseconds())

		if reply.GameOver {
			if _, err := bc.conn.WaitGameEnd(client.DefaultTimeout); err != nil {
				return err
			}
			bc.stats.gamesFinished.Add(1)
			return nil
		}

		board = reply.Board
		myTurn = false
	}
}

func (bc *BotClient) pickMove(cells protocol.Board, color chess.Color) (chess.Move, error) {
	board, err := chess.ParseBoard(cells)
	if err != nil {
		return chess.Move{}, fmt.Errorf("server sent a bad board: %w", err)
	}
	moves := board.LegalMoves(color)
	if len(moves) == 0 {
		return chess.Move{}, errors.New("no legal moves but the game is still running")
	}
	return moves[bc.rng.Intn(len(moves))], nil
}

func (bc *BotClient) Run(deadline time.Time, maxPlies int, moveDelay time.Duration, stop <-chan struct{}) {
	defer bc.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bot %d] PANIC: %v", bc.id, r)
		}
	}()

	for time.Now().Before(deadline) {
		select {
		case <-stop:
			return
		default:
		}

		if err := bc.PlayGame(maxPlies, moveDelay); err != nil {
			bc.stats.recordError(err)
			if bc.id%100 == 0 {
				log.Printf("[Bot %d] %v", bc.id, err)
			}
			if !bc.conn.IsConnected() {
				return
			}
		}
	}
}

func main() {
	// Command-line flags
	serverAddr := flag.String("server", "localhost:5555", "Server address (host:port or ws://host:port)")
	numPairs := flag.Int("pairs", 5, "Number of concurrent bot pairs")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	maxPlies := flag.Int("max-plies", 200, "Resign after this many own moves")
	moveDelay := flag.Duration("move-delay", 50*time.Millisecond, "Maximum random think time per move")
	flag.Parse()

	numClients := *numPairs * 2
	run := uuid.NewString()[:8]

	// Calculate stagger delay: ramp up over 10% of test duration
	rampUpDuration := *duration / 10
	staggerDelay := rampUpDuration / time.Duration(numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Bots: %d (%d pairs)", numClients, *numPairs)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per bot)", rampUpDuration, staggerDelay)
	log.Printf("  Max plies per bot: %d", *maxPlies)
	log.Printf("")

	stats := &Stats{}
	var wg sync.WaitGroup
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	// Start stats reporter
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				games, moves, rejected, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d games, %d moves (%.1f/s), %d rejected, avg %.2fms",
					games, moves, float64(moves)/elapsed, rejected, avgUs/1000.0)
			case <-stop:
				return
			}
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Printf("Shutdown signal received, stopping test...")
			stopAll()
		case <-stop:
		}
	}()

	deadline := time.Now().Add(*duration)
	started := time.Now()

	// Spawn bots
	for i := 0; i < numClients; i++ {
		bot, err := NewBotClient(i, run, *serverAddr, stats)
		if err != nil {
			log.Fatalf("Invalid server address: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := bot.Connect(); err != nil {
				stats.connectionErrors.Add(1)
				log.Printf("[Bot %d] connect failed: %v", bot.id, err)
				return
			}

			// Only log every 100th bot during ramp-up
			if bot.id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", bot.id, bot.username)
			}

			bot.Run(deadline, *maxPlies, *moveDelay, stop)
		}()

		time.Sleep(staggerDelay)
	}

	// Wait for all bots to finish
	wg.Wait()
	stopAll()

	// Final stats
	games, moves, rejected, avgUs := stats.snapshot()
	elapsed := time.Since(started)

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", elapsed.Round(time.Second))
	log.Printf("Games finished: %d (%d ended by resignation)", games, stats.resignations.Load())
	log.Printf("Moves played: %d (%.1f/s)", moves, float64(moves)/elapsed.Seconds())
	log.Printf("Moves rejected: %d", rejected)
	log.Printf("Timeouts: %d", stats.timeouts.Load())
	log.Printf("Disconnections: %d", stats.disconnections.Load())
	log.Printf("Other errors: %d", stats.connectionErrors.Load())
	log.Printf("Average move round trip: %.2fms", avgUs/1000.0)
}
