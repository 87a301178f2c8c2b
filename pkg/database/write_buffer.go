package database

import (
	"sync"
	"time"
)

// maxPendingGames bounds the retry backlog when the database keeps failing.
const maxPendingGames = 1000

// WriteBuffer archives finished games off the request path. Games queued
// during one interval are written in a single transaction.
type WriteBuffer struct {
	db            *DB
	flushInterval time.Duration

	mu    sync.Mutex
	games []*GameRecord

	flushMu   sync.Mutex // serializes flushes from the loop and Flush
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriteBuffer creates a new write buffer with the given flush interval
func NewWriteBuffer(db *DB, flushInterval time.Duration) *WriteBuffer {
	wb := &WriteBuffer{
		db:            db,
		flushInterval: flushInterval,
		games:         make([]*GameRecord, 0, 16),
		shutdown:      make(chan struct{}),
	}

	wb.wg.Add(1)
	go wb.flushLoop()

	return wb
}

// ArchiveGame queues a finished game. It never blocks on the database.
func (wb *WriteBuffer) ArchiveGame(g *GameRecord) {
	wb.mu.Lock()
	wb.games = append(wb.games, g)
	wb.mu.Unlock()
}

// Pending returns the number of queued games.
func (wb *WriteBuffer) Pending() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.games)
}

// Flush writes everything queued so far and reports the first error.
func (wb *WriteBuffer) Flush() error {
	return wb.flush()
}

// Close stops the flush loop after a final flush. Safe to call twice.
func (wb *WriteBuffer) Close() {
	wb.closeOnce.Do(func() {
		close(wb.shutdown)
		wb.wg.Wait()
	})
}

func (wb *WriteBuffer) flushLoop() {
	defer wb.wg.Done()

	ticker := time.NewTicker(wb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = wb.flush()
		case <-wb.shutdown:
			_ = wb.flush()
			return
		}
	}
}

func (wb *WriteBuffer) flush() error {
	wb.flushMu.Lock()
	defer wb.flushMu.Unlock()

	wb.mu.Lock()
	games := wb.games
	wb.games = make([]*GameRecord, 0, 16)
	wb.mu.Unlock()

	if len(games) == 0 {
		return nil
	}

	start := time.Now()
	if err := wb.db.SaveGames(games); err != nil {
		wb.db.log.Errorw("failed to archive games", "count", len(games), "error", err)
		wb.requeue(games)
		return err
	}

	wb.db.log.Debugw("archived games", "count", len(games), "duration", time.Since(start))
	return nil
}

// requeue puts failed games back in front of anything queued meanwhile,
// dropping the oldest beyond maxPendingGames.
func (wb *WriteBuffer) requeue(failed []*GameRecord) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	merged := append(failed, wb.games...)
	if drop := len(merged) - maxPendingGames; drop > 0 {
		wb.db.log.Warnw("dropping unarchived games", "count", drop)
		merged = merged[drop:]
	}
	wb.games = merged
}
