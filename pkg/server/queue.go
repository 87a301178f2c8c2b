package server

import "sync"

// PairFunc creates a game for two players taken from the queue. It runs with
// the queue lock held; waiting sessions are never closed or in a game.
type PairFunc func(white, black *Session) *Match

// Queue is the FIFO matchmaking queue.
type Queue struct {
	mu      sync.Mutex
	waiting []*Session
	pair    PairFunc
	metrics *Metrics
}

// NewQueue creates a queue that hands pairs to pair.
func NewQueue(pair PairFunc) *Queue {
	return &Queue{pair: pair}
}

// SetMetrics attaches metrics to the queue
func (q *Queue) SetMetrics(metrics *Metrics) {
	q.metrics = metrics
}

// Join enqueues sess unless it is already waiting. When two players are
// waiting the oldest is paired as white with the next as black, and the new
// game is returned.
func (q *Queue) Join(sess *Session) (*Match, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sess.mu.Lock()
	username, inGame, closed := sess.username, sess.gameID != "", sess.closed
	sess.mu.Unlock()

	switch {
	case username == "":
		return nil, ErrNotLoggedIn
	case inGame:
		return nil, ErrAlreadyInGame
	case closed:
		return nil, nil
	}

	if q.indexOf(sess) < 0 {
		q.waiting = append(q.waiting, sess)
	}

	var m *Match
	if len(q.waiting) >= 2 {
		white, black := q.waiting[0], q.waiting[1]
		q.waiting = q.waiting[2:]
		m = q.pair(white, black)
	}

	q.recordDepth()
	return m, nil
}

// Leave removes sess from the queue. It is a no-op if sess is not waiting.
func (q *Queue) Leave(sess *Session) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(sess)
	if i < 0 {
		return false
	}
	q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
	q.recordDepth()
	return true
}

// Remove is Leave for a disconnecting session. It marks the session closed
// under the queue lock, so after it returns sess is either in a game already
// or will never be paired. It returns the session's game id, if any.
func (q *Queue) Remove(sess *Session) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexOf(sess); i >= 0 {
		q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
		q.recordDepth()
	}
	return sess.markClosed()
}

// Len returns the number of waiting players
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Contains reports whether sess is waiting
func (q *Queue) Contains(sess *Session) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(sess) >= 0
}

func (q *Queue) indexOf(sess *Session) int {
	for i, s := range q.waiting {
		if s == sess {
			return i
		}
	}
	return -1
}

func (q *Queue) recordDepth() {
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(len(q.waiting))
	}
}
