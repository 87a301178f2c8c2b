package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ResetCode is an issued password reset code.
type ResetCode struct {
	Code     string
	IssuedAt time.Time
	Failures int // wrong guesses so far
}

func (c ResetCode) encode() string {
	return c.Code + ":" + strconv.FormatInt(c.IssuedAt.UnixMilli(), 10) + ":" + strconv.Itoa(c.Failures)
}

func decodeResetCode(s string) (ResetCode, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return ResetCode{}, fmt.Errorf("malformed reset code entry %q", s)
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ResetCode{}, fmt.Errorf("malformed reset code timestamp: %w", err)
	}
	code := ResetCode{Code: parts[0], IssuedAt: time.UnixMilli(issued)}
	if len(parts) == 3 {
		if code.Failures, err = strconv.Atoi(parts[2]); err != nil {
			return ResetCode{}, fmt.Errorf("malformed reset code failure count: %w", err)
		}
	}
	return code, nil
}

// CodeStore keeps at most one pending reset code per email. Entries may be
// retained past the code lifetime; the service decides expiry from IssuedAt.
//
// Take removes and returns the entry in one step, so of two concurrent
// callers only one can see a given code. Restore puts an entry back unless
// a newer one was issued in the meantime.
type CodeStore interface {
	Put(ctx context.Context, email string, code ResetCode, ttl time.Duration) error
	Take(ctx context.Context, email string) (ResetCode, bool, error)
	Restore(ctx context.Context, email string, code ResetCode, ttl time.Duration) error
}

// MemoryCodeStore keeps codes in process memory.
type MemoryCodeStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryCodeStore creates an in-memory store that sweeps expired entries
// every minute.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (s *MemoryCodeStore) Put(_ context.Context, email string, code ResetCode, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(email, code.encode(), ttl)
	return nil
}

func (s *MemoryCodeStore) Take(_ context.Context, email string) (ResetCode, bool, error) {
	s.mu.Lock()
	v, ok := s.cache.Get(email)
	if ok {
		s.cache.Delete(email)
	}
	s.mu.Unlock()

	if !ok {
		return ResetCode{}, false, nil
	}
	code, err := decodeResetCode(v.(string))
	if err != nil {
		return ResetCode{}, false, err
	}
	return code, true, nil
}

func (s *MemoryCodeStore) Restore(_ context.Context, email string, code ResetCode, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Add fails when a newer code is already stored, which is what we want.
	_ = s.cache.Add(email, code.encode(), ttl)
	return nil
}

// RedisCodeStore shares codes between server processes.
type RedisCodeStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCodeStore stores codes under "<prefix>reset:<email>".
func NewRedisCodeStore(rdb *redis.Client, prefix string) *RedisCodeStore {
	return &RedisCodeStore{rdb: rdb, prefix: prefix}
}

func (s *RedisCodeStore) key(email string) string {
	return s.prefix + "reset:" + email
}

func (s *RedisCodeStore) Put(ctx context.Context, email string, code ResetCode, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(email), code.encode(), ttl).Err()
}

func (s *RedisCodeStore) Take(ctx context.Context, email string) (ResetCode, bool, error) {
	raw, err := s.rdb.GetDel(ctx, s.key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return ResetCode{}, false, nil
	}
	if err != nil {
		return ResetCode{}, false, err
	}
	code, err := decodeResetCode(raw)
	if err != nil {
		return ResetCode{}, false, err
	}
	return code, true, nil
}

func (s *RedisCodeStore) Restore(ctx context.Context, email string, code ResetCode, ttl time.Duration) error {
	return s.rdb.SetNX(ctx, s.key(email), code.encode(), ttl).Err()
}
