package accounts

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisCodeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisCodeStore(rdb, "test:"), mr
}

func TestCodeStores(t *testing.T) {
	stores := map[string]func(t *testing.T) CodeStore{
		"memory": func(t *testing.T) CodeStore { return NewMemoryCodeStore() },
		"redis": func(t *testing.T) CodeStore {
			s, _ := newRedisStore(t)
			return s
		},
	}

	issued := time.UnixMilli(1_700_000_000_123)

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			_, ok, err := s.Take(ctx, "a@example.com")
			require.NoError(t, err)
			assert.False(t, ok)

			want := ResetCode{Code: "123456", IssuedAt: issued}
			require.NoError(t, s.Put(ctx, "a@example.com", want, time.Hour))
			require.NoError(t, s.Put(ctx, "a@example.com", ResetCode{Code: "654321", IssuedAt: issued}, time.Hour))

			got, ok, err := s.Take(ctx, "a@example.com")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "654321", got.Code)
			assert.True(t, want.IssuedAt.Equal(got.IssuedAt))

			// Taken codes are gone.
			_, ok, err = s.Take(ctx, "a@example.com")
			require.NoError(t, err)
			assert.False(t, ok)

			got.Failures = 2
			require.NoError(t, s.Restore(ctx, "a@example.com", got, time.Hour))
			back, ok, err := s.Take(ctx, "a@example.com")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "654321", back.Code)
			assert.Equal(t, 2, back.Failures)

			// Restore never overwrites a newer code.
			require.NoError(t, s.Put(ctx, "a@example.com", ResetCode{Code: "111111", IssuedAt: issued}, time.Hour))
			require.NoError(t, s.Restore(ctx, "a@example.com", back, time.Hour))
			latest, _, err := s.Take(ctx, "a@example.com")
			require.NoError(t, err)
			assert.Equal(t, "111111", latest.Code)
		})
	}
}

func TestCodeStoreTakeIsExclusive(t *testing.T) {
	stores := map[string]func(t *testing.T) CodeStore{
		"memory": func(t *testing.T) CodeStore { return NewMemoryCodeStore() },
		"redis": func(t *testing.T) CodeStore {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			for round := 0; round < 20; round++ {
				require.NoError(t, s.Put(ctx, "a@example.com", ResetCode{Code: "123456", IssuedAt: time.Now()}, time.Hour))

				var wg sync.WaitGroup
				var winners atomic.Int32
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, ok, err := s.Take(ctx, "a@example.com"); err == nil && ok {
							winners.Add(1)
						}
					}()
				}
				wg.Wait()
				require.Equal(t, int32(1), winners.Load(), "round %d", round)
			}
		})
	}
}

func TestRedisCodeStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Put(ctx, "a@example.com", ResetCode{Code: "123456", IssuedAt: time.Now()}, time.Minute))
	assert.True(t, mr.Exists("test:reset:a@example.com"))
	assert.Equal(t, time.Minute, mr.TTL("test:reset:a@example.com"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := s.Take(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCodeStoreCorruptEntry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, mr.Set("test:reset:a@example.com", "garbage"))
	_, _, err := s.Take(ctx, "a@example.com")
	assert.Error(t, err)
}

func TestDecodeResetCodeWithoutFailureCount(t *testing.T) {
	code, err := decodeResetCode("123456:1700000000123")
	require.NoError(t, err)
	assert.Equal(t, "123456", code.Code)
	assert.Zero(t, code.Failures)
}

func TestElo(t *testing.T) {
	tests := []struct {
		name         string
		white, black int
		score        float64
		wantW, wantB int
	}{
		{"equal, white wins", 1200, 1200, 1, 1216, 1184},
		{"equal, draw", 1200, 1200, 0.5, 1200, 1200},
		{"equal, black wins", 1200, 1200, 0, 1184, 1216},
		{"favourite wins", 1600, 1200, 1, 1603, 1197},
		{"upset", 1200, 1600, 1, 1229, 1571},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, b := Elo(tt.white, tt.black, tt.score)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantB, b)
			assert.Equal(t, tt.white+tt.black, w+b)
		})
	}
}
