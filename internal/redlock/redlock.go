// Package redlock provides Redis-backed hierarchical locks with owner
// tokens. Release and renew are Lua-atomic so only the owner can touch a
// held lock; multi-lock acquisition is totally ordered by key to rule out
// deadlocks across processes.
package redlock

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
)

const (
	DefaultTTL            = 10 * time.Second
	DefaultRetryInterval  = 50 * time.Millisecond
	DefaultAcquireTimeout = 5 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Key builders for the lock hierarchy.
func TournamentKey(id string) string     { return "lock:tournament:" + id }
func TablesKey(id string) string         { return "lock:tournament:" + id + ":tables" }
func TableKey(id, tableID string) string { return "lock:tournament:" + id + ":table:" + tableID }
func PlayerKey(id, userID string) string { return "lock:tournament:" + id + ":player:" + userID }
func RankingKey(id string) string        { return "lock:tournament:" + id + ":ranking" }
func BlindKey(id string) string          { return "lock:tournament:" + id + ":blind" }

// Manager acquires and releases locks against one Redis instance.
type Manager struct {
	rdb            redis.UniversalClient
	ttl            time.Duration
	retryInterval  time.Duration
	acquireTimeout time.Duration
	log            zerolog.Logger
	timeouts       prometheus.Counter
}

// Option tunes a Manager.
type Option func(*Manager)

func WithTTL(ttl time.Duration) Option { return func(m *Manager) { m.ttl = ttl } }
func WithRetryInterval(d time.Duration) Option { return func(m *Manager) { m.retryInterval = d } }
func WithAcquireTimeout(d time.Duration) Option { return func(m *Manager) { m.acquireTimeout = d } }
func WithTimeoutCounter(c prometheus.Counter) Option { return func(m *Manager) { m.timeouts = c } }

// NewManager creates a lock manager with the default timings.
func NewManager(rdb redis.UniversalClient, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		rdb:            rdb,
		ttl:            DefaultTTL,
		retryInterval:  DefaultRetryInterval,
		acquireTimeout: DefaultAcquireTimeout,
		log:            log.With().Str("component", "redlock").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock is a held lock. Release exactly once.
type Lock struct {
	m     *Manager
	Key   string
	Token string
}

// TryAcquire attempts a single SET NX PX, returning (nil, false, nil) when
// the lock is held elsewhere.
func (m *Manager) TryAcquire(ctx context.Context, key string) (*Lock, bool, error) {
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{m: m, Key: key, Token: token}, true, nil
}

// Acquire retries at the configured interval until the lock is held or the
// acquire timeout elapses, then fails with LOCK_TIMEOUT.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lock, error) {
	deadline := time.Now().Add(m.acquireTimeout)
	for {
		lock, ok, err := m.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return lock, nil
		}
		if time.Now().After(deadline) {
			if m.timeouts != nil {
				m.timeouts.Inc()
			}
			m.log.Warn().Str("key", key).Dur("timeout", m.acquireTimeout).Msg("lock acquire timed out")
			return nil, events.Errorf(events.CodeLockTimeout, "could not acquire %s within %s", key, m.acquireTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryInterval):
		}
	}
}

// Release deletes the lock if this owner still holds it. Releasing a lock
// held by someone else (or already expired) fails with LOCK_NOT_HELD and
// leaves the other owner's lock intact.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.m.rdb, []string{l.Key}, l.Token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return events.Errorf(events.CodeLockNotHeld, "lock %s not held by this owner", l.Key)
	}
	return nil
}

// Renew extends the TTL while the owner still holds the lock. Call at
// roughly TTL/3 intervals during long operations.
func (l *Lock) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.m.rdb, []string{l.Key}, l.Token, l.m.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return events.Errorf(events.CodeLockNotHeld, "lock %s not held by this owner", l.Key)
	}
	return nil
}

// MultiLock is a set of locks acquired in sorted key order.
type MultiLock struct {
	locks []*Lock
}

// AcquireMulti takes every key in ascending order, releasing everything on
// the first failure.
func (m *Manager) AcquireMulti(ctx context.Context, keys ...string) (*MultiLock, error) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	ml := &MultiLock{}
	for _, key := range sorted {
		lock, err := m.Acquire(ctx, key)
		if err != nil {
			ml.Release(ctx)
			return nil, err
		}
		ml.locks = append(ml.locks, lock)
	}
	return ml, nil
}

// Release frees the locks in reverse acquisition order.
func (ml *MultiLock) Release(ctx context.Context) {
	for i := len(ml.locks) - 1; i >= 0; i-- {
		if err := ml.locks[i].Release(ctx); err != nil {
			ml.locks[i].m.log.Debug().Err(err).Str("key", ml.locks[i].Key).Msg("multi-lock release")
		}
	}
	ml.locks = nil
}
