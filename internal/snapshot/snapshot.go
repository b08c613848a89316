// Package snapshot persists compressed, HMAC-sealed tournament state to
// Redis for crash recovery. A blob whose seal does not verify is never
// decompressed or decoded.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "tournament:snapshot:"

// Snapshots are retained for a week, the same horizon as scheduler state.
const retention = 7 * 24 * time.Hour

var (
	ErrNotFound     = errors.New("snapshot not found")
	ErrSealMismatch = errors.New("snapshot seal does not verify")
)

// Meta describes a stored snapshot.
type Meta struct {
	Checksum string    `json:"checksum"`
	Status   string    `json:"status"`
	TakenAt  time.Time `json:"taken_at"`
}

// Manager stores and loads sealed snapshots.
type Manager struct {
	rdb redis.UniversalClient
	key []byte
	log zerolog.Logger
}

// NewManager creates a snapshot manager sealing with the given secret.
func NewManager(rdb redis.UniversalClient, secret []byte, log zerolog.Logger) *Manager {
	return &Manager{
		rdb: rdb,
		key: secret,
		log: log.With().Str("component", "snapshot").Logger(),
	}
}

func latestKey(tid string) string        { return keyPrefix + tid + ":latest" }
func metaKey(tid string) string          { return keyPrefix + tid + ":latest:meta" }
func handKey(tid, tableID string) string { return keyPrefix + tid + ":hand:" + tableID }

// SaveFull compresses, seals and stores the serialized tournament state.
// status travels in the metadata so recovery can skip terminal snapshots
// without opening the blob.
func (m *Manager) SaveFull(ctx context.Context, tid string, state []byte, status string) error {
	blob, err := compress(state)
	if err != nil {
		return err
	}
	meta := Meta{
		Checksum: m.seal(blob),
		Status:   status,
		TakenAt:  time.Now().UTC(),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, latestKey(tid), blob, retention)
	pipe.Set(ctx, metaKey(tid), rawMeta, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", tid, err)
	}
	m.log.Debug().Str("tournament_id", tid).Str("status", status).Int("bytes", len(blob)).Msg("snapshot saved")
	return nil
}

// LoadFull returns the decompressed state after verifying the seal.
func (m *Manager) LoadFull(ctx context.Context, tid string) ([]byte, Meta, error) {
	blob, err := m.rdb.Get(ctx, latestKey(tid)).Bytes()
	if err == redis.Nil {
		return nil, Meta{}, ErrNotFound
	}
	if err != nil {
		return nil, Meta{}, err
	}
	rawMeta, err := m.rdb.Get(ctx, metaKey(tid)).Bytes()
	if err == redis.Nil {
		return nil, Meta{}, ErrNotFound
	}
	if err != nil {
		return nil, Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, Meta{}, fmt.Errorf("decode snapshot meta for %s: %w", tid, err)
	}
	if !hmac.Equal([]byte(meta.Checksum), []byte(m.seal(blob))) {
		m.log.Error().Str("tournament_id", tid).Msg("snapshot seal mismatch")
		return nil, Meta{}, ErrSealMismatch
	}
	state, err := decompress(blob)
	if err != nil {
		return nil, Meta{}, err
	}
	return state, meta, nil
}

// Delete removes the full snapshot and its metadata.
func (m *Manager) Delete(ctx context.Context, tid string) error {
	return m.rdb.Del(ctx, latestKey(tid), metaKey(tid)).Err()
}

// SaveHand stores a sealed in-flight hand blob for one table.
func (m *Manager) SaveHand(ctx context.Context, tid, tableID string, blob []byte) error {
	compressed, err := compress(blob)
	if err != nil {
		return err
	}
	sealed := m.seal(compressed) + ":" + hex.EncodeToString(compressed)
	return m.rdb.Set(ctx, handKey(tid, tableID), sealed, retention).Err()
}

// LoadHand returns the hand blob after verifying its seal.
func (m *Manager) LoadHand(ctx context.Context, tid, tableID string) ([]byte, error) {
	raw, err := m.rdb.Get(ctx, handKey(tid, tableID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sep := strings.IndexByte(raw, ':')
	if sep < 0 {
		return nil, ErrSealMismatch
	}
	compressed, err := hex.DecodeString(raw[sep+1:])
	if err != nil {
		return nil, ErrSealMismatch
	}
	if !hmac.Equal([]byte(raw[:sep]), []byte(m.seal(compressed))) {
		return nil, ErrSealMismatch
	}
	return decompress(compressed)
}

// DeleteHand removes a table's hand snapshot, typically on hand completion.
func (m *Manager) DeleteHand(ctx context.Context, tid, tableID string) error {
	return m.rdb.Del(ctx, handKey(tid, tableID)).Err()
}

// ListTournamentIDs scans for tournaments with a stored full snapshot.
func (m *Manager) ListTournamentIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, keyPrefix+"*:latest", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			id := strings.TrimSuffix(strings.TrimPrefix(k, keyPrefix), ":latest")
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

func (m *Manager) seal(blob []byte) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write(blob)
	return hex.EncodeToString(mac.Sum(nil))
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
