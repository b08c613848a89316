// Package integrity anchors chip conservation checks. A sealed snapshot of
// every stack is taken at hand start; on completion the final stacks must
// sum to the same total minus rake. Violations alert, they never block the
// hand (defense in depth, not an authoritative gate).
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cardroomlabs/cardroom/internal/events"
)

// ChipSnapshot seals per-seat stacks at the start of a hand.
type ChipSnapshot struct {
	TableID    string      `json:"table_id"`
	HandNumber int         `json:"hand_number"`
	Stacks     map[int]int `json:"stacks"`
	Total      int         `json:"total"`
	Hash       string      `json:"hash"`
}

// Result reports the outcome of a hand-completion validation.
type Result struct {
	TotalBefore int  `json:"total_before"`
	TotalAfter  int  `json:"total_after"`
	Discrepancy int  `json:"discrepancy"`
	Valid       bool `json:"valid"`
}

// Service keeps one live snapshot per table, overwritten at each hand start.
type Service struct {
	mu         sync.Mutex
	key        []byte
	snaps      map[string]ChipSnapshot
	log        zerolog.Logger
	violations prometheus.Counter
}

// NewService creates a service sealing snapshots with the given secret.
// violations may be nil.
func NewService(secret []byte, log zerolog.Logger, violations prometheus.Counter) *Service {
	return &Service{
		key:        secret,
		snaps:      make(map[string]ChipSnapshot),
		log:        log.With().Str("component", "chip_integrity").Logger(),
		violations: violations,
	}
}

// CaptureHandStart seals the current stacks for the table, replacing any
// earlier snapshot.
func (s *Service) CaptureHandStart(tableID string, handNumber int, stacks map[int]int) ChipSnapshot {
	total := 0
	cp := make(map[int]int, len(stacks))
	for seat, stack := range stacks {
		cp[seat] = stack
		total += stack
	}
	snap := ChipSnapshot{
		TableID:    tableID,
		HandNumber: handNumber,
		Stacks:     cp,
		Total:      total,
	}
	snap.Hash = s.seal(snap)

	s.mu.Lock()
	s.snaps[tableID] = snap
	s.mu.Unlock()
	return snap
}

// ValidateHandCompletion checks conservation against the sealed snapshot.
// The snapshot is consumed regardless of outcome. The returned error is a
// DomainError with code NO_SNAPSHOT, HASH_MISMATCH or CONSERVATION_VIOLATION.
func (s *Service) ValidateHandCompletion(tableID string, finalStacks map[int]int, rakeCollected int) (Result, error) {
	s.mu.Lock()
	snap, ok := s.snaps[tableID]
	delete(s.snaps, tableID)
	s.mu.Unlock()

	if !ok {
		return Result{}, events.Errorf(events.CodeNoSnapshot, "no chip snapshot for table %s", tableID)
	}
	if !hmac.Equal([]byte(snap.Hash), []byte(s.seal(snap))) {
		s.alert(tableID, snap.HandNumber, "snapshot hash mismatch")
		return Result{}, events.Errorf(events.CodeHashMismatch, "chip snapshot for table %s failed verification", tableID)
	}

	totalAfter := 0
	for _, stack := range finalStacks {
		totalAfter += stack
	}
	expected := snap.Total - rakeCollected
	discrepancy := expected - totalAfter
	if discrepancy < 0 {
		discrepancy = -discrepancy
	}
	res := Result{
		TotalBefore: snap.Total,
		TotalAfter:  totalAfter,
		Discrepancy: discrepancy,
		Valid:       discrepancy == 0,
	}
	if !res.Valid {
		s.alert(tableID, snap.HandNumber, fmt.Sprintf("chips off by %d", discrepancy))
		return res, events.Errorf(events.CodeConservation,
			"table %s hand %d: expected %d chips, found %d", tableID, snap.HandNumber, expected, totalAfter)
	}
	return res, nil
}

func (s *Service) alert(tableID string, handNumber int, reason string) {
	if s.violations != nil {
		s.violations.Inc()
	}
	s.log.Error().
		Str("table_id", tableID).
		Int("hand_number", handNumber).
		Str("reason", reason).
		Msg("chip integrity violation")
}

// seal computes the HMAC over a canonical rendering of the snapshot fields.
// Seats are serialized in ascending order so the digest is stable.
func (s *Service) seal(snap ChipSnapshot) string {
	seats := make([]int, 0, len(snap.Stacks))
	for seat := range snap.Stacks {
		seats = append(seats, seat)
	}
	sort.Ints(seats)

	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s|%d|", snap.TableID, snap.HandNumber)
	for _, seat := range seats {
		fmt.Fprintf(mac, "%d:%d,", seat, snap.Stacks[seat])
	}
	fmt.Fprintf(mac, "|%d", snap.Total)
	return hex.EncodeToString(mac.Sum(nil))
}
