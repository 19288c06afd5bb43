// Package state holds the Strategy Agent's process-lifetime mutable
// state: per-maker nonce counters, the idempotency cache, daily-volume
// counters with UTC-midnight rollover, and an advisory fill/revert
// ledger (spec.md §4.6). There is no on-disk durability requirement;
// everything here is empty again on restart.
package state

import (
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quoteagent/internal/clock"
	"quoteagent/pkg/types"
)

// idempotencyEntry pairs a cached intent with its expiry so eviction
// can happen lazily, on access.
type idempotencyEntry struct {
	intent types.QuoteIntent
	expiry time.Time
}

// volumeKey identifies one (maker, token) daily-volume counter.
type volumeKey struct {
	maker string
	token string
}

// Store is the process-lifetime state for the agent. All read-modify-
// write sequences described in spec.md §5 are covered by a single
// critical section per table, matching the teacher's mutex-per-table
// discipline (internal/store.Store, internal/risk.Manager).
type Store struct {
	nonceMu sync.Mutex
	nonces  map[string]int64

	idemMu     sync.Mutex
	idem       map[string]idempotencyEntry
	idemFlight singleflight.Group

	volMu     sync.Mutex
	volumes   map[volumeKey]*big.Int
	lastReset time.Time // UTC date of the last rollover, truncated to midnight

	ledgerMu sync.Mutex
	ledger   map[string]types.FillRecord // key: maker|nonce

	clock clock.Clock
}

// New builds an empty store. c is the clock used for idempotency
// expiry and daily-volume rollover; pass clock.System in production and
// a clock.Manual in tests.
func New(c clock.Clock) *Store {
	now := c.Now()
	return &Store{
		nonces:    make(map[string]int64),
		idem:      make(map[string]idempotencyEntry),
		volumes:   make(map[volumeKey]*big.Int),
		ledger:    make(map[string]types.FillRecord),
		lastReset: utcMidnight(now),
		clock:     c,
	}
}

// NextNonce returns the current nonce for maker and post-increments it.
// The read-and-increment happens under one critical section, so
// concurrent callers never observe the same value (spec.md §4.6, §5).
func (s *Store) NextNonce(maker string) int64 {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	n := s.nonces[maker]
	s.nonces[maker] = n + 1
	return n
}

// GetIdempotent returns the cached intent for key, if any and
// unexpired. Expired entries are evicted on access.
func (s *Store) GetIdempotent(key string) (types.QuoteIntent, bool) {
	if key == "" {
		return types.QuoteIntent{}, false
	}
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	entry, ok := s.idem[key]
	if !ok {
		return types.QuoteIntent{}, false
	}
	if !entry.expiry.After(s.clock.Now()) {
		delete(s.idem, key)
		return types.QuoteIntent{}, false
	}
	return entry.intent, true
}

// PutIdempotent caches intent under key until ttl elapses.
func (s *Store) PutIdempotent(key string, intent types.QuoteIntent, ttl time.Duration) {
	if key == "" {
		return
	}
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	s.idem[key] = idempotencyEntry{intent: intent, expiry: s.clock.Now().Add(ttl)}
}

// GetOrSynthesize coalesces concurrent callers sharing the same
// idempotency key: the first caller to arrive runs synth and every
// other concurrent caller for the same key observes that caller's
// result rather than synthesizing independently (spec.md §5's "never
// both synthesize" guarantee), via singleflight.Group.
func (s *Store) GetOrSynthesize(key string, synth func() (types.QuoteIntent, time.Duration, error)) (types.QuoteIntent, error) {
	if key == "" {
		intent, _, err := synth()
		return intent, err
	}
	if cached, ok := s.GetIdempotent(key); ok {
		return cached, nil
	}
	v, err, _ := s.idemFlight.Do(key, func() (interface{}, error) {
		if cached, ok := s.GetIdempotent(key); ok {
			return cached, nil
		}
		intent, ttl, err := synth()
		if err != nil {
			return types.QuoteIntent{}, err
		}
		s.PutIdempotent(key, intent, ttl)
		return intent, nil
	})
	if err != nil {
		return types.QuoteIntent{}, err
	}
	return v.(types.QuoteIntent), nil
}

// Sweep evicts every expired idempotency entry. GetIdempotent already
// evicts lazily on access; Sweep bounds how long an entry whose key is
// never looked up again can occupy memory (config's
// state.sweep_interval drives the background caller in cmd/quoteagent).
func (s *Store) Sweep() {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	now := s.clock.Now()
	for key, entry := range s.idem {
		if !entry.expiry.After(now) {
			delete(s.idem, key)
		}
	}
}

// rollover clears the daily-volume table if the UTC date has advanced
// since the last reset. Must run before any counter read or write in
// the request (spec.md §5).
func (s *Store) rollover() {
	now := utcMidnight(s.clock.Now())
	if now.After(s.lastReset) {
		s.volumes = make(map[volumeKey]*big.Int)
		s.lastReset = now
	}
}

// DailyVolume returns the accumulated base units for (maker, token)
// today (UTC), rolling the table over first if the date has changed.
func (s *Store) DailyVolume(maker, token string) *big.Int {
	s.volMu.Lock()
	defer s.volMu.Unlock()
	s.rollover()
	v, ok := s.volumes[volumeKey{maker: maker, token: token}]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// AddDailyVolume commits amount to (maker, token)'s daily counter,
// rolling over first if needed. The read-current + commit-new sequence
// is atomic per (maker, token) under volMu.
func (s *Store) AddDailyVolume(maker, token string, amount *big.Int) {
	s.volMu.Lock()
	defer s.volMu.Unlock()
	s.rollover()
	key := volumeKey{maker: maker, token: token}
	cur, ok := s.volumes[key]
	if !ok {
		cur = big.NewInt(0)
	}
	s.volumes[key] = new(big.Int).Add(cur, amount)
}

// RecordFill appends an advisory fill/revert record to the ledger. This
// is never consulted by the pipeline (spec.md §4.6).
func (s *Store) RecordFill(rec types.FillRecord) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	s.ledger[ledgerKey(rec.Maker.Hex(), rec.Nonce)] = rec
}

// Fill looks up an advisory fill/revert record by (maker, nonce), used
// only by the diagnostics endpoint.
func (s *Store) Fill(maker string, nonce int64) (types.FillRecord, bool) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	rec, ok := s.ledger[ledgerKey(maker, nonce)]
	return rec, ok
}

func ledgerKey(maker string, nonce int64) string {
	return maker + "|" + big.NewInt(nonce).String()
}

func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
