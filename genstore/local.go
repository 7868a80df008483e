package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps generations in-process (default).
// An optional cleanup loop prunes entries not bumped within retention;
// a pruned key reads as 0 again, which only matters for payloads older than
// retention, and those are gone from any sane provider by then.
type LocalGenStore struct {
	mu     sync.RWMutex
	gens   map[string]localGenEntry
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]localGenEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.loop(retention)
	}
	return s
}

func (s *LocalGenStore) loop(retention time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Cleanup(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.Gen, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.bumpLocked(k, now)
	s.mu.Unlock()
	return e.Gen, nil
}

// BumpMany takes the write lock once for all keys.
func (s *LocalGenStore) BumpMany(_ context.Context, ks []string) error {
	now := time.Now()
	s.mu.Lock()
	for _, k := range ks {
		s.bumpLocked(k, now)
	}
	s.mu.Unlock()
	return nil
}

func (s *LocalGenStore) bumpLocked(k string, now time.Time) localGenEntry {
	e := s.gens[k]
	e.Gen++
	e.UpdatedAt = now
	s.gens[k] = e
	return e
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.gens {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

// Close stops the cleanup loop. Safe to call more than once.
func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
