package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

type entryKey struct {
	username string
	day      int64
}

// EntryStore is a mutex-guarded solves.EntryStore. Merges are atomic within
// one process only.
type EntryStore struct {
	mu      sync.RWMutex
	daily   map[entryKey]solves.Entry
	fetches []solves.Entry
}

// NewEntryStore constructs an EntryStore.
func NewEntryStore() *EntryStore {
	return &EntryStore{daily: make(map[entryKey]solves.Entry)}
}

// Insert appends a new entry.
func (s *EntryStore) Insert(_ context.Context, entry solves.Entry) (solves.Entry, error) {
	if entry.ID == "" {
		return solves.Entry{}, errors.New("entry id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.fetches {
		if existing.ID == entry.ID {
			return solves.Entry{}, errors.New("entry already exists")
		}
	}
	s.fetches = append(s.fetches, entry.Clone())
	return entry.Clone(), nil
}

// Merge unions entry.Problems into the (username, day) entry.
func (s *EntryStore) Merge(_ context.Context, entry solves.Entry) (solves.Entry, error) {
	key := entryKey{username: entry.Username, day: entry.Day.Unix()}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.daily[key]
	if !ok {
		current = entry.Clone()
		current.Problems = solves.MergeTitles(nil, entry.Problems)
	} else {
		current.Problems = solves.MergeTitles(current.Problems, entry.Problems)
		current.FetchedAt = entry.FetchedAt
	}
	s.daily[key] = current
	return current.Clone(), nil
}

// Find returns upserted and inserted entries for the day, oldest fetch first.
func (s *EntryStore) Find(_ context.Context, username string, day time.Time) ([]solves.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []solves.Entry
	if e, ok := s.daily[entryKey{username: username, day: day.Unix()}]; ok {
		out = append(out, e.Clone())
	}
	for _, e := range s.fetches {
		if e.Username == username && e.Day.Equal(day) {
			out = append(out, e.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b solves.Entry) int {
		return a.FetchedAt.Compare(b.FetchedAt)
	})
	return out, nil
}

// Ping always succeeds.
func (s *EntryStore) Ping(context.Context) error {
	return nil
}
