// Package urlsource hands out playlist entries in an endless cycle.
//
// A cycle is one pass over every entry of the playlist. Shuffling, when
// enabled, reorders each cycle independently so the rotation never settles
// into a fixed pattern. Entries can be skipped for the remainder of the
// current cycle; skips reset at the cycle boundary.
package urlsource

import (
	"math/rand/v2"
	"sync"

	"github.com/xkilldash9x/marquee/internal/urlfile"
	"go.uber.org/zap"
)

// Source is the infinite URL iterator driving the visit loop.
type Source struct {
	mu      sync.Mutex
	entries []urlfile.Entry
	order   []int
	pos     int
	cycles  uint64
	shuffle bool
	skipped map[string]struct{}
	pending []urlfile.Entry
	rng     *rand.Rand
	logger  *zap.Logger
	onCycle func(completed uint64)
}

// New builds a Source over the given entries. The entry list must not be
// empty; the loop refuses to start without at least one URL.
func New(entries []urlfile.Entry, shuffle bool, logger *zap.Logger) (*Source, error) {
	if len(entries) == 0 {
		return nil, urlfile.ErrNoURLs
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Source{
		entries: append([]urlfile.Entry(nil), entries...),
		order:   make([]int, len(entries)),
		shuffle: shuffle,
		skipped: make(map[string]struct{}),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:  logger.Named("urlsource"),
	}
	for i := range s.order {
		s.order[i] = i
	}
	if s.shuffle {
		s.shuffleOrder()
	}
	return s, nil
}

// OnCycle registers a hook invoked once per completed cycle with the number
// of cycles finished so far. The hook runs with the source locked and must
// not call back into the Source. Set it before the loop starts.
func (s *Source) OnCycle(fn func(completed uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCycle = fn
}

// Next returns the next entry of the rotation, rolling over into a fresh
// cycle whenever the current one is exhausted. It never blocks and never
// runs out.
func (s *Source) Next() urlfile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.pos >= len(s.order) {
			s.rollCycle()
		}
		e := s.entries[s.order[s.pos]]
		s.pos++
		if _, skip := s.skipped[e.URL]; skip {
			continue
		}
		return e
	}
}

// Skip excludes a URL from the remainder of the current cycle. The skip is
// cleared at the next cycle boundary, giving the URL a fresh chance.
func (s *Source) Skip(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[url] = struct{}{}
}

// Reload stages a replacement playlist. The swap happens at the next cycle
// boundary so an in-flight cycle still sees a consistent list.
func (s *Source) Reload(entries []urlfile.Entry) error {
	if len(entries) == 0 {
		return urlfile.ErrNoURLs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]urlfile.Entry(nil), entries...)
	s.logger.Info("playlist replacement staged for next cycle",
		zap.Int("urls", len(entries)))
	return nil
}

// ByCategory returns the entries of the current playlist matching the given
// category. An empty name returns the whole playlist.
func (s *Source) ByCategory(name string) []urlfile.Entry {
	return urlfile.Filter(s.Entries(), name)
}

// Entries returns a copy of the current playlist.
func (s *Source) Entries() []urlfile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]urlfile.Entry(nil), s.entries...)
}

// Len reports the current playlist length.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cycles reports how many full cycles have completed.
func (s *Source) Cycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// rollCycle closes out the finished cycle and prepares the next one: apply a
// staged reload, clear skips, reshuffle, and fire the cycle hook.
// Caller must hold s.mu.
func (s *Source) rollCycle() {
	if s.pending != nil {
		s.entries = s.pending
		s.pending = nil
		s.order = make([]int, len(s.entries))
		for i := range s.order {
			s.order[i] = i
		}
		s.logger.Info("playlist reloaded", zap.Int("urls", len(s.entries)))
	}

	s.cycles++
	if len(s.skipped) > 0 {
		s.skipped = make(map[string]struct{})
	}
	if s.shuffle {
		s.shuffleOrder()
	}
	s.pos = 0

	if s.onCycle != nil {
		s.onCycle(s.cycles)
	}
}

// shuffleOrder permutes the visit order in place. Caller must hold s.mu.
func (s *Source) shuffleOrder() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
}
