// Package tracker follows each fragment through its load/append lifecycle
// and answers the scheduler's "is this fetchable" question.
package tracker

import (
	"sync"

	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
)

// State is the lifecycle position of a tracked fragment.
type State int

const (
	NotLoaded State = iota
	Loading
	Partial
	Appending
	OK
)

func (s State) String() string {
	switch s {
	case Loading:
		return "LOADING"
	case Partial:
		return "PARTIAL"
	case Appending:
		return "APPENDING"
	case OK:
		return "OK"
	default:
		return "NOT_LOADED"
	}
}

type entry struct {
	frag  *frag.Fragment
	state State
}

// Tracker keys fragment state by (kind, sn, level). Fragments whose time
// range leaves the buffered set are downgraded rather than deleted, so the
// scheduler can re-select them after eviction.
type Tracker struct {
	mu        sync.RWMutex
	log       logger.Logger
	fragments map[string]*entry
}

// New returns an empty tracker.
func New(log logger.Logger) *Tracker {
	return &Tracker{
		log:       log.With("tracker"),
		fragments: make(map[string]*entry),
	}
}

// State returns the lifecycle state of the fragment; untracked fragments
// report NOT_LOADED.
func (t *Tracker) State(f *frag.Fragment) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.fragments[f.Key()]; ok {
		return e.state
	}
	return NotLoaded
}

// Fetchable is the scheduling gate: only NOT_LOADED and PARTIAL fragments
// may be fetched, plus backtracked fragments regardless of state.
func (t *Tracker) Fetchable(f *frag.Fragment) bool {
	if f.Backtracked {
		return true
	}
	s := t.State(f)
	return s == NotLoaded || s == Partial
}

// MarkLoading records that a load was issued for the fragment.
func (t *Tracker) MarkLoading(f *frag.Fragment) {
	t.set(f, Loading)
}

// MarkAppending records that parsed payloads of the fragment were pushed to
// the buffer sink.
func (t *Tracker) MarkAppending(f *frag.Fragment) {
	t.set(f, Appending)
}

// MarkBuffered settles the fragment after all appends drained: OK when its
// PTS range is fully covered by the buffered set, PARTIAL otherwise.
func (t *Tracker) MarkBuffered(f *frag.Fragment, buffered media.TimeRanges) State {
	state := OK
	if f.HasPTS && !covered(buffered, f.StartPTS, f.EndPTS) {
		state = Partial
	}
	t.set(f, state)
	return state
}

// Remove forgets the fragment entirely.
func (t *Tracker) Remove(f *frag.Fragment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fragments, f.Key())
}

// RemoveAll clears every tracked fragment.
func (t *Tracker) RemoveAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fragments = make(map[string]*entry)
}

// DetectEvicted downgrades to NOT_LOADED any OK fragment of the given kind
// whose [startPTS, endPTS) no longer intersects the buffered set.
func (t *Tracker) DetectEvicted(kind frag.Kind, buffered media.TimeRanges) {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for _, e := range t.fragments {
		if e.frag.Kind != kind || e.state != OK || !e.frag.HasPTS {
			continue
		}
		if !intersects(buffered, e.frag.StartPTS, e.frag.EndPTS) {
			e.state = NotLoaded
			evicted++
		}
	}
	if evicted > 0 {
		t.log.Debugf("Downgraded %d evicted %s fragments to NOT_LOADED", evicted, kind)
	}
}

func (t *Tracker) set(f *frag.Fragment, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.fragments[f.Key()]; ok {
		e.frag = f
		e.state = s
		return
	}
	t.fragments[f.Key()] = &entry{frag: f, state: s}
}

func intersects(buffered media.TimeRanges, start, end float64) bool {
	for _, r := range buffered {
		if start < r.End && end > r.Start {
			return true
		}
	}
	return false
}

// covered reports whether [start, end) sits inside a single buffered range,
// with a small tolerance at each edge for keyframe rounding.
func covered(buffered media.TimeRanges, start, end float64) bool {
	const tolerance = 0.15
	for _, r := range buffered {
		if start >= r.Start-tolerance && end <= r.End+tolerance {
			return true
		}
	}
	return false
}
