package media

import "sync"

// Fake is a deterministic in-memory Element used by tests and the headless
// player binary. Time advances only when the owner calls Advance or
// SetCurrentTime, so scheduling decisions are reproducible.
type Fake struct {
	mu          sync.Mutex
	currentTime float64
	duration    float64
	readyState  int
	seeking     bool
	paused      bool
	buffered    TimeRanges

	onSeeking func()
	onSeeked  func()
	onEnded   func()
}

// NewFake returns a paused element with no buffered data.
func NewFake() *Fake {
	return &Fake{paused: true, readyState: HaveNothing}
}

func (f *Fake) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentTime
}

// SetCurrentTime seeks the element, firing the seeking and seeked hooks.
func (f *Fake) SetCurrentTime(t float64) {
	f.mu.Lock()
	f.currentTime = t
	onSeeking := f.onSeeking
	onSeeked := f.onSeeked
	f.mu.Unlock()

	if onSeeking != nil {
		onSeeking()
	}
	if onSeeked != nil {
		onSeeked()
	}
}

func (f *Fake) ReadyState() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyState
}

// SetReadyState adjusts the simulated decoder readiness.
func (f *Fake) SetReadyState(state int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyState = state
}

func (f *Fake) Seeking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seeking
}

// SetSeeking toggles the seeking flag without moving the playhead.
func (f *Fake) SetSeeking(seeking bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeking = seeking
}

func (f *Fake) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *Fake) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

// SetDuration sets the reported media duration.
func (f *Fake) SetDuration(d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duration = d
}

func (f *Fake) Buffered() TimeRanges {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(TimeRanges, len(f.buffered))
	copy(out, f.buffered)
	return out
}

// SetBuffered replaces the buffered range set.
func (f *Fake) SetBuffered(ranges TimeRanges) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = ranges
}

func (f *Fake) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *Fake) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

// Advance moves playback forward by dt seconds when not paused, firing the
// ended hook if the playhead reaches the duration of a finite stream.
func (f *Fake) Advance(dt float64) {
	f.mu.Lock()
	if f.paused {
		f.mu.Unlock()
		return
	}
	f.currentTime += dt
	ended := f.duration > 0 && f.currentTime >= f.duration
	onEnded := f.onEnded
	f.mu.Unlock()

	if ended && onEnded != nil {
		onEnded()
	}
}

func (f *Fake) OnSeeking(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSeeking = fn
}

func (f *Fake) OnSeeked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSeeked = fn
}

func (f *Fake) OnEnded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}
