// Package sink is the buffer-append collaborator: it owns the single
// writer to the media buffers and mirrors what a Media Source integration
// would do, tracking appended time ranges per elementary stream.
package sink

import (
	"sync"

	"hlsclient/internal/events"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
)

// RangesFunc receives the updated range set of one buffer ("audio" or
// "video") after every append or flush.
type RangesFunc func(contentType string, ranges media.TimeRanges)

// Sink consumes BUFFER_* events from the bus and answers them.
type Sink struct {
	log logger.Logger
	bus *events.Bus

	mu       sync.Mutex
	tracks   map[string]events.Track
	ranges   map[string]media.TimeRanges
	ended    bool
	onUpdate RangesFunc
}

// New creates a sink and subscribes it to the bus. onUpdate may be nil.
func New(bus *events.Bus, log logger.Logger, onUpdate RangesFunc) *Sink {
	s := &Sink{
		log:      log.With("sink"),
		bus:      bus,
		tracks:   make(map[string]events.Track),
		ranges:   make(map[string]media.TimeRanges),
		onUpdate: onUpdate,
	}
	bus.On(s.handle,
		events.BufferCodecs,
		events.BufferAppending,
		events.BufferFlushing,
		events.BufferEOS,
		events.BufferReset,
	)
	return s
}

// Ranges returns the appended ranges of one buffer.
func (s *Sink) Ranges(contentType string) media.TimeRanges {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(media.TimeRanges, len(s.ranges[contentType]))
	copy(out, s.ranges[contentType])
	return out
}

// Ended reports whether end-of-stream was signalled.
func (s *Sink) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Sink) handle(e events.Event) {
	switch e.Type {
	case events.BufferCodecs:
		s.mu.Lock()
		for id, t := range e.Tracks {
			s.tracks[id] = t
		}
		tracks := make(map[string]events.Track, len(s.tracks))
		for id, t := range s.tracks {
			tracks[id] = t
		}
		s.mu.Unlock()
		s.bus.Emit(events.Event{Type: events.BufferCreated, Tracks: tracks})

	case events.BufferAppending:
		s.append(e)

	case events.BufferFlushing:
		s.flush(e)

	case events.BufferEOS:
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		s.log.Infof("End of stream signalled")

	case events.BufferReset:
		s.mu.Lock()
		s.tracks = make(map[string]events.Track)
		s.ranges = make(map[string]media.TimeRanges)
		s.ended = false
		s.mu.Unlock()
	}
}

func (s *Sink) append(e events.Event) {
	var updated media.TimeRanges
	if e.Content == "data" && e.Frag != nil && e.Frag.HasPTS {
		s.mu.Lock()
		s.ranges[e.ContentType] = merge(s.ranges[e.ContentType], media.TimeRange{
			Start: e.Frag.StartPTS,
			End:   e.Frag.EndPTS,
		})
		updated = append(media.TimeRanges(nil), s.ranges[e.ContentType]...)
		s.mu.Unlock()
	}

	if updated != nil && s.onUpdate != nil {
		s.onUpdate(e.ContentType, updated)
	}
	s.bus.Emit(events.Event{
		Type:        events.BufferAppended,
		Parent:      e.Parent,
		ContentType: e.ContentType,
		Frag:        e.Frag,
	})
}

func (s *Sink) flush(e events.Event) {
	s.mu.Lock()
	types := []string{"audio", "video"}
	if e.ContentType != "" {
		types = []string{e.ContentType}
	}
	for _, ct := range types {
		s.ranges[ct] = remove(s.ranges[ct], e.StartOffset, e.EndOffset)
		if s.onUpdate != nil {
			updated := append(media.TimeRanges(nil), s.ranges[ct]...)
			s.mu.Unlock()
			s.onUpdate(ct, updated)
			s.mu.Lock()
		}
	}
	s.ended = false
	s.mu.Unlock()

	s.log.Debugf("Flushed [%.3f, %.3f) of %v", e.StartOffset, e.EndOffset, types)
	s.bus.Emit(events.Event{Type: events.BufferFlushed, ContentType: e.ContentType})
}

// merge inserts r into an ordered disjoint range set, coalescing touching
// neighbours.
func merge(ranges media.TimeRanges, r media.TimeRange) media.TimeRanges {
	if r.End <= r.Start {
		return ranges
	}
	var out media.TimeRanges
	inserted := false
	for _, cur := range ranges {
		switch {
		case cur.End < r.Start:
			out = append(out, cur)
		case r.End < cur.Start:
			if !inserted {
				out = append(out, r)
				inserted = true
			}
			out = append(out, cur)
		default:
			if cur.Start < r.Start {
				r.Start = cur.Start
			}
			if cur.End > r.End {
				r.End = cur.End
			}
		}
	}
	if !inserted {
		out = append(out, r)
	}
	return out
}

// remove subtracts [start, end) from the range set.
func remove(ranges media.TimeRanges, start, end float64) media.TimeRanges {
	if end <= start {
		return ranges
	}
	var out media.TimeRanges
	for _, cur := range ranges {
		if cur.End <= start || cur.Start >= end {
			out = append(out, cur)
			continue
		}
		if cur.Start < start {
			out = append(out, media.TimeRange{Start: cur.Start, End: start})
		}
		if cur.End > end {
			out = append(out, media.TimeRange{Start: end, End: cur.End})
		}
	}
	return out
}
