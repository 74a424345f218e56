// Package frag defines the media fragment model and pure lookup helpers.
package frag

import (
	"fmt"
	"time"
)

// Kind identifies the playlist family a fragment belongs to.
type Kind string

const (
	KindMain  Kind = "main"
	KindAudio Kind = "audio"
)

// ElementaryStreams records which elementary streams a parsed fragment
// actually carried.
type ElementaryStreams struct {
	Audio bool
	Video bool
}

// LoadStats captures the timing and byte accounting of a fragment load.
type LoadStats struct {
	TRequest  time.Time
	TFirst    time.Time
	TLoad     time.Time
	TParsed   time.Time
	TBuffered time.Time
	Loaded    int64
	Total     int64
}

// ByteRange is an optional sub-range of the fragment URL.
type ByteRange struct {
	Length int64
	Offset int64
}

// InitSegment holds the codec-init bytes shared by all media fragments of
// a track, fetched once per level.
type InitSegment struct {
	URL       string
	ByteRange *ByteRange
	Data      []byte
	Parsed    bool
}

// Fragment is one fetchable media file of a level playlist. Identity is
// (Level, SN); everything after the playlist attributes is mutated by the
// scheduler as the fragment is loaded, parsed and appended.
type Fragment struct {
	Kind  Kind
	Level int
	SN    int

	Start    float64 // playlist-relative seconds
	Duration float64
	CC       int
	URL      string
	ByteRange *ByteRange

	ProgramDateTime    *time.Time
	EndProgramDateTime *time.Time

	Encrypted bool
	KeyURI    string
	KeyIV     []byte

	// Post-parse attributes.
	HasPTS      bool
	StartPTS    float64
	EndPTS      float64
	StartDTS    float64
	EndDTS      float64
	MaxStartPTS float64
	DeltaPTS    float64 // audio-video gap
	Dropped     int     // video frames dropped before the first keyframe
	Backtracked bool
	Streams     ElementaryStreams
	Stats       LoadStats

	// Bitrate-test loads are thrown away after timing measurement.
	BitrateTest bool
}

// End returns the playlist end time of the fragment.
func (f *Fragment) End() float64 {
	return f.Start + f.Duration
}

// Key returns the tracker identity string for the fragment.
func (f *Fragment) Key() string {
	return fmt.Sprintf("%s_%d_%d", f.Kind, f.SN, f.Level)
}

// SetPDT derives EndProgramDateTime from the fragment duration when a
// program-date-time is known.
func (f *Fragment) SetPDT(pdt time.Time) {
	f.ProgramDateTime = &pdt
	end := pdt.Add(time.Duration(f.Duration * float64(time.Second)))
	f.EndProgramDateTime = &end
}

// UpdateTiming applies parsed PTS/DTS bounds, widening existing bounds when
// the fragment was parsed before (audio then video of the same fragment).
func (f *Fragment) UpdateTiming(startPTS, endPTS, startDTS, endDTS float64) {
	if f.HasPTS {
		if startPTS > f.StartPTS {
			f.MaxStartPTS = startPTS
		}
		if startPTS < f.StartPTS {
			f.StartPTS = startPTS
		}
		if endPTS > f.EndPTS {
			f.EndPTS = endPTS
		}
		if startDTS < f.StartDTS {
			f.StartDTS = startDTS
		}
		if endDTS > f.EndDTS {
			f.EndDTS = endDTS
		}
	} else {
		f.HasPTS = true
		f.StartPTS = startPTS
		f.EndPTS = endPTS
		f.StartDTS = startDTS
		f.EndDTS = endDTS
		f.MaxStartPTS = startPTS
	}
	f.Start = f.StartPTS
	f.Duration = f.EndPTS - f.StartPTS
}
