// Package level holds per-quality-level playlist snapshots and the merge
// logic that reconciles sliding live playlists across reloads.
package level

import (
	"math"

	"hlsclient/internal/frag"
)

// Details is a snapshot of one level's media playlist.
type Details struct {
	Fragments []*frag.Fragment

	StartSN int
	EndSN   int
	StartCC int
	EndCC   int

	TargetDuration     float64
	TotalDuration      float64
	Live               bool
	PTSKnown           bool
	HasProgramDateTime bool

	InitSegment     *frag.InitSegment
	StartTimeOffset *float64
}

// Level is one quality level of the master playlist.
type Level struct {
	URI        string
	Name       string
	Bitrate    int
	Width      int
	Height     int
	AudioCodec string
	VideoCodec string

	Details   *Details
	LoadError int
}

// Start returns the playlist start time (the sliding offset for live).
func (d *Details) Start() float64 {
	if len(d.Fragments) == 0 {
		return 0
	}
	return d.Fragments[0].Start
}

// Edge returns the far end of the playlist.
func (d *Details) Edge() float64 {
	if len(d.Fragments) == 0 {
		return 0
	}
	return d.Fragments[len(d.Fragments)-1].End()
}

// BySN returns the fragment with the given sequence number, or nil.
// SN is contiguous from StartSN to EndSN, so this is a direct index.
func (d *Details) BySN(sn int) *frag.Fragment {
	idx := sn - d.StartSN
	if idx < 0 || idx >= len(d.Fragments) {
		return nil
	}
	return d.Fragments[idx]
}

// LiveSyncPosition returns the playback position that keeps the configured
// latency behind the live edge.
func (d *Details) LiveSyncPosition(liveSync float64) float64 {
	return d.Start() + math.Max(0, d.TotalDuration-liveSync)
}

// Merge reconciles a freshly loaded live playlist with the previous
// snapshot of the same level. Fragments present in both with the same
// (sn, cc) inherit the prior PTS/DTS attributes, backtrack state and load
// stats; the remainder of the new window is slid onto the old timeline.
// Returns the sliding offset and whether any fragment aligned.
func Merge(old, cur *Details) (sliding float64, aligned bool) {
	if old == nil || len(old.Fragments) == 0 || len(cur.Fragments) == 0 {
		return cur.Start(), false
	}

	firstSN := old.StartSN
	if cur.StartSN > firstSN {
		firstSN = cur.StartSN
	}
	lastSN := old.EndSN
	if cur.EndSN < lastSN {
		lastSN = cur.EndSN
	}
	if firstSN > lastSN {
		return cur.Start(), false
	}

	// Shift the whole new window onto the old timeline before inheriting
	// exact per-fragment timing.
	delta := old.BySN(firstSN).Start - cur.BySN(firstSN).Start
	for _, f := range cur.Fragments {
		f.Start += delta
	}

	inherited := false
	for sn := firstSN; sn <= lastSN; sn++ {
		of := old.BySN(sn)
		nf := cur.BySN(sn)
		if of == nil || nf == nil || of.CC != nf.CC {
			continue
		}
		aligned = true
		nf.Backtracked = of.Backtracked
		nf.Stats = of.Stats
		nf.Streams = of.Streams
		nf.Dropped = of.Dropped
		nf.DeltaPTS = of.DeltaPTS
		if of.HasPTS {
			inherited = true
			nf.HasPTS = true
			nf.StartPTS = of.StartPTS
			nf.EndPTS = of.EndPTS
			nf.StartDTS = of.StartDTS
			nf.EndDTS = of.EndDTS
			nf.MaxStartPTS = of.MaxStartPTS
			nf.Start = of.Start
			nf.Duration = of.Duration
		}
	}

	// Re-establish contiguity around fragments that kept PTS-derived
	// bounds: start[i+1] = start[i] + duration[i].
	for i := 1; i < len(cur.Fragments); i++ {
		if !cur.Fragments[i].HasPTS {
			cur.Fragments[i].Start = cur.Fragments[i-1].End()
		}
	}

	cur.PTSKnown = inherited || (aligned && old.PTSKnown)
	return cur.Start(), aligned
}

// AlignWith estimates the sliding of a playlist with no SN overlap against
// a reference level, preferring program-date-time when both carry it and
// falling back to discontinuity-counter alignment.
func (d *Details) AlignWith(ref *Details) {
	if ref == nil || len(ref.Fragments) == 0 || len(d.Fragments) == 0 {
		return
	}

	if d.HasProgramDateTime && ref.HasProgramDateTime {
		refFrag := ref.Fragments[0]
		curFrag := d.Fragments[0]
		if refFrag.ProgramDateTime != nil && curFrag.ProgramDateTime != nil {
			offset := curFrag.ProgramDateTime.Sub(*refFrag.ProgramDateTime).Seconds()
			d.slideTo(refFrag.Start + offset)
			return
		}
	}

	// Align the first fragment of a shared discontinuity range.
	if cc := d.Fragments[0].CC; cc >= ref.StartCC && cc <= ref.EndCC {
		if refFrag := frag.FindWithCC(ref.Fragments, cc); refFrag != nil {
			d.slideTo(refFrag.Start)
		}
	}
}

func (d *Details) slideTo(start float64) {
	delta := start - d.Start()
	if delta == 0 {
		return
	}
	for _, f := range d.Fragments {
		f.Start += delta
	}
}
