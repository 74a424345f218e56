// Package buffer computes the buffered region ahead of a playback position.
package buffer

import "hlsclient/internal/media"

// Info describes the contiguous buffered run around a probe position.
// End is the far boundary of the run containing the position (or beginning
// within the hole tolerance after it); Len is the distance from the position
// to End. NextStart is the start of the next buffered range beyond the run,
// when one exists.
type Info struct {
	Start     float64
	End       float64
	Len       float64
	NextStart float64
	HasNext   bool
}

// GetBufferInfo scans the ordered disjoint range set for the run covering
// pos, treating gaps of at most maxHole seconds as contiguous.
func GetBufferInfo(buffered media.TimeRanges, pos, maxHole float64) Info {
	info := Info{Start: pos, End: pos}

	i := 0
	for ; i < len(buffered); i++ {
		r := buffered[i]
		if pos < r.End && pos+maxHole >= r.Start {
			break
		}
		if r.Start > pos {
			// First range entirely ahead of pos and beyond the hole
			// tolerance: playback is stalled in front of it.
			info.NextStart = r.Start
			info.HasNext = true
			return info
		}
	}
	if i == len(buffered) {
		return info
	}

	run := buffered[i]
	info.Start = run.Start
	if run.Start < pos {
		info.Start = pos
	}
	end := run.End

	// Merge forward across successive ranges separated by small holes.
	for j := i + 1; j < len(buffered); j++ {
		next := buffered[j]
		if next.Start-end <= maxHole {
			if next.End > end {
				end = next.End
			}
			continue
		}
		info.NextStart = next.Start
		info.HasNext = true
		break
	}

	info.End = end
	info.Len = end - pos
	if info.Len < 0 {
		info.Len = 0
	}
	return info
}

// IsBuffered reports whether pos falls inside any buffered range.
func IsBuffered(buffered media.TimeRanges, pos float64) bool {
	for _, r := range buffered {
		if pos >= r.Start && pos < r.End {
			return true
		}
	}
	return false
}
