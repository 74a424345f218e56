package frag

import (
	"math"
	"time"
)

// FindByPTS locates the fragment covering bufferEnd. When prev is the last
// loaded fragment and its successor covers bufferEnd, the successor is
// returned without searching. Returns nil when bufferEnd is at or past the
// end of the list (the caller decides end-of-stream).
func FindByPTS(prev *Fragment, fragments []*Fragment, bufferEnd, tolerance float64) *Fragment {
	if len(fragments) == 0 {
		return nil
	}

	if prev != nil {
		idx := prev.SN + 1 - fragments[0].SN
		if idx >= 0 && idx < len(fragments) {
			next := fragments[idx]
			if next.SN == prev.SN+1 && toleranceTest(next, bufferEnd, tolerance) == 0 {
				return next
			}
		}
	}

	if bufferEnd < fragments[0].Start {
		return fragments[0]
	}

	lo, hi := 0, len(fragments)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch toleranceTest(fragments[mid], bufferEnd, tolerance) {
		case 0:
			return fragments[mid]
		case -1:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return nil
}

// toleranceTest reports where bufferEnd sits relative to the fragment:
// 0 when the fragment covers it, 1 when the fragment ends before it,
// -1 when the fragment starts after it. The tolerance is clamped to half
// the fragment duration so tiny fragments still match exactly once.
func toleranceTest(f *Fragment, bufferEnd, tolerance float64) int {
	c := math.Min(tolerance, f.Duration/2)
	if f.Start+f.Duration-c <= bufferEnd {
		return 1
	}
	if f.Start-c > bufferEnd {
		return -1
	}
	return 0
}

// FindByPDT returns the fragment whose program-date-time window contains
// pdt, or the nearest fragment within tolerance seconds, or nil.
func FindByPDT(fragments []*Fragment, pdt time.Time, tolerance float64) *Fragment {
	var nearest *Fragment
	nearestDist := math.Inf(1)

	for _, f := range fragments {
		if f.ProgramDateTime == nil || f.EndProgramDateTime == nil {
			continue
		}
		if !pdt.Before(*f.ProgramDateTime) && pdt.Before(*f.EndProgramDateTime) {
			return f
		}
		dist := math.Min(
			math.Abs(pdt.Sub(*f.ProgramDateTime).Seconds()),
			math.Abs(pdt.Sub(*f.EndProgramDateTime).Seconds()),
		)
		if dist < nearestDist {
			nearestDist = dist
			nearest = f
		}
	}

	if nearest != nil && nearestDist <= tolerance {
		return nearest
	}
	return nil
}

// FindWithCC binary-searches for any fragment carrying the given
// discontinuity counter. CC is non-decreasing within a level, which makes
// the search well defined.
func FindWithCC(fragments []*Fragment, cc int) *Fragment {
	lo, hi := 0, len(fragments)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case fragments[mid].CC == cc:
			return fragments[mid]
		case fragments[mid].CC < cc:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return nil
}
