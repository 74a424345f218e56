package level

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
)

func makeDetails(startSN, count int, start, duration float64, live bool) *Details {
	d := &Details{
		TargetDuration: duration,
		Live:           live,
		StartSN:        startSN,
		EndSN:          startSN + count - 1,
	}
	for i := 0; i < count; i++ {
		d.Fragments = append(d.Fragments, &frag.Fragment{
			Kind:     frag.KindMain,
			SN:       startSN + i,
			Start:    start + float64(i)*duration,
			Duration: duration,
		})
	}
	d.TotalDuration = float64(count) * duration
	return d
}

func TestMerge_InheritsPTSForAlignedFragments(t *testing.T) {
	old := makeDetails(10, 5, 100, 6, true)
	old.Fragments[2].UpdateTiming(112.05, 118.02, 112.0, 118.0)
	old.Fragments[2].Backtracked = true
	old.PTSKnown = true

	// The window slid forward by two fragments; raw starts begin at 0.
	cur := makeDetails(12, 5, 0, 6, true)
	sliding, aligned := Merge(old, cur)

	assert.True(t, aligned)
	assert.True(t, cur.PTSKnown)

	inherited := cur.BySN(12)
	require.NotNil(t, inherited)
	assert.True(t, inherited.HasPTS)
	assert.Equal(t, 112.05, inherited.StartPTS)
	assert.Equal(t, 118.02, inherited.EndPTS)
	assert.True(t, inherited.Backtracked)

	// Sliding equals the first fragment's start on the session timeline.
	assert.Equal(t, cur.Fragments[0].Start, sliding)
	assert.InDelta(t, 112.05, sliding, 1e-9)

	// Contiguity holds for the fragments after the inherited one.
	assert.InDelta(t, inherited.End(), cur.BySN(13).Start, 1e-9)
}

func TestMerge_SlidingWithoutPTS(t *testing.T) {
	old := makeDetails(10, 5, 100, 6, true)
	cur := makeDetails(13, 5, 0, 6, true)

	sliding, aligned := Merge(old, cur)
	assert.True(t, aligned)
	assert.Equal(t, 118.0, sliding)
	assert.Equal(t, 118.0, cur.BySN(13).Start)
	assert.Equal(t, 142.0, cur.BySN(17).Start)
}

func TestMerge_CCMismatchDoesNotInherit(t *testing.T) {
	old := makeDetails(10, 3, 100, 6, true)
	old.Fragments[1].UpdateTiming(106, 112, 106, 112)

	cur := makeDetails(11, 3, 0, 6, true)
	for _, f := range cur.Fragments {
		f.CC = 1 // a discontinuity replaced the overlapping window
	}

	_, aligned := Merge(old, cur)
	assert.False(t, aligned)
	assert.False(t, cur.BySN(11).HasPTS)
}

func TestMerge_NoOverlap(t *testing.T) {
	old := makeDetails(10, 3, 100, 6, true)
	cur := makeDetails(20, 3, 0, 6, true)

	_, aligned := Merge(old, cur)
	assert.False(t, aligned)
	assert.False(t, cur.PTSKnown)
}

func TestLiveSyncPosition(t *testing.T) {
	d := makeDetails(0, 8, 1000, 6, true)
	// 48s window, 18s target latency.
	assert.Equal(t, 1030.0, d.LiveSyncPosition(18))
	// Latency beyond the window floors at the start.
	assert.Equal(t, 1000.0, d.LiveSyncPosition(100))
}

func TestAlignWith_ProgramDateTime(t *testing.T) {
	base := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

	ref := makeDetails(10, 4, 500, 6, true)
	ref.HasProgramDateTime = true
	for i, f := range ref.Fragments {
		f.SetPDT(base.Add(time.Duration(i*6) * time.Second))
	}

	cur := makeDetails(30, 4, 0, 4, true)
	cur.HasProgramDateTime = true
	for i, f := range cur.Fragments {
		f.SetPDT(base.Add(time.Duration(12+i*4) * time.Second))
	}

	cur.AlignWith(ref)
	assert.Equal(t, 512.0, cur.Fragments[0].Start)
	assert.Equal(t, 516.0, cur.Fragments[1].Start)
}

func TestAlignWith_DiscontinuityCounter(t *testing.T) {
	ref := makeDetails(10, 4, 500, 6, true)
	for _, f := range ref.Fragments[2:] {
		f.CC = 1
	}
	ref.StartCC = 0
	ref.EndCC = 1

	cur := makeDetails(30, 3, 0, 6, true)
	for _, f := range cur.Fragments {
		f.CC = 1
	}

	cur.AlignWith(ref)
	assert.Equal(t, 512.0, cur.Fragments[0].Start)
}

func TestStateOnLevelLoaded(t *testing.T) {
	s := NewState(logger.Discard())
	s.SetLevels([]*Level{{Bitrate: 500000}, {Bitrate: 2000000}})

	first := makeDetails(0, 5, 0, 6, true)
	_, err := s.OnLevelLoaded(0, first)
	require.NoError(t, err)
	assert.Equal(t, 0, s.LastLoaded())
	assert.Same(t, first, s.Level(0).Details)

	// A live reload of the same level merges.
	first.Fragments[3].UpdateTiming(18.01, 24.0, 18.0, 24.0)
	second := makeDetails(2, 5, 0, 6, true)
	sliding, err := s.OnLevelLoaded(0, second)
	require.NoError(t, err)
	assert.Equal(t, 12.0, sliding)
	assert.True(t, second.BySN(3).HasPTS)

	_, err = s.OnLevelLoaded(5, makeDetails(0, 1, 0, 6, true))
	assert.Error(t, err)
}
