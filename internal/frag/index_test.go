package frag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeFragments(startSN, count int, start, duration float64) []*Fragment {
	fragments := make([]*Fragment, 0, count)
	for i := 0; i < count; i++ {
		fragments = append(fragments, &Fragment{
			Kind:     KindMain,
			SN:       startSN + i,
			Start:    start + float64(i)*duration,
			Duration: duration,
		})
	}
	return fragments
}

func TestFindByPTS_EmptyList(t *testing.T) {
	assert.Nil(t, FindByPTS(nil, nil, 10, 0.25))
}

func TestFindByPTS_CoveringFragment(t *testing.T) {
	fragments := makeFragments(0, 10, 0, 4)
	f := FindByPTS(nil, fragments, 13, 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 3, f.SN)
}

func TestFindByPTS_BeforeFirstReturnsFirst(t *testing.T) {
	fragments := makeFragments(5, 4, 100, 4)
	f := FindByPTS(nil, fragments, 3, 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 5, f.SN)
}

func TestFindByPTS_PastEndReturnsNil(t *testing.T) {
	fragments := makeFragments(0, 3, 0, 4)
	assert.Nil(t, FindByPTS(nil, fragments, 12, 0.25))
	assert.Nil(t, FindByPTS(nil, fragments, 11.9, 0.25))
}

func TestFindByPTS_ToleranceAtBoundary(t *testing.T) {
	fragments := makeFragments(0, 3, 0, 4)
	// 3.9 is within tolerance of fragment 1's start.
	f := FindByPTS(nil, fragments, 3.9, 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 1, f.SN)
}

func TestFindByPTS_ToleranceClampedToHalfDuration(t *testing.T) {
	fragments := makeFragments(0, 4, 0, 0.3)
	// With a 0.25s tolerance on 0.3s fragments, the clamp to duration/2
	// keeps each probe matching exactly one fragment.
	f := FindByPTS(nil, fragments, 0.3, 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 1, f.SN)
}

func TestFindByPTS_PrevHotPath(t *testing.T) {
	fragments := makeFragments(0, 10, 0, 4)
	prev := fragments[3]
	f := FindByPTS(prev, fragments, 16.1, 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 4, f.SN)
}

func TestFindByPTS_PrevHotPathMiss(t *testing.T) {
	fragments := makeFragments(0, 10, 0, 4)
	prev := fragments[3]
	// Buffer end far past prev+1: binary search takes over.
	f := FindByPTS(prev, fragments, 33, 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 8, f.SN)
}

func TestFindByPDT(t *testing.T) {
	base := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	fragments := makeFragments(0, 5, 0, 6)
	for i, f := range fragments {
		f.SetPDT(base.Add(time.Duration(i*6) * time.Second))
	}

	f := FindByPDT(fragments, base.Add(13*time.Second), 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 2, f.SN)

	// Just before the window but within tolerance.
	f = FindByPDT(fragments, base.Add(-100*time.Millisecond), 0.25)
	require.NotNil(t, f)
	assert.Equal(t, 0, f.SN)

	// Far outside any window.
	assert.Nil(t, FindByPDT(fragments, base.Add(time.Hour), 0.25))
}

func TestFindByPDT_NoTimestamps(t *testing.T) {
	fragments := makeFragments(0, 3, 0, 6)
	assert.Nil(t, FindByPDT(fragments, time.Now(), 0.25))
}

func TestFindWithCC(t *testing.T) {
	fragments := makeFragments(0, 6, 0, 4)
	fragments[0].CC = 0
	fragments[1].CC = 0
	fragments[2].CC = 1
	fragments[3].CC = 1
	fragments[4].CC = 2
	fragments[5].CC = 2

	f := FindWithCC(fragments, 1)
	require.NotNil(t, f)
	assert.Equal(t, 1, f.CC)

	assert.Nil(t, FindWithCC(fragments, 7))
	assert.Nil(t, FindWithCC(nil, 0))
}
