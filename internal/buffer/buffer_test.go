package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hlsclient/internal/media"
)

func TestGetBufferInfo_Empty(t *testing.T) {
	info := GetBufferInfo(nil, 5, 0.5)
	assert.Equal(t, 0.0, info.Len)
	assert.Equal(t, 5.0, info.Start)
	assert.Equal(t, 5.0, info.End)
	assert.False(t, info.HasNext)
}

func TestGetBufferInfo_InsideRange(t *testing.T) {
	buffered := media.TimeRanges{{Start: 0, End: 30}}
	info := GetBufferInfo(buffered, 10, 0.5)
	assert.Equal(t, 30.0, info.End)
	assert.Equal(t, 20.0, info.Len)
	assert.Equal(t, 10.0, info.Start)
}

func TestGetBufferInfo_SmallHoleMerged(t *testing.T) {
	buffered := media.TimeRanges{
		{Start: 0, End: 10},
		{Start: 10.3, End: 20},
		{Start: 20.2, End: 25},
	}
	info := GetBufferInfo(buffered, 5, 0.5)
	assert.Equal(t, 25.0, info.End)
	assert.Equal(t, 20.0, info.Len)
	assert.False(t, info.HasNext)
}

func TestGetBufferInfo_LargeHoleStopsMerge(t *testing.T) {
	buffered := media.TimeRanges{
		{Start: 0, End: 10},
		{Start: 15, End: 20},
	}
	info := GetBufferInfo(buffered, 5, 0.5)
	assert.Equal(t, 10.0, info.End)
	assert.Equal(t, 5.0, info.Len)
	assert.True(t, info.HasNext)
	assert.Equal(t, 15.0, info.NextStart)
}

func TestGetBufferInfo_PosJustBeforeRange(t *testing.T) {
	// The range begins within the hole tolerance after pos, so its
	// interior counts as contiguous.
	buffered := media.TimeRanges{{Start: 5.2, End: 12}}
	info := GetBufferInfo(buffered, 5, 0.5)
	assert.Equal(t, 12.0, info.End)
	assert.Equal(t, 7.0, info.Len)
	assert.Equal(t, 5.2, info.Start)
}

func TestGetBufferInfo_PosFarBeforeRange(t *testing.T) {
	buffered := media.TimeRanges{{Start: 8, End: 12}}
	info := GetBufferInfo(buffered, 5, 0.5)
	assert.Equal(t, 0.0, info.Len)
	assert.True(t, info.HasNext)
	assert.Equal(t, 8.0, info.NextStart)
}

func TestGetBufferInfo_PosPastAllRanges(t *testing.T) {
	buffered := media.TimeRanges{{Start: 0, End: 10}}
	info := GetBufferInfo(buffered, 15, 0.5)
	assert.Equal(t, 0.0, info.Len)
	assert.False(t, info.HasNext)
}

func TestIsBuffered(t *testing.T) {
	buffered := media.TimeRanges{{Start: 2, End: 4}, {Start: 6, End: 8}}
	assert.True(t, IsBuffered(buffered, 3))
	assert.True(t, IsBuffered(buffered, 6))
	assert.False(t, IsBuffered(buffered, 4))
	assert.False(t, IsBuffered(buffered, 5))
	assert.False(t, IsBuffered(buffered, 9))
}
