package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsclient/internal/events"
	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
)

func appendEvent(sn int, startPTS, endPTS float64) events.Event {
	return events.Event{
		Type:        events.BufferAppending,
		ContentType: "video",
		Parent:      frag.KindMain,
		Content:     "data",
		Data:        []byte("payload"),
		Frag: &frag.Fragment{
			Kind: frag.KindMain, SN: sn,
			HasPTS: true, StartPTS: startPTS, EndPTS: endPTS,
		},
	}
}

func TestSink_AppendTracksRangesAndAnswers(t *testing.T) {
	bus := events.NewBus()
	var appended []events.Event
	bus.On(func(e events.Event) { appended = append(appended, e) }, events.BufferAppended)

	var updates int
	s := New(bus, logger.Discard(), func(contentType string, ranges media.TimeRanges) {
		updates++
	})

	bus.Emit(appendEvent(0, 0, 4))
	bus.Emit(appendEvent(1, 4, 8))

	require.Len(t, appended, 2)
	assert.Equal(t, frag.KindMain, appended[0].Parent)
	assert.Equal(t, 2, updates)

	ranges := s.Ranges("video")
	require.Len(t, ranges, 1)
	assert.Equal(t, 0.0, ranges[0].Start)
	assert.Equal(t, 8.0, ranges[0].End)
}

func TestSink_InitSegmentAppendChangesNoRanges(t *testing.T) {
	bus := events.NewBus()
	s := New(bus, logger.Discard(), nil)

	bus.Emit(events.Event{
		Type:        events.BufferAppending,
		ContentType: "video",
		Parent:      frag.KindMain,
		Content:     "initSegment",
		Data:        []byte("init"),
	})

	assert.Empty(t, s.Ranges("video"))
}

func TestSink_FlushWindow(t *testing.T) {
	bus := events.NewBus()
	var flushed int
	bus.On(func(e events.Event) { flushed++ }, events.BufferFlushed)

	s := New(bus, logger.Discard(), nil)
	bus.Emit(appendEvent(0, 0, 4))
	bus.Emit(appendEvent(1, 4, 8))
	bus.Emit(appendEvent(2, 8, 12))

	bus.Emit(events.Event{Type: events.BufferFlushing, StartOffset: 6, EndOffset: 12})

	assert.Equal(t, 1, flushed)
	ranges := s.Ranges("video")
	require.Len(t, ranges, 1)
	assert.Equal(t, 0.0, ranges[0].Start)
	assert.Equal(t, 6.0, ranges[0].End)
}

func TestSink_CodecsAnnouncement(t *testing.T) {
	bus := events.NewBus()
	var created []events.Event
	bus.On(func(e events.Event) { created = append(created, e) }, events.BufferCreated)

	New(bus, logger.Discard(), nil)
	bus.Emit(events.Event{Type: events.BufferCodecs, Tracks: map[string]events.Track{
		"video": {ID: "video", Container: "video/mp4", Codec: "avc1.4d401f"},
	}})

	require.Len(t, created, 1)
	assert.Contains(t, created[0].Tracks, "video")
}

func TestSink_EOSAndReset(t *testing.T) {
	bus := events.NewBus()
	s := New(bus, logger.Discard(), nil)

	bus.Emit(appendEvent(0, 0, 4))
	bus.Emit(events.Event{Type: events.BufferEOS})
	assert.True(t, s.Ended())

	bus.Emit(events.Event{Type: events.BufferReset})
	assert.False(t, s.Ended())
	assert.Empty(t, s.Ranges("video"))
}
