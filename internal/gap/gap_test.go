package gap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hlsclient/internal/config"
	"hlsclient/internal/events"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
)

func newController(t *testing.T) (*Controller, *media.Fake, *[]events.ErrorDetail) {
	t.Helper()
	cfg := config.Default()
	bus := events.NewBus()
	m := media.NewFake()
	m.SetReadyState(media.HaveEnoughData)
	m.Play()

	var seen []events.ErrorDetail
	bus.On(func(e events.Event) {
		if e.Err != nil {
			seen = append(seen, e.Err.Details)
		}
	}, events.Error)

	return New(cfg, m, bus, logger.Discard()), m, &seen
}

func TestPoll_MovingPlayheadIsNotStalled(t *testing.T) {
	c, m, seen := newController(t)
	now := time.Now()

	m.SetCurrentTime(1.0)
	c.Poll(now)
	m.SetCurrentTime(1.1)
	c.Poll(now.Add(time.Second))
	c.Poll(now.Add(2 * time.Second))

	assert.Empty(t, *seen)
}

func TestPoll_PausedIsNotStalled(t *testing.T) {
	c, m, seen := newController(t)
	m.Pause()
	now := time.Now()

	c.Poll(now)
	c.Poll(now.Add(time.Second))
	c.Poll(now.Add(2 * time.Second))

	assert.Empty(t, *seen)
}

func TestPoll_NudgeInsideBufferedData(t *testing.T) {
	c, m, seen := newController(t)
	m.SetCurrentTime(5)
	m.SetBuffered(media.TimeRanges{{Start: 0, End: 30}})
	now := time.Now()

	c.Poll(now)                          // records position
	c.Poll(now.Add(time.Millisecond))    // arms the stall clock
	c.Poll(now.Add(500 * time.Millisecond))

	assert.Contains(t, *seen, events.ErrBufferNudgeOnStall)
	assert.InDelta(t, 5.1, m.CurrentTime(), 1e-9)
}

func TestPoll_SkipHole(t *testing.T) {
	c, m, seen := newController(t)
	m.SetCurrentTime(9.999)
	m.SetBuffered(media.TimeRanges{{Start: 0, End: 10}, {Start: 12, End: 20}})
	now := time.Now()

	c.Poll(now)
	c.Poll(now.Add(time.Millisecond))
	c.Poll(now.Add(500 * time.Millisecond))

	assert.Contains(t, *seen, events.ErrBufferSeekOverHole)
	assert.InDelta(t, 12.005, m.CurrentTime(), 1e-9)
}

func TestPoll_FatalAfterMaxNudges(t *testing.T) {
	c, m, seen := newController(t)
	m.SetBuffered(media.TimeRanges{{Start: 0, End: 30}})
	m.SetCurrentTime(5)
	now := time.Now()

	c.Poll(now)
	for i := 0; i < 8; i++ {
		now = now.Add(time.Second)
		c.Poll(now)
	}

	assert.Contains(t, *seen, events.ErrBufferStalledError)
}
