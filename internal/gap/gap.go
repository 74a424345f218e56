// Package gap detects stalled playback and moves the playhead past holes
// the buffer sink will never fill.
package gap

import (
	"time"

	"hlsclient/internal/buffer"
	"hlsclient/internal/config"
	"hlsclient/internal/events"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
)

// skipHoleOffset is added when jumping over a hole so the playhead lands
// safely inside the next buffered range.
const skipHoleOffset = 0.005

// Controller watches the playhead between scheduler ticks.
type Controller struct {
	cfg   *config.Config
	media media.Element
	bus   *events.Bus
	log   logger.Logger

	lastTime     float64
	stalledSince time.Time
	nudgeRetry   int
}

// New returns a controller for the given element.
func New(cfg *config.Config, m media.Element, bus *events.Bus, log logger.Logger) *Controller {
	return &Controller{cfg: cfg, media: m, bus: bus, log: log.With("gap")}
}

// Poll runs once per scheduler tick. A playhead that has not moved while
// the element claims to be playing is considered stalled after the
// configured debounce; a stall in front of a hole skips it, a stall inside
// buffered data nudges the decoder.
func (c *Controller) Poll(now time.Time) {
	t := c.media.CurrentTime()
	moved := t != c.lastTime
	c.lastTime = t

	if moved || c.media.Paused() || c.media.Seeking() || c.media.ReadyState() < media.HaveMetadata {
		c.stalledSince = time.Time{}
		c.nudgeRetry = 0
		return
	}

	if c.stalledSince.IsZero() {
		c.stalledSince = now
		return
	}
	if now.Sub(c.stalledSince) < time.Duration(c.cfg.StallDebounceMS)*time.Millisecond {
		return
	}

	buf := buffer.GetBufferInfo(c.media.Buffered(), t, c.cfg.MaxBufferHole)
	if buf.Len > 0.5 {
		c.nudge(now, t)
		return
	}
	if buf.HasNext {
		c.skipHole(t, buf.NextStart)
	}
	// No data ahead at all: leave it to the scheduler to load more.
}

func (c *Controller) skipHole(from, nextStart float64) {
	target := nextStart + skipHoleOffset
	c.log.Warnf("Playback stalled at %.3f in front of a hole, seeking to %.3f", from, target)
	c.bus.Emit(events.Event{Type: events.Error, Err: &events.ErrorData{
		Details: events.ErrBufferSeekOverHole,
	}})
	c.media.SetCurrentTime(target)
	c.lastTime = target
	c.stalledSince = time.Time{}
	c.nudgeRetry = 0
}

func (c *Controller) nudge(now time.Time, t float64) {
	c.nudgeRetry++
	if c.nudgeRetry > c.cfg.NudgeMaxRetry {
		c.log.Errorf("Playhead still stuck at %.3f after %d nudges", t, c.cfg.NudgeMaxRetry)
		c.bus.Emit(events.Event{Type: events.Error, Err: &events.ErrorData{
			Details: events.ErrBufferStalledError,
			Fatal:   true,
		}})
		return
	}
	target := t + c.cfg.NudgeOffset*float64(c.nudgeRetry)
	c.log.Warnf("Playback stalled inside buffered data at %.3f, nudging to %.3f", t, target)
	c.bus.Emit(events.Event{Type: events.Error, Err: &events.ErrorData{
		Details: events.ErrBufferNudgeOnStall,
	}})
	c.media.SetCurrentTime(target)
	// The jump is ours, not playback progress; keep the stall armed so an
	// unsuccessful nudge escalates instead of resetting.
	c.lastTime = target
	c.stalledSince = now
}
