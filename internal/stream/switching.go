package stream

import (
	"math"
	"time"

	"hlsclient/internal/buffer"
	"hlsclient/internal/events"
	"hlsclient/internal/frag"
)

// checkBuffer runs buffer health work on every tick: the first-buffered
// seek to the start position, the immediate-switch decoder nudge, and
// otherwise stall detection.
func (c *Controller) checkBuffer(now time.Time) {
	if c.media == nil {
		return
	}
	buffered := c.media.Buffered()

	switch {
	case !c.loadedMetadata:
		if len(buffered) == 0 {
			return
		}
		c.loadedMetadata = true
		start := math.Max(c.startPosition, 0)
		if c.media.CurrentTime() != start {
			c.log.Infof("First data buffered, seeking to start position %.3f", start)
			c.media.SetCurrentTime(start)
		}

	case c.immediateSwitch:
		// Waiting for the replacement fragment after the full flush; once
		// it lands, a micro-seek forces the decoder to pick it up.
		t := c.media.CurrentTime()
		if buffer.IsBuffered(buffered, t) {
			c.immediateSwitch = false
			c.media.SetCurrentTime(t - 0.0001)
			if !c.previouslyPaused {
				c.media.Play()
			}
		}

	default:
		if c.gapCtrl != nil {
			c.gapCtrl.Poll(now)
		}
	}
}

// checkFragmentChanged tracks which buffered fragment the playhead is in,
// emitting FRAG_CHANGED and LEVEL_SWITCHED transitions.
func (c *Controller) checkFragmentChanged() {
	if c.media == nil || c.media.ReadyState() < 2 || c.media.Seeking() {
		return
	}

	t := c.media.CurrentTime()
	if t > c.lastCurrentTime {
		c.lastCurrentTime = t
	}

	playing := c.bufferedFragAt(t)
	if playing == nil {
		playing = c.bufferedFragAt(t + 0.1)
	}
	if playing == nil || playing == c.fragPlaying {
		return
	}

	previous := c.fragPlaying
	c.fragPlaying = playing
	c.bus.Emit(events.Event{Type: events.FragChanged, Frag: playing, ID: playing.Kind})
	if previous == nil || previous.Level != playing.Level {
		c.metrics.LevelSwitch()
		c.bus.Emit(events.Event{Type: events.LevelSwitched, LevelIndex: playing.Level})
	}
}

// bufferedFragAt returns the appended fragment whose PTS window contains
// pos and whose data is still in the media buffer.
func (c *Controller) bufferedFragAt(pos float64) *frag.Fragment {
	buffered := c.media.Buffered()
	var found *frag.Fragment
	for _, f := range c.appendedFrags {
		if !f.HasPTS || pos < f.StartPTS || pos >= f.EndPTS {
			continue
		}
		if !buffer.IsBuffered(buffered, pos) {
			continue
		}
		if found == nil || f.StartPTS > found.StartPTS {
			found = f
		}
	}
	return found
}

// followingBufferedFrag returns the appended fragment that starts where
// the given one ends.
func (c *Controller) followingBufferedFrag(f *frag.Fragment) *frag.Fragment {
	if f == nil || !f.HasPTS {
		return nil
	}
	return c.bufferedFragAt(f.EndPTS + c.cfg.MaxBufferHole/2)
}

func (c *Controller) doSwitchLevel(index int, immediate bool) {
	if c.levels.Level(index) == nil {
		c.log.Warnf("Ignoring switch to unknown level %d", index)
		return
	}
	if index == c.levelIdx {
		return
	}
	c.log.Infof("Switching from level %d to %d (immediate=%v)", c.levelIdx, index, immediate)
	c.levelIdx = index
	c.metrics.SetCurrentLevel(index)
	if c.watchLevel != nil {
		c.watchLevel(index)
	}

	if immediate {
		c.immediateLevelSwitch()
	} else {
		c.nextLevelSwitch()
	}
}

// immediateLevelSwitch flushes the whole buffer and restarts at the
// playhead: pause, abort, flush everything; checkBuffer resumes playback
// once the replacement fragment lands.
func (c *Controller) immediateLevelSwitch() {
	if !c.immediateSwitch {
		c.immediateSwitch = true
		if c.media != nil {
			c.previouslyPaused = c.media.Paused()
			c.media.Pause()
		} else {
			c.previouslyPaused = true
		}
	}
	if c.fragCurrent != nil {
		c.fragLoader.Abort()
		c.fragCurrent = nil
	}
	c.flushMainBuffer(0, math.Inf(1))
}

// nextLevelSwitch keeps what the decoder will play before the new level's
// data can arrive, and flushes everything after it.
func (c *Controller) nextLevelSwitch() {
	if c.media == nil {
		return
	}

	var fetchdelay float64
	lvl := c.levels.Level(c.levelIdx)
	if !c.media.Paused() && c.fragLastKbps > 0 && c.fragPlaying != nil && lvl != nil && lvl.Bitrate > 0 {
		fetchdelay = c.fragPlaying.Duration*float64(lvl.Bitrate)/(1000*c.fragLastKbps) + 1
	}

	playingAtArrival := c.bufferedFragAt(c.media.CurrentTime() + fetchdelay)
	if playingAtArrival == nil {
		return
	}
	successor := c.followingBufferedFrag(playingAtArrival)
	if successor == nil {
		return
	}

	if c.fragCurrent != nil {
		c.fragLoader.Abort()
		c.fragCurrent = nil
	}
	c.flushMainBuffer(successor.MaxStartPTS, math.Inf(1))
}

// flushMainBuffer asks the sink to drop [start, end) and parks the machine
// until BUFFER_FLUSHED comes back.
func (c *Controller) flushMainBuffer(start, end float64) {
	c.setState(StateBufferFlushing)
	c.bus.Emit(events.Event{Type: events.BufferFlushing, StartOffset: start, EndOffset: end})
}

func (c *Controller) onBufferFlushed() {
	// Forget fragments whose data is gone so change detection and switch
	// windows stop seeing them.
	buffered := c.buffered()
	for key, f := range c.appendedFrags {
		if !f.HasPTS || !buffer.IsBuffered(buffered, (f.StartPTS+f.EndPTS)/2) {
			delete(c.appendedFrags, key)
		}
	}
	c.tracker.DetectEvicted(frag.KindMain, buffered)

	if c.state == StateBufferFlushing {
		c.fragPrevious = nil
		c.setState(StateIdle)
	}
}
