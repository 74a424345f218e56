package stream

import (
	"math"
	"time"

	"hlsclient/internal/buffer"
	"hlsclient/internal/events"
	"hlsclient/internal/frag"
)

func (c *Controller) onError(data *events.ErrorData) {
	if data.Fatal {
		c.log.Errorf("Fatal error %s: %v", data.Details, data.Err)
		c.doStop()
		c.setState(StateError)
		return
	}

	switch data.Details {
	case events.ErrFragLoadError, events.ErrFragLoadTimeout,
		events.ErrKeyLoadError, events.ErrKeyLoadTimeout:
		c.onFragLoadError(data)

	case events.ErrLevelLoadError, events.ErrLevelLoadTimeout:
		// The playlist collaborator keeps retrying on its own; only leave
		// WAITING_LEVEL when it gave up.
		if c.state == StateWaitingLevel && !data.LevelRetry {
			c.setState(StateIdle)
		}
		if lvl := c.levels.Level(data.LevelIndex); lvl != nil {
			lvl.LoadError++
		}

	case events.ErrBufferFullError:
		c.onBufferFull(data)

	case events.ErrBufferAppendError:
		if c.state == StateParsing || c.state == StateParsed {
			c.log.Errorf("Buffer append failed while parsing: %v", data.Err)
			c.doStop()
			c.setState(StateError)
		}

	case events.ErrBufferStalledError, events.ErrBufferNudgeOnStall, events.ErrBufferSeekOverHole:
		c.metrics.Stall()
	}
}

// onFragLoadError applies the exponential retry envelope to a failed main
// fragment or key load.
func (c *Controller) onFragLoadError(data *events.ErrorData) {
	if data.Frag != nil && data.Frag.Kind != frag.KindMain {
		return
	}
	// Only the load currently in flight is retried; stale failures are
	// dropped by the context check.
	if data.Frag != nil && !c.matchesCurrent(data.Frag.Level, data.Frag.SN) {
		return
	}

	if data.Frag != nil {
		// The failed load is no longer in flight; untrack it so the
		// retry is not gated as LOADING.
		c.tracker.Remove(data.Frag)
	}
	c.fragCurrent = nil

	if c.fragLoadError < c.cfg.FragLoadingMaxRetry {
		delay := math.Min(
			math.Pow(2, float64(c.fragLoadError))*float64(c.cfg.FragLoadingRetryDelayMS),
			float64(c.cfg.FragLoadingMaxRetryTimeoutMS),
		)
		c.retryDate = time.Now().Add(time.Duration(delay) * time.Millisecond)
		c.fragLoadError++
		c.metrics.FragLoadRetry()
		c.log.Warnf("Fragment load failed (%s), retry %d/%d in %.0fms: %v",
			data.Details, c.fragLoadError, c.cfg.FragLoadingMaxRetry, delay, data.Err)
		c.setState(StateFragLoadingWaitingRetry)
		return
	}

	c.log.Errorf("Fragment load failed after %d retries, giving up: %v", c.cfg.FragLoadingMaxRetry, data.Err)
	c.bus.Emit(events.Event{Type: events.Error, Err: &events.ErrorData{
		Details: data.Details,
		Fatal:   true,
		Frag:    data.Frag,
		Parent:  frag.KindMain,
		Err:     data.Err,
	}})
	c.doStop()
	c.setState(StateError)
}

// onBufferFull reacts to the sink running out of room: when the playhead
// still sits inside buffered data the ahead-target shrinks, otherwise
// everything is flushed and scheduling restarts at the playhead.
func (c *Controller) onBufferFull(data *events.ErrorData) {
	if data.Parent != "" && data.Parent != frag.KindMain {
		return
	}
	if c.media != nil && buffer.IsBuffered(c.media.Buffered(), c.media.CurrentTime()) {
		c.reduceMaxBufferLength(c.cfg.MaxBufferLength)
		c.setState(StateIdle)
		return
	}

	c.log.Warnf("Buffer full with the playhead outside buffered data, flushing everything")
	if c.fragCurrent != nil {
		c.fragLoader.Abort()
		c.fragCurrent = nil
	}
	c.flushMainBuffer(0, math.Inf(1))
}
