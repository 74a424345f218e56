package stream

import (
	"context"
	"math"
	"time"

	"hlsclient/internal/buffer"
	"hlsclient/internal/events"
	"hlsclient/internal/frag"
	"hlsclient/internal/level"
)

// doTickIdle runs fragment selection: measure the buffer ahead of the
// playhead and, if it is short of the target, choose and sequence the next
// load.
func (c *Controller) doTickIdle(now time.Time) {
	lvl := c.levels.Level(c.levelIdx)
	if lvl == nil {
		return
	}

	// Media must be attached unless prefetch is allowed and nothing was
	// requested yet.
	if c.media == nil && !(c.cfg.StartFragPrefetch && !c.startFragRequested) {
		return
	}

	pos := c.mediaPosition()

	maxBufLen := c.cfg.MaxBufferLength
	if lvl.Bitrate > 0 {
		maxBufLen = math.Max(8*c.cfg.MaxBufferSize/float64(lvl.Bitrate), maxBufLen)
	}
	maxBufLen = math.Min(maxBufLen, c.maxMaxBufferLength)

	buf := c.bufferInfoAt(pos)
	c.metrics.SetBufferLength(buf.Len)
	if buf.Len >= maxBufLen {
		return
	}

	details := lvl.Details
	if details == nil || (details.Live && c.levels.LastLoaded() != c.levelIdx) {
		c.setState(StateWaitingLevel)
		if c.watchLevel != nil {
			c.watchLevel(c.levelIdx)
		}
		return
	}

	if c.streamEnded(buf, details) {
		c.bus.Emit(events.Event{Type: events.BufferEOS})
		c.setState(StateEnded)
		c.log.Infof("Stream fully buffered, signalling end of stream")
		return
	}

	c.fetchFragment(now, buf, details)
}

// streamEnded reports whether the last fragment of a VoD playlist has been
// buffered through.
func (c *Controller) streamEnded(buf buffer.Info, details *level.Details) bool {
	return !details.Live && c.fragPrevious != nil &&
		c.fragPrevious.SN == details.EndSN && !buf.HasNext
}

func (c *Controller) fetchFragment(now time.Time, buf buffer.Info, details *level.Details) {
	// Codec init bytes come before any media fragment of the level.
	if details.InitSegment != nil && !details.InitSegment.Parsed {
		c.loadInitSegment(details)
		return
	}

	f := c.nextFragment(buf, details)
	f = c.sameSNAdjust(f, details)
	if f == nil {
		return
	}
	c.loadFragment(now, f, details)
}

// nextFragment picks the fragment that continues the buffered run:
// live bounds first, then PTS search with boundary tolerance.
func (c *Controller) nextFragment(buf buffer.Info, details *level.Details) *frag.Fragment {
	fragments := details.Fragments
	if len(fragments) == 0 {
		return nil
	}

	bufferEnd := buf.End
	start := details.Start()
	end := details.Edge()
	tolMax := c.cfg.MaxFragLookUpTolerance

	if details.Live {
		if len(fragments) < c.cfg.InitialLiveManifestSize {
			c.log.Debugf("Live playlist has %d fragments, below initialLiveManifestSize %d",
				len(fragments), c.cfg.InitialLiveManifestSize)
			return nil
		}

		maxLatency := c.cfg.LiveMaxLatency(details.TargetDuration)
		lowerBound := start - tolMax
		if maxLatency > 0 {
			lowerBound = math.Max(lowerBound, end-maxLatency)
		}
		if bufferEnd < lowerBound {
			liveSyncPos := details.LiveSyncPosition(c.cfg.LiveSync(details.TargetDuration))
			c.log.Warnf("Buffer end %.3f fell behind the live window, jumping to sync position %.3f",
				bufferEnd, liveSyncPos)
			if c.media != nil && c.loadedMetadata {
				c.media.SetCurrentTime(liveSyncPos)
			}
			c.nextLoadPosition = liveSyncPos
			bufferEnd = liveSyncPos
		}

		if details.PTSKnown && bufferEnd > end && c.media != nil && c.media.ReadyState() >= 1 {
			// The playlist momentarily slid back; wait for the next reload.
			return nil
		}

		if !details.PTSKnown && c.fragPrevious != nil {
			return c.fragForLiveSwitch(details)
		}
	} else if bufferEnd < fragments[0].Start {
		return fragments[0]
	}

	tol := tolMax
	if bufferEnd > end-tolMax {
		tol = 0
	}
	f := frag.FindByPTS(c.fragPrevious, fragments, bufferEnd, tol)
	if f == nil && bufferEnd >= end {
		f = fragments[len(fragments)-1]
	}
	return f
}

// fragForLiveSwitch picks a continuation fragment after a level switch on
// a live playlist whose PTS mapping is still unknown.
func (c *Controller) fragForLiveSwitch(details *level.Details) *frag.Fragment {
	prev := c.fragPrevious
	fragments := details.Fragments

	if prev.EndProgramDateTime != nil && details.HasProgramDateTime {
		if f := frag.FindByPDT(fragments, *prev.EndProgramDateTime, c.cfg.MaxFragLookUpTolerance); f != nil {
			return f
		}
	}
	if next := details.BySN(prev.SN + 1); next != nil && next.CC == prev.CC {
		return next
	}
	if f := frag.FindWithCC(fragments, prev.CC); f != nil {
		return f
	}
	return fragments[len(fragments)/2]
}

// sameSNAdjust resolves the case where selection landed on the fragment
// that was just loaded, stepping forward, or stepping back when a missing
// keyframe calls for backtracking.
func (c *Controller) sameSNAdjust(f *frag.Fragment, details *level.Details) *frag.Fragment {
	prev := c.fragPrevious
	if f == nil || prev == nil || f.SN != prev.SN {
		return f
	}

	sameLevel := f.Level == prev.Level
	if sameLevel && !f.Backtracked {
		if f.SN >= details.EndSN {
			return nil
		}
		if prev.DeltaPTS > c.cfg.MaxBufferHole && prev.Dropped > 0 {
			c.log.Warnf("Fragment sn=%d loaded with a large audio-video gap and dropped frames, stepping back one to find a keyframe", f.SN)
			if pf := details.BySN(f.SN - 1); pf != nil {
				return pf
			}
			return nil
		}
		return details.BySN(f.SN + 1)
	}

	if f.Backtracked {
		next := details.BySN(f.SN + 1)
		if next != nil && next.Backtracked {
			// Never backtrack twice in a row; resume forward progress.
			c.log.Warnf("Fragment sn=%d already triggered a backtrack, advancing to sn=%d", f.SN, next.SN)
			return next
		}
		f.Dropped = 0
		if pf := details.BySN(f.SN - 1); pf != nil {
			pf.Backtracked = true
			c.log.Warnf("Backtracking to fragment sn=%d to recover a keyframe", pf.SN)
			return pf
		}
		return nil
	}
	return f
}

// loadFragment runs the key/tracker gates and hands the fragment to the
// loader.
func (c *Controller) loadFragment(now time.Time, f *frag.Fragment, details *level.Details) {
	if f.Encrypted && f.KeyURI != c.loadedKeyURI {
		c.loadKey(f)
		return
	}

	if !c.tracker.Fetchable(f) {
		// Appended but out of the buffered window: shrink the target so
		// the same fragment is not fetched over and over.
		if c.reduceMaxBufferLength(f.Duration) {
			c.tracker.Remove(f)
		}
		return
	}

	c.fragCurrent = f
	c.startFragRequested = true
	f.BitrateTest = c.bitrateTest
	if !f.BitrateTest {
		c.nextLoadPosition = f.Start + f.Duration
	}
	f.Stats = frag.LoadStats{}

	c.tracker.MarkLoading(f)
	c.setState(StateFragLoading)
	c.bus.Emit(events.Event{Type: events.FragLoading, Frag: f})
	c.log.Debugf("Loading fragment level=%d sn=%d start=%.3f (bitrateTest=%v)",
		f.Level, f.SN, f.Start, f.BitrateTest)
	c.fragLoader.Load(f, c.loadResults)
}

// loadKey asynchronously resolves the fragment's decryption key; the
// KEY_LOADED event releases the state machine.
func (c *Controller) loadKey(f *frag.Fragment) {
	// The key fetch is the load in flight, so a key error passes the
	// context check in onFragLoadError and is retried.
	c.fragCurrent = f
	c.setState(StateKeyLoading)
	c.bus.Emit(events.Event{Type: events.KeyLoading, Frag: f})
	c.log.Debugf("Loading key for fragment sn=%d from %s", f.SN, f.KeyURI)

	uri := f.KeyURI
	go func() {
		key, err := c.keys.GetKey(context.Background(), uri)
		if err != nil {
			c.enqueue(events.Event{Type: events.Error, Err: &events.ErrorData{
				Details: events.ErrKeyLoadError,
				Frag:    f,
				Err:     err,
			}})
			return
		}
		c.cmds <- func() {
			c.loadedKeyURI = uri
			c.loadedKey = key
			c.bus.Emit(events.Event{Type: events.KeyLoaded, Frag: f})
		}
	}()
}

// loadInitSegment fetches or re-parses the level's codec init bytes. Init
// data that is already present goes straight to the transmuxer; the loader
// is never asked twice.
func (c *Controller) loadInitSegment(details *level.Details) {
	init := details.InitSegment

	f := &frag.Fragment{
		Kind:      frag.KindMain,
		Level:     c.levelIdx,
		SN:        initSegmentSN,
		URL:       init.URL,
		ByteRange: init.ByteRange,
	}

	if init.Data != nil {
		c.fragCurrent = f
		c.setState(StateFragLoading)
		c.tx.Push(transmuxRequestForInit(f, init.Data))
		return
	}

	c.fragCurrent = f
	c.startFragRequested = true
	c.tracker.MarkLoading(f)
	c.setState(StateFragLoading)
	c.bus.Emit(events.Event{Type: events.FragLoading, Frag: f})
	c.log.Debugf("Loading init segment for level %d from %s", c.levelIdx, init.URL)
	c.fragLoader.Load(f, c.loadResults)
}

// reduceMaxBufferLength halves the effective buffer cap, flooring at the
// configured target and at the given fragment duration.
func (c *Controller) reduceMaxBufferLength(minLength float64) bool {
	floor := math.Max(minLength, c.cfg.MaxBufferLength)
	if c.maxMaxBufferLength <= floor {
		return false
	}
	c.maxMaxBufferLength = math.Max(c.maxMaxBufferLength/2, floor)
	c.log.Warnf("Reduced max buffer length to %.0fs", c.maxMaxBufferLength)
	return true
}
