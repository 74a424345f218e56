package stream

import (
	"time"

	"hlsclient/internal/events"
	"hlsclient/internal/frag"
	"hlsclient/internal/level"
	"hlsclient/internal/loader"
	"hlsclient/internal/transmux"
)

// matchesCurrent validates the (level, sn) context of an asynchronous
// completion. Late or abandoned completions are discarded.
func (c *Controller) matchesCurrent(lvl, sn int) bool {
	return c.fragCurrent != nil && c.fragCurrent.Level == lvl && c.fragCurrent.SN == sn
}

func (c *Controller) onFragLoadResult(res loader.Result) {
	if res.Aborted {
		c.log.Debugf("Discarding aborted load of sn=%d", res.Frag.SN)
		return
	}
	if c.state != StateFragLoading || !c.matchesCurrent(res.Frag.Level, res.Frag.SN) {
		c.log.Debugf("Discarding stale load result for level=%d sn=%d in state %s",
			res.Frag.Level, res.Frag.SN, c.state)
		return
	}

	f := res.Frag
	if res.Err != nil {
		detail := events.ErrFragLoadError
		if res.Timeout {
			detail = events.ErrFragLoadTimeout
		}
		c.metrics.FragLoadError()
		data := &events.ErrorData{Details: detail, Frag: f, Parent: f.Kind, Err: res.Err}
		c.bus.Emit(events.Event{Type: events.Error, Err: data})
		return
	}

	f.Stats.TRequest = res.Stats.TRequest
	f.Stats.TFirst = res.Stats.TFirst
	f.Stats.TLoad = res.Stats.TLoad
	f.Stats.Loaded = res.Stats.Loaded
	f.Stats.Total = res.Stats.Total
	c.metrics.FragmentLoaded()

	if f.SN == initSegmentSN {
		c.onInitSegmentLoaded(f, res.Data)
		return
	}
	if f.BitrateTest {
		c.onBitrateTestComplete(f)
		return
	}

	details := c.currentDetails()
	accurate := details != nil && details.PTSKnown
	req := transmux.Request{
		Frag:               f,
		Data:               res.Data,
		AccurateTimeOffset: accurate,
		TimeOffset:         f.Start,
	}
	if f.Encrypted {
		req.Key = c.loadedKey
		req.KeyIV = f.KeyIV
	}
	if details != nil && details.InitSegment != nil {
		req.InitSegmentData = details.InitSegment.Data
	}
	c.tx.Push(req)
}

func (c *Controller) onInitSegmentLoaded(f *frag.Fragment, data []byte) {
	details := c.currentDetails()
	if details == nil || details.InitSegment == nil {
		c.fragCurrent = nil
		c.setState(StateIdle)
		return
	}
	details.InitSegment.Data = data
	c.tx.Push(transmuxRequestForInit(f, data))
}

func transmuxRequestForInit(f *frag.Fragment, data []byte) transmux.Request {
	return transmux.Request{Frag: f, InitSegmentData: data}
}

// onBitrateTestComplete finishes the startup bandwidth probe: the payload
// is discarded, the measured rate picks the real start level.
func (c *Controller) onBitrateTestComplete(f *frag.Fragment) {
	c.bitrateTest = false
	c.startFragRequested = false
	f.BitrateTest = false
	c.tracker.Remove(f)

	f.Stats.TParsed = f.Stats.TLoad
	f.Stats.TBuffered = f.Stats.TLoad
	c.fragLastKbps = loadKbps(f.Stats)
	c.metrics.SetLastLoadKbps(c.fragLastKbps)

	c.bus.Emit(events.Event{Type: events.FragBuffered, Frag: f, Stats: &f.Stats, ID: f.Kind})
	c.fragCurrent = nil
	c.setState(StateIdle)

	if c.autoLevel != nil && c.cfg.StartLevel < 0 {
		next := c.autoLevel(c.fragLastKbps)
		if next >= 0 && next < len(c.levels.Levels()) && next != c.levelIdx {
			c.log.Infof("Bandwidth probe measured %.0f kbps, starting at level %d", c.fragLastKbps, next)
			c.levelIdx = next
			c.metrics.SetCurrentLevel(next)
			if c.watchLevel != nil {
				c.watchLevel(next)
			}
		}
	}
}

func (c *Controller) onTransmuxComplete(res transmux.Result) {
	if !c.matchesCurrent(res.Level, res.SN) {
		c.log.Debugf("Discarding stale transmux result for level=%d sn=%d", res.Level, res.SN)
		return
	}
	f := c.fragCurrent

	if res.Err != nil {
		data := &events.ErrorData{Details: events.ErrFragLoadError, Frag: f, Parent: f.Kind, Err: res.Err}
		c.bus.Emit(events.Event{Type: events.Error, Err: data})
		return
	}

	c.appended = false
	c.pendingAppends = 0

	if len(res.InitSegmentTracks) > 0 {
		c.onInitSegmentParsed(f, res)
		if f.SN == initSegmentSN {
			return
		}
	}

	details := c.currentDetails()

	// A video payload starting without a keyframe means the decoder
	// dropped frames; reload the predecessor to recover one.
	if res.Video != nil && res.Video.Dropped > 0 && details != nil &&
		f.SN > details.StartSN && !f.Backtracked {
		c.backtrack(f, res.Video.StartPTS)
		return
	}

	c.setState(StateParsing)
	f.Stats.TParsed = time.Now()

	if res.Video != nil && res.Video.Dropped == 0 && f.Backtracked {
		// Reloaded cleanly; the keyframe gap is resolved.
		f.Backtracked = false
	}

	c.applyTiming(f, res)

	if res.HasInitPTS {
		c.bus.Emit(events.Event{Type: events.InitPTSFound, Frag: f, InitPTS: res.InitPTS, CC: res.CC})
	}
	for _, payload := range res.ID3 {
		c.bus.Emit(events.Event{Type: events.FragParsingMetadata, Frag: f, Data: payload})
	}
	for _, payload := range res.Text {
		c.bus.Emit(events.Event{Type: events.FragParsingUserdata, Frag: f, Data: payload})
	}

	if res.Audio != nil {
		c.pushPayload(f, "audio", res.Audio.Data)
	}
	if res.Video != nil {
		c.pushPayload(f, "video", res.Video.Data)
	}
	c.tracker.MarkAppending(f)
	c.setState(StateParsed)
}

func (c *Controller) onInitSegmentParsed(f *frag.Fragment, res transmux.Result) {
	details := c.currentDetails()
	if details != nil && details.InitSegment != nil {
		details.InitSegment.Parsed = true
	}

	tracks := make(map[string]events.Track, len(res.InitSegmentTracks))
	for id, t := range res.InitSegmentTracks {
		codec := t.Codec
		if id == "audio" && c.cfg.DefaultAudioCodec != "" {
			codec = c.cfg.DefaultAudioCodec
		}
		tracks[id] = events.Track{ID: id, Container: t.Container, Codec: codec, InitData: t.Data}
	}

	c.bus.Emit(events.Event{Type: events.FragParsingInitSegment, Frag: f, Tracks: tracks})
	c.bus.Emit(events.Event{Type: events.BufferCodecs, Tracks: tracks})
	for id, t := range tracks {
		if f.SN != initSegmentSN {
			c.pendingAppends++
		}
		c.bus.Emit(events.Event{
			Type:        events.BufferAppending,
			ContentType: id,
			Parent:      f.Kind,
			Content:     "initSegment",
			Data:        t.InitData,
			Frag:        f,
		})
	}

	if f.SN == initSegmentSN {
		c.fragCurrent = nil
		c.setState(StateIdle)
	}
}

func (c *Controller) applyTiming(f *frag.Fragment, res transmux.Result) {
	streams := frag.ElementaryStreams{}
	if res.Audio != nil {
		f.UpdateTiming(res.Audio.StartPTS, res.Audio.EndPTS, res.Audio.StartDTS, res.Audio.EndDTS)
		streams.Audio = true
	}
	if res.Video != nil {
		f.UpdateTiming(res.Video.StartPTS, res.Video.EndPTS, res.Video.StartDTS, res.Video.EndDTS)
		streams.Video = true
		f.Dropped = res.Video.Dropped
	}
	f.Streams = streams
	f.DeltaPTS = res.DeltaPTS

	if details := c.currentDetails(); details != nil {
		details.PTSKnown = true
		c.bus.Emit(events.Event{Type: events.LevelPTSUpdated, LevelIndex: f.Level, Details: details, Frag: f})
	}
}

func (c *Controller) pushPayload(f *frag.Fragment, contentType string, data []byte) {
	c.appended = true
	c.pendingAppends++
	c.bus.Emit(events.Event{
		Type:        events.BufferAppending,
		ContentType: contentType,
		Parent:      f.Kind,
		Content:     "data",
		Data:        data,
		Frag:        f,
	})
}

// backtrack abandons the fragment in favour of its predecessor, which can
// supply the missing keyframe.
func (c *Controller) backtrack(f *frag.Fragment, startPTS float64) {
	c.log.Warnf("Fragment sn=%d parsed with dropped frames, backtracking", f.SN)
	c.tracker.Remove(f)
	f.Backtracked = true
	c.nextLoadPosition = startPTS
	// Selection must land on this SN again so the same-SN rule steps back
	// to the predecessor holding the keyframe.
	c.fragPrevious = f
	c.fragCurrent = nil
	c.metrics.Backtrack()
	c.setState(StateIdle)
}

func (c *Controller) onBufferAppended(e events.Event) {
	if e.Parent != frag.KindMain {
		return
	}
	if c.pendingAppends > 0 {
		c.pendingAppends--
	}
	if c.pendingAppends == 0 && c.appended && c.state == StateParsed {
		c.onFragBuffered()
	}
}

// onFragBuffered settles the fragment once every sub-append drained.
func (c *Controller) onFragBuffered() {
	f := c.fragCurrent
	if f == nil {
		return
	}
	f.Stats.TBuffered = time.Now()
	c.appended = false

	c.fragLastKbps = loadKbps(f.Stats)
	c.metrics.SetLastLoadKbps(c.fragLastKbps)
	c.metrics.FragmentBuffered()

	state := c.tracker.MarkBuffered(f, c.buffered())
	c.appendedFrags[f.Key()] = f
	c.log.Debugf("Fragment level=%d sn=%d buffered (%s), %.0f kbps", f.Level, f.SN, state, c.fragLastKbps)

	c.bus.Emit(events.Event{Type: events.FragBuffered, Frag: f, Stats: &f.Stats, ID: f.Kind})
	c.fragPrevious = f
	c.fragCurrent = nil
	c.fragLoadError = 0
	c.setState(StateIdle)
}

// loadKbps derives the measured load bandwidth from fragment stats.
func loadKbps(s frag.LoadStats) float64 {
	elapsed := s.TBuffered.Sub(s.TFirst)
	if elapsed <= 0 {
		return 0
	}
	return 8 * float64(s.Loaded) / float64(elapsed.Milliseconds()+1)
}

func (c *Controller) currentDetails() *level.Details {
	lvl := c.levels.Level(c.levelIdx)
	if lvl == nil {
		return nil
	}
	return lvl.Details
}
