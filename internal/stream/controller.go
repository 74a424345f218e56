// Package stream implements the tick-driven scheduling state machine that
// decides which fragment to fetch next and drives it through load, parse
// and append.
package stream

import (
	"context"
	"math"
	"time"

	"hlsclient/internal/buffer"
	"hlsclient/internal/config"
	"hlsclient/internal/events"
	"hlsclient/internal/frag"
	"hlsclient/internal/gap"
	"hlsclient/internal/keys"
	"hlsclient/internal/level"
	"hlsclient/internal/loader"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
	"hlsclient/internal/metrics"
	"hlsclient/internal/tracker"
	"hlsclient/internal/transmux"
)

const (
	tickInterval = 100 * time.Millisecond

	// initSegmentSN marks the synthetic fragment used to fetch codec init
	// bytes; real sequence numbers are never negative.
	initSegmentSN = -1
)

// RangesProvider reports appended ranges of one elementary stream buffer,
// used for scheduling before a media element is attached.
type RangesProvider func(contentType string) media.TimeRanges

// AutoLevelFunc maps a measured load bandwidth to the next level index.
// Bitrate selection policy lives outside the core.
type AutoLevelFunc func(lastLoadKbps float64) int

// WatchLevelFunc asks the playlist collaborator to keep a level fresh.
type WatchLevelFunc func(index int)

// Controller is the stream scheduler. All mutable state is owned by the
// run goroutine; public methods enqueue commands into it.
type Controller struct {
	cfg     *config.Config
	bus     *events.Bus
	log     logger.Logger
	levels  *level.State
	tracker *tracker.Tracker
	keys    *keys.Service
	metrics *metrics.Metrics

	fragLoader loader.FragmentLoader
	tx         transmux.Transmuxer
	ranges     RangesProvider
	autoLevel  AutoLevelFunc
	watchLevel WatchLevelFunc

	media    media.Element
	gapCtrl  *gap.Controller

	inbox       chan events.Event
	cmds        chan func()
	loadResults chan loader.Result
	txResults   chan transmux.Result

	state            State
	levelIdx         int
	fragCurrent      *frag.Fragment
	fragPrevious     *frag.Fragment
	fragPlaying      *frag.Fragment
	nextLoadPosition float64
	startPosition    float64
	lastCurrentTime  float64
	loadedMetadata   bool
	startFragRequested bool
	bitrateTest      bool
	altAudio         bool

	fragLoadError int
	retryDate     time.Time
	fragLastKbps  float64

	maxMaxBufferLength float64

	immediateSwitch  bool
	previouslyPaused bool

	pendingAppends int
	appended       bool

	loadedKeyURI string
	loadedKey    []byte

	appendedFrags map[string]*frag.Fragment
}

// Deps bundles the collaborators a Controller needs.
type Deps struct {
	Config     *config.Config
	Bus        *events.Bus
	Log        logger.Logger
	Levels     *level.State
	Tracker    *tracker.Tracker
	Keys       *keys.Service
	Metrics    *metrics.Metrics
	FragLoader loader.FragmentLoader
	Transmuxer func(onResult func(transmux.Result)) transmux.Transmuxer
	Ranges     RangesProvider
	AutoLevel  AutoLevelFunc
	WatchLevel WatchLevelFunc
}

// NewController wires a scheduler. Start it with Run.
func NewController(d Deps) *Controller {
	c := &Controller{
		cfg:                d.Config,
		bus:                d.Bus,
		log:                d.Log.With("stream"),
		levels:             d.Levels,
		tracker:            d.Tracker,
		keys:               d.Keys,
		metrics:            d.Metrics,
		fragLoader:         d.FragLoader,
		ranges:             d.Ranges,
		autoLevel:          d.AutoLevel,
		watchLevel:         d.WatchLevel,
		inbox:              make(chan events.Event, 1024),
		cmds:               make(chan func(), 64),
		loadResults:        make(chan loader.Result, 4),
		txResults:          make(chan transmux.Result, 4),
		state:              StateStopped,
		levelIdx:           -1,
		startPosition:      -1,
		nextLoadPosition:   0,
		maxMaxBufferLength: d.Config.MaxMaxBufferLength,
		appendedFrags:      make(map[string]*frag.Fragment),
	}
	c.tx = d.Transmuxer(func(r transmux.Result) { c.txResults <- r })

	d.Bus.On(c.enqueue,
		events.MediaAttached,
		events.MediaDetaching,
		events.ManifestLoading,
		events.ManifestParsed,
		events.LevelLoaded,
		events.LevelsUpdated,
		events.KeyLoaded,
		events.FragLoadEmergencyAborted,
		events.BufferCreated,
		events.BufferAppended,
		events.BufferFlushed,
		events.AudioTrackSwitching,
		events.AudioTrackSwitched,
		events.Error,
	)
	return c
}

func (c *Controller) enqueue(e events.Event) {
	select {
	case c.inbox <- e:
	default:
		// The inbox is sized far beyond any realistic burst; losing an
		// event here means the loop is gone anyway.
		c.log.Errorf("Scheduler inbox full, dropping %s", e.Type)
	}
}

// State returns the current scheduler state. Only safe to call from the
// run goroutine or from tests that are not racing the loop.
func (c *Controller) State() State {
	return c.state
}

// Run drives the scheduler until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	c.log.Infof("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			c.doStop()
			c.log.Infof("Scheduler stopped")
			return
		case <-ticker.C:
			c.tick(time.Now())
		case fn := <-c.cmds:
			fn()
			c.tick(time.Now())
		case e := <-c.inbox:
			c.handleEvent(e)
			c.tick(time.Now())
		case res := <-c.loadResults:
			c.onFragLoadResult(res)
			c.tick(time.Now())
		case res := <-c.txResults:
			c.onTransmuxComplete(res)
			c.tick(time.Now())
		}
	}
}

// AttachMedia hands the scheduler a playback element.
func (c *Controller) AttachMedia(m media.Element) {
	c.cmds <- func() {
		c.media = m
		c.gapCtrl = gap.New(c.cfg, m, c.bus, c.log)
		// A completed seek deserves an immediate tick rather than waiting
		// out the current interval.
		m.OnSeeked(func() {
			select {
			case c.cmds <- func() {}:
			default:
			}
		})
		c.bus.Emit(events.Event{Type: events.MediaAttached})
	}
}

// DetachMedia removes the playback element.
func (c *Controller) DetachMedia() {
	c.cmds <- func() {
		c.bus.Emit(events.Event{Type: events.MediaDetaching})
	}
}

// StartLoad begins fragment scheduling from the given position; pass a
// negative position to start at the default (live sync point or zero).
func (c *Controller) StartLoad(startPosition float64) {
	c.cmds <- func() { c.doStartLoad(startPosition) }
}

// StopLoad halts fragment scheduling.
func (c *Controller) StopLoad() {
	c.cmds <- func() { c.doStop() }
}

// SwitchLevel moves to a new quality level. An immediate switch flushes
// everything and restarts at the playhead; a deferred switch keeps the
// buffered data the playhead reaches before the new level can arrive and
// flushes from the first fragment that can still be replaced in time.
func (c *Controller) SwitchLevel(index int, immediate bool) {
	c.cmds <- func() { c.doSwitchLevel(index, immediate) }
}

func (c *Controller) doStartLoad(startPosition float64) {
	if len(c.levels.Levels()) == 0 {
		c.log.Warnf("StartLoad before manifest parsed, ignoring")
		return
	}
	c.log.Infof("Start loading from position %.3f at level %d", startPosition, c.levelIdx)
	c.startPosition = startPosition
	c.nextLoadPosition = math.Max(startPosition, 0)
	c.lastCurrentTime = math.Max(startPosition, 0)
	c.fragLoadError = 0
	c.startFragRequested = false
	c.fragPrevious = nil
	c.fragPlaying = nil
	c.setState(StateIdle)
	if c.watchLevel != nil && c.levelIdx >= 0 {
		c.watchLevel(c.levelIdx)
	}
}

func (c *Controller) doStop() {
	if c.fragCurrent != nil {
		c.fragLoader.Abort()
		c.fragCurrent = nil
	}
	c.pendingAppends = 0
	c.appended = false
	c.setState(StateStopped)
}

func (c *Controller) setState(next State) {
	if c.state == next {
		return
	}
	c.log.Debugf("State %s -> %s", c.state, next)
	c.state = next
}

// tick is the heart of the machine: dispatch on state, then check buffer
// health and playhead movement.
func (c *Controller) tick(now time.Time) {
	switch c.state {
	case StateIdle:
		c.doTickIdle(now)
	case StateWaitingLevel:
		if lvl := c.levels.Level(c.levelIdx); lvl != nil && lvl.Details != nil {
			c.setState(StateIdle)
			c.doTickIdle(now)
		}
	case StateFragLoadingWaitingRetry:
		seeking := c.media != nil && c.media.Seeking()
		if !now.Before(c.retryDate) || seeking {
			c.log.Infof("Retry window open (seeking=%v), back to IDLE", seeking)
			c.setState(StateIdle)
			c.doTickIdle(now)
		}
	case StateBufferFlushing:
		c.fragLoadError = 0
	}

	c.checkBuffer(now)
	c.checkFragmentChanged()
}

func (c *Controller) handleEvent(e events.Event) {
	switch e.Type {
	case events.MediaAttached:
		// The element itself was installed by the AttachMedia command;
		// the event just provokes the post-dispatch tick.

	case events.MediaDetaching:
		if c.fragCurrent != nil {
			c.fragLoader.Abort()
			c.fragCurrent = nil
		}
		c.loadedMetadata = false
		c.media = nil
		c.gapCtrl = nil
		c.setState(StateStopped)

	case events.ManifestLoading:
		c.doStop()
		c.levelIdx = -1
		c.fragPrevious = nil
		c.fragPlaying = nil
		c.appendedFrags = make(map[string]*frag.Fragment)
		c.tracker.RemoveAll()
		c.bus.Emit(events.Event{Type: events.BufferReset})

	case events.ManifestParsed:
		c.onManifestParsed(e)

	case events.LevelsUpdated:
		c.levels.SetLevels(e.Levels)

	case events.LevelLoaded:
		c.onLevelLoaded(e)

	case events.KeyLoaded:
		if c.state == StateKeyLoading {
			c.setState(StateIdle)
		}

	case events.FragLoadEmergencyAborted:
		if c.fragCurrent != nil {
			c.fragLoader.Abort()
			c.fragCurrent = nil
		}
		c.startFragRequested = false
		c.setState(StateIdle)

	case events.BufferCreated:
		// Tracks exist; nothing to do until appends complete.

	case events.BufferAppended:
		c.onBufferAppended(e)

	case events.BufferFlushed:
		c.onBufferFlushed()

	case events.AudioTrackSwitching:
		c.onAudioTrackSwitching(e)

	case events.AudioTrackSwitched:
		// Switch done; normal scheduling resumes on the post-dispatch tick.

	case events.Error:
		if e.Err != nil {
			c.onError(e.Err)
		}
	}
}

func (c *Controller) onManifestParsed(e events.Event) {
	c.levels.SetLevels(e.Levels)
	c.altAudio = false
	c.bitrateTest = false

	switch {
	case c.cfg.StartLevel >= 0 && c.cfg.StartLevel < len(e.Levels):
		c.levelIdx = c.cfg.StartLevel
	case c.cfg.TestBandwidth && len(e.Levels) > 1:
		c.levelIdx = 0
		c.bitrateTest = true
	default:
		c.levelIdx = 0
	}
	c.metrics.SetCurrentLevel(c.levelIdx)
	c.log.Infof("Manifest parsed with %d levels, starting at level %d (bitrateTest=%v)",
		len(e.Levels), c.levelIdx, c.bitrateTest)
}

func (c *Controller) onLevelLoaded(e events.Event) {
	if _, err := c.levels.OnLevelLoaded(e.LevelIndex, e.Details); err != nil {
		c.log.Warnf("Dropping LEVEL_LOADED: %v", err)
		return
	}
	details := e.Details

	if details.Live && c.startPosition < 0 && !c.startFragRequested {
		// First live load: pin the start position to the sync point.
		c.startPosition = details.LiveSyncPosition(c.cfg.LiveSync(details.TargetDuration))
		c.nextLoadPosition = c.startPosition
		c.lastCurrentTime = c.startPosition
		c.log.Infof("Live start position set to %.3f", c.startPosition)
	} else if !details.Live && c.startPosition < 0 {
		start := 0.0
		if details.StartTimeOffset != nil {
			start = *details.StartTimeOffset
			if start < 0 {
				start = math.Max(0, details.TotalDuration+start)
			}
		}
		c.startPosition = start
		c.nextLoadPosition = math.Max(c.nextLoadPosition, start)
	}

	c.bus.Emit(events.Event{Type: events.LevelUpdated, LevelIndex: e.LevelIndex, Details: details})

	if c.state == StateWaitingLevel && e.LevelIndex == c.levelIdx {
		c.setState(StateIdle)
	}
}

func (c *Controller) onAudioTrackSwitching(e events.Event) {
	// Fragments of the main playlist carry the muxed audio; when moving back
	// to that audio (a track without its own URL) the in-flight load is
	// abandoned and the transmuxer reset so init segments regenerate. A
	// switch to an alternate rendition changes nothing here.
	altAudio := e.URL != ""
	if !altAudio {
		if c.fragCurrent != nil {
			c.fragLoader.Abort()
			c.fragCurrent = nil
		}
		c.fragPrevious = nil
		c.tx.Destroy()
		if c.state != StateStopped {
			c.setState(StateIdle)
		}
	}
	c.altAudio = altAudio
}

// buffered returns the range set scheduling decisions are made against:
// the media element once attached, otherwise the sink's appended ranges.
func (c *Controller) buffered() media.TimeRanges {
	if c.media != nil {
		return c.media.Buffered()
	}
	if c.ranges != nil {
		return c.ranges("video")
	}
	return nil
}

// mediaPosition returns the probe position for buffer measurements.
func (c *Controller) mediaPosition() float64 {
	if c.loadedMetadata && c.media != nil {
		return c.media.CurrentTime()
	}
	return c.nextLoadPosition
}

func (c *Controller) bufferInfoAt(pos float64) buffer.Info {
	return buffer.GetBufferInfo(c.buffered(), pos, c.cfg.MaxBufferHole)
}
