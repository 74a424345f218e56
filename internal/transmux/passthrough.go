package transmux

import (
	"sync"

	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
)

// Passthrough is a Transmuxer for streams that are already fMP4: payloads
// are forwarded unmodified and timing is taken from the playlist. It gives
// the scheduler a complete collaborator in tests and the headless player.
type Passthrough struct {
	log      logger.Logger
	onResult func(Result)

	mu        sync.Mutex
	destroyed bool
	initSent  map[int]bool // per discontinuity range
}

// NewPassthrough creates a passthrough transmuxer delivering results to
// onResult from a separate goroutine.
func NewPassthrough(log logger.Logger, onResult func(Result)) *Passthrough {
	return &Passthrough{
		log:      log.With("transmux"),
		onResult: onResult,
		initSent: make(map[int]bool),
	}
}

// Push forwards the payload with playlist-derived timing.
func (p *Passthrough) Push(req Request) {
	f := req.Frag
	res := Result{
		Kind:  f.Kind,
		Level: f.Level,
		SN:    f.SN,
	}

	out := &TrackOutput{
		Data:      req.Data,
		Container: "video/mp4",
		StartPTS:  f.Start,
		EndPTS:    f.Start + f.Duration,
		StartDTS:  f.Start,
		EndDTS:    f.Start + f.Duration,
	}
	if f.Kind == frag.KindAudio {
		out.Container = "audio/mp4"
		res.Audio = out
	} else {
		res.Video = out
	}

	p.mu.Lock()
	if p.destroyed {
		p.destroyed = false
		p.initSent = make(map[int]bool)
	}
	if len(req.InitSegmentData) > 0 {
		id := "video"
		if f.Kind == frag.KindAudio {
			id = "audio"
		}
		res.InitSegmentTracks = map[string]InitTrack{
			id: {Container: out.Container, Data: req.InitSegmentData},
		}
	}
	if !p.initSent[f.CC] {
		p.initSent[f.CC] = true
		res.HasInitPTS = true
		res.InitPTS = f.Start
		res.CC = f.CC
	}
	p.mu.Unlock()

	go p.onResult(res)
}

// Destroy flushes per-discontinuity state so the next push regenerates
// init data.
func (p *Passthrough) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	p.initSent = make(map[int]bool)
	p.log.Debugf("Transmuxer state discarded")
}
