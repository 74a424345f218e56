package playlist

import (
	"context"
	"time"

	"hlsclient/internal/events"
	"hlsclient/internal/frag"
	"hlsclient/internal/level"
	"hlsclient/internal/logger"
)

const defaultReloadInterval = 2 * time.Second

// Reloader keeps one level's playlist fresh: it loads the watched level
// immediately and, while the playlist stays live, reloads it at half the
// target duration, never more often than every two seconds. Every
// successful load lands on the bus as LEVEL_LOADED; a failed one goes out
// as a non-fatal level load ERROR and is tried again after two seconds.
type Reloader struct {
	client *Client
	levels *level.State
	bus    *events.Bus
	log    logger.Logger
	kind   frag.Kind

	watch chan int
}

// NewReloader creates a reloader for the given registry.
func NewReloader(client *Client, levels *level.State, bus *events.Bus, log logger.Logger, kind frag.Kind) *Reloader {
	return &Reloader{
		client: client,
		levels: levels,
		bus:    bus,
		log:    log.With("reloader"),
		kind:   kind,
		watch:  make(chan int, 4),
	}
}

// WatchLevel switches the reloader to the given level. The load is
// triggered from the background loop; callers never block. When the queue
// is full the oldest pending switch is discarded, since only the latest
// matters.
func (r *Reloader) WatchLevel(index int) {
	for {
		select {
		case r.watch <- index:
			return
		default:
			select {
			case <-r.watch:
			default:
			}
		}
	}
}

// Run drives reloads until the context is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	current := -1
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Infof("Playlist reloader stopped")
			return

		case index := <-r.watch:
			// Drain any queued switches; only the latest matters.
			for {
				select {
				case index = <-r.watch:
					continue
				default:
				}
				break
			}
			if index == current {
				lvl := r.levels.Level(index)
				if lvl != nil && lvl.Details != nil && !lvl.Details.Live {
					continue
				}
			}
			current = index
			r.reload(current, timer)

		case <-timer.C:
			if current >= 0 {
				r.reload(current, timer)
			}
		}
	}
}

func (r *Reloader) reload(index int, timer *time.Timer) {
	lvl := r.levels.Level(index)
	if lvl == nil {
		r.log.Warnf("Asked to reload unknown level %d", index)
		return
	}

	details, err := r.client.FetchMedia(lvl.URI, index, r.kind)
	if err != nil {
		r.log.Warnf("Failed to reload level %d playlist: %v", index, err)
		r.bus.Emit(events.Event{Type: events.Error, Err: &events.ErrorData{
			Details:    events.ErrLevelLoadError,
			LevelIndex: index,
			LevelRetry: true,
			Err:        err,
		}})
		timer.Reset(defaultReloadInterval)
		return
	}

	r.bus.Emit(events.Event{
		Type:       events.LevelLoaded,
		LevelIndex: index,
		Details:    details,
	})

	if details.Live {
		interval := time.Duration(details.TargetDuration/2*1000) * time.Millisecond
		if interval < defaultReloadInterval {
			interval = defaultReloadInterval
		}
		timer.Reset(interval)
	}
}
