package level

import (
	"fmt"

	"hlsclient/internal/logger"
)

// State is the registry owning every level's details. All cross-component
// references resolve through it by (level, sn), which keeps the scheduler,
// tracker and playlist collaborator free of cyclic pointers.
type State struct {
	log        logger.Logger
	levels     []*Level
	lastLoaded int
}

// NewState returns an empty registry.
func NewState(log logger.Logger) *State {
	return &State{log: log.With("levels"), lastLoaded: -1}
}

// SetLevels installs the level set from a parsed manifest.
func (s *State) SetLevels(levels []*Level) {
	s.levels = levels
	s.lastLoaded = -1
}

// Levels returns the current level set.
func (s *State) Levels() []*Level {
	return s.levels
}

// Level returns the level at index, or nil when out of range.
func (s *State) Level(index int) *Level {
	if index < 0 || index >= len(s.levels) {
		return nil
	}
	return s.levels[index]
}

// LastLoaded returns the index of the level whose playlist arrived most
// recently, or -1.
func (s *State) LastLoaded() int {
	return s.lastLoaded
}

// OnLevelLoaded installs freshly loaded details for a level. Live playlists
// merge with the prior snapshot of the same level; a fresh level with no
// overlap is aligned against the last loaded one to estimate drift.
// Returns the sliding offset.
func (s *State) OnLevelLoaded(index int, details *Details) (float64, error) {
	lvl := s.Level(index)
	if lvl == nil {
		return 0, fmt.Errorf("level %d not found", index)
	}

	sliding := details.Start()
	if lvl.Details != nil && details.Live {
		var aligned bool
		sliding, aligned = Merge(lvl.Details, details)
		if !aligned {
			s.log.Warnf("Live playlist of level %d slid past the previous window (SN %d-%d -> %d-%d)",
				index, lvl.Details.StartSN, lvl.Details.EndSN, details.StartSN, details.EndSN)
			details.PTSKnown = false
			s.alignAgainstLastLoaded(index, details)
		}
	} else {
		details.PTSKnown = false
		s.alignAgainstLastLoaded(index, details)
	}

	lvl.Details = details
	lvl.LoadError = 0
	s.lastLoaded = index

	s.log.Debugf("Level %d loaded: SN %d-%d, sliding %.3f, live=%v, PTSKnown=%v",
		index, details.StartSN, details.EndSN, sliding, details.Live, details.PTSKnown)
	return sliding, nil
}

func (s *State) alignAgainstLastLoaded(index int, details *Details) {
	if s.lastLoaded < 0 || s.lastLoaded == index {
		return
	}
	ref := s.Level(s.lastLoaded)
	if ref == nil || ref.Details == nil {
		return
	}
	details.AlignWith(ref.Details)
}
