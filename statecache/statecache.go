// Package statecache persists the state of a rule instance between invocations.
// A state is trusted only while it is younger than the max age, not older than
// the directory snapshot it was derived from, and built by the same rule configuration.
package statecache

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/gwos/autodt/cache"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
)

const magic = "ADTS"

// RuleState is the persisted state of a rule instance
type RuleState struct {
	Targets transit.Targets
	// TargetsResolved distinguishes empty resolved list from missing one
	TargetsResolved bool
	// NoActiveMaintenance is nil until first evaluation
	NoActiveMaintenance *bool
	// NormalCheckInterval of the rule instance own service, zero if unknown
	NormalCheckInterval   time.Duration
	ShortLivedRefreshedAt time.Time
	Fingerprint           string
	LastUpdateAt          time.Time
	// MaintenanceEndedAt is set when maintenance was first seen inactive
	// while own downtimes could still exist
	MaintenanceEndedAt time.Time
}

// SetTargets stores resolved targets
func (p *RuleState) SetTargets(tt transit.Targets) {
	p.Targets = tt
	p.TargetsResolved = true
}

// SetNoActiveMaintenance sets the flag
func (p *RuleState) SetNoActiveMaintenance(v bool) {
	p.NoActiveMaintenance = &v
}

// Store keeps state files in directory
type Store struct {
	Dir    string
	MaxAge time.Duration

	now func() time.Time
}

// New returns store
func New(dir string, maxAge time.Duration) *Store {
	return &Store{Dir: dir, MaxAge: maxAge}
}

func (s *Store) timeNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Path returns state file of the rule instance key
func (s *Store) Path(key string) string {
	return filepath.Join(s.Dir, "_"+url.PathEscape(key)+".cache")
}

// Load returns persisted state with its age.
// Returns empty state and false if there is no valid state.
func (s *Store) Load(key string, dirTime time.Time, downtimeDuration time.Duration, fingerprint string) (*RuleState, time.Duration, bool) {
	path := s.Path(key)
	now := s.timeNow()

	var state RuleState
	mtime, err := cache.ReadFile(path, magic, &state)
	switch {
	case err != nil:
		log.Debug().Err(err).Str("path", path).Msg("no rule state")
		return &RuleState{}, 0, false
	case now.Sub(mtime) >= s.MaxAge:
		log.Debug().Str("path", path).Time("mtime", mtime).Msg("rule state expired")
		return &RuleState{}, 0, false
	case dirTime.IsZero() || mtime.Before(dirTime):
		log.Debug().Str("path", path).Time("mtime", mtime).Time("dirTime", dirTime).
			Msg("rule state older than directory")
		return &RuleState{}, 0, false
	case state.Fingerprint != fingerprint:
		log.Info().Str("path", path).Msg("rule configuration changed, state discarded")
		return &RuleState{}, 0, false
	}

	if state.ShortLivedRefreshedAt.IsZero() ||
		now.Sub(state.ShortLivedRefreshedAt) > downtimeDuration/3 {
		state.ShortLivedRefreshedAt = now
		state.NormalCheckInterval = 0
	}

	age := now.Sub(mtime)
	if !state.LastUpdateAt.IsZero() {
		age = now.Sub(state.LastUpdateAt)
		if age > s.MaxAge {
			log.Debug().Str("path", path).Time("lastUpdateAt", state.LastUpdateAt).Msg("rule state outdated")
			return &RuleState{}, 0, false
		}
	}
	return &state, age, true
}

// Write persists state, sets fingerprint and update time if unset.
// Returns ErrInvariant if state belongs to other configuration.
func (s *Store) Write(key string, state *RuleState, fingerprint string) error {
	if state.Fingerprint != "" && state.Fingerprint != fingerprint {
		return fmt.Errorf("%w: rule state fingerprint conflict: %s: %s != %s",
			errors.ErrInvariant, key, state.Fingerprint, fingerprint)
	}
	state.Fingerprint = fingerprint
	if state.LastUpdateAt.IsZero() {
		state.LastUpdateAt = s.timeNow()
	}
	return cache.WriteFile(s.Path(key), magic, state)
}
