// Package reconcile decides on maintenance of a rule instance
// and brings downtimes of its targets in line.
//
// All downtimes of a rule instance carry the identity hash in their comment,
// it is the only link between a downtime and the rule.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gwos/autodt/clients"
	"github.com/gwos/autodt/rule"
	"github.com/gwos/autodt/statecache"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
)

// KeywordPrefix precedes the identity hash in comments
const KeywordPrefix = "MAINT#"

// startSlack bounds removal of replaced downtimes by start time
const startSlack = 5 * time.Second

// Stats counts downtime operations of a run
type Stats struct {
	Targets int
	Removed int
	Added   int
	ReAdded int
}

// String implements Stringer interface
func (p Stats) String() string {
	return fmt.Sprintf("targets: %d. downtimes: %d removed // %d added // %d readded/extended",
		p.Targets, p.Removed, p.Added, p.ReAdded)
}

// Mutated checks if any downtime was changed
func (p Stats) Mutated() bool {
	return p.Removed+p.Added+p.ReAdded > 0
}

// Engine applies downtimes of a rule instance
type Engine struct {
	API        clients.MonitoringAPI
	Rule       rule.Rule
	ReAddDelay time.Duration

	now func() time.Time
}

func (e *Engine) timeNow() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Keyword returns the comment part shared by all downtimes of the rule instance
func (e *Engine) Keyword() string {
	return KeywordPrefix + e.Rule.IdentityHash()
}

// Comment returns downtime comment, "$TYP$" stands for the scope
func (e *Engine) Comment() string {
	return fmt.Sprintf("%s $TYP$-DT (set by rule '%s@%s')",
		e.Keyword(), e.Rule.DisplayName, e.Rule.HostName)
}

func (e *Engine) filter(t transit.Target) transit.DowntimeFilter {
	f := transit.DowntimeFilter{HostName: t.HostName, Comment: e.Keyword(), Scope: transit.ScopeHost}
	if t.IsService() {
		f.ServiceName, f.Scope = t.ServiceName, transit.ScopeService
	}
	return f
}

func (e *Engine) downtimes(ctx context.Context, ev Evaluation) (transit.Downtimes, error) {
	if ev.Fetched {
		return ev.Downtimes, nil
	}
	return e.API.GetDowntimes(ctx, transit.DowntimeFilter{})
}

func (e *Engine) delay(ctx context.Context) error {
	if e.ReAddDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.ReAddDelay):
		return nil
	}
}

// Run reconciles downtimes of targets with the evaluated condition
// and updates the state of the rule instance
func (e *Engine) Run(ctx context.Context, ev Evaluation, targets transit.Targets, state *statecache.RuleState) (Stats, error) {
	stats := Stats{Targets: len(targets)}
	if ev.Required {
		state.SetNoActiveMaintenance(false)
		state.MaintenanceEndedAt = time.Time{}
		return e.ensure(ctx, ev, targets, state.NormalCheckInterval, stats)
	}

	if state.NoActiveMaintenance != nil && *state.NoActiveMaintenance {
		log.Debug().Str("rule", e.Rule.Key()).Msg("no maintenance, downtimes were removed before")
		return stats, nil
	}

	/* end of maintenance is known only from a kept state, a discarded one has no grace left */
	now := e.timeNow()
	if grace := time.Duration(e.Rule.GraceTime) * time.Second; grace > 0 && state.NoActiveMaintenance != nil {
		if state.MaintenanceEndedAt.IsZero() {
			state.MaintenanceEndedAt = now
		}
		if now.Sub(state.MaintenanceEndedAt) < grace {
			log.Info().Str("rule", e.Rule.Key()).Time("endedAt", state.MaintenanceEndedAt).
				Dur("grace", grace).Msg("maintenance ended, removal postponed")
			return stats, nil
		}
	}
	return e.clear(ctx, ev, targets, state, stats)
}

// clear removes all downtimes of the rule instance by single query
func (e *Engine) clear(ctx context.Context, ev Evaluation, targets transit.Targets, state *statecache.RuleState, stats Stats) (Stats, error) {
	dts, err := e.downtimes(ctx, ev)
	if err != nil {
		return stats, err
	}
	for _, t := range targets {
		if len(dts.Find(e.filter(t))) > 0 {
			stats.Removed++
		}
	}
	log.Info().Str("rule", e.Rule.Key()).Int("targets", stats.Removed).
		Msg("maintenance ended, removing downtimes")
	if err := e.API.DeleteDowntimesByCommentKeyword(ctx, e.Keyword(), time.Time{}); err != nil {
		return stats, err
	}
	state.SetNoActiveMaintenance(true)
	state.MaintenanceEndedAt = time.Time{}
	return stats, nil
}

// ensure adds missing downtimes and extends expiring ones.
// Extension of any target replaces all downtimes of the rule instance.
func (e *Engine) ensure(ctx context.Context, ev Evaluation, targets transit.Targets, checkInterval time.Duration, stats Stats) (Stats, error) {
	dts, err := e.downtimes(ctx, ev)
	if err != nil {
		return stats, err
	}
	now := e.timeNow()

	matches := make([]transit.Downtimes, len(targets))
	extend := false
	for i, t := range targets {
		matches[i] = dts.Find(e.filter(t))
		switch len(matches[i]) {
		case 0:
		case 1:
			if now.After(matches[i][0].End.Add(-2 * checkInterval)) {
				extend = true
			}
		default:
			log.Warn().Str("rule", e.Rule.Key()).Str("target", t.String()).
				Int("downtimes", len(matches[i])).Msg("multiple downtimes on target, skipped")
		}
	}

	var batch []transit.DowntimeTarget
	for i, t := range targets {
		switch {
		case len(matches[i]) == 0:
			stats.Added++
			batch = append(batch, t.AsDowntimeTarget())
		case len(matches[i]) == 1 && extend:
			stats.ReAdded++
			batch = append(batch, t.AsDowntimeTarget())
		}
	}
	if len(batch) == 0 {
		log.Debug().Str("rule", e.Rule.Key()).Msg("downtimes are running long enough")
		return stats, nil
	}

	if extend {
		log.Info().Str("rule", e.Rule.Key()).Msg("extending downtimes, removing all before re-adding")
		if err := e.API.DeleteDowntimesByCommentKeyword(ctx, e.Keyword(), now.Add(-startSlack)); err != nil {
			return stats, err
		}
		if err := e.delay(ctx); err != nil {
			return stats, err
		}
	}

	start := now
	end := start.Add(time.Duration(e.Rule.DefaultDowntime) * time.Minute)
	log.Info().Str("rule", e.Rule.Key()).
		Int("added", stats.Added).Int("readded", stats.ReAdded).
		Time("end", end).Msg("setting downtimes")
	return stats, e.API.SetDowntimes(ctx, e.Comment(), start, end, batch)
}

// AddOne puts single target in downtime,
// existing downtimes of the target are removed after adding if replace is set
func (e *Engine) AddOne(ctx context.Context, t transit.Target, replace bool) error {
	var ids []string
	if replace {
		dts, err := e.API.GetDowntimes(ctx, e.filter(t))
		if err != nil {
			return err
		}
		for _, dt := range dts {
			ids = append(ids, dt.ID)
		}
	}

	comment := e.Comment()
	if len(ids) > 0 {
		comment += " (Replacing " + strings.Join(ids, "/") + ")"
	}
	start := e.timeNow()
	end := start.Add(time.Duration(e.Rule.DefaultDowntime) * time.Minute)
	if err := e.API.SetDowntimes(ctx, comment, start, end, []transit.DowntimeTarget{t.AsDowntimeTarget()}); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := e.delay(ctx); err != nil {
		return err
	}
	log.Info().Str("rule", e.Rule.Key()).Strs("ids", ids).Msg("removing replaced downtimes")
	return e.API.DeleteDowntimes(ctx, ids)
}

// RemoveOne removes downtimes of the rule instance on single target one by one
func (e *Engine) RemoveOne(ctx context.Context, t transit.Target) (int, error) {
	dts, err := e.API.GetDowntimes(ctx, e.filter(t))
	if err != nil {
		return 0, err
	}
	for i, dt := range dts {
		log.Info().Str("rule", e.Rule.Key()).Str("id", dt.ID).Msg("removing downtime")
		if err := e.API.DeleteDowntime(ctx, dt.ID); err != nil {
			return i, err
		}
	}
	return len(dts), nil
}
