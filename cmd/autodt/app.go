package main

import (
	"context"
	"os"
	"time"

	"github.com/gwos/autodt/clients"
	"github.com/gwos/autodt/config"
	"github.com/gwos/autodt/directory"
	"github.com/gwos/autodt/metrics"
	"github.com/gwos/autodt/reconcile"
	"github.com/gwos/autodt/resolver"
	"github.com/gwos/autodt/result"
	"github.com/gwos/autodt/rule"
	"github.com/gwos/autodt/statecache"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
)

type app struct {
	rule rule.Rule
	res  *result.Builder

	api   clients.MonitoringAPI
	local clients.StatusAPI

	dir        *directory.Cache
	states     *statecache.Store
	reAddDelay time.Duration
	metricsDir string

	started time.Time
}

func newApp(cfg *config.Config, r rule.Rule, res *result.Builder) *app {
	api := clients.NewCMKClient(cfg.Connection, cfg.Timing.BatchSize)
	a := &app{
		rule:       r,
		res:        res,
		api:        api,
		dir:        directory.New(cfg.Paths.CacheDir, cfg.Paths.LockFile, cfg.Timing.MaxCacheAge, cfg.Timing.SettleDelay, api),
		states:     statecache.New(cfg.Paths.CacheDir, cfg.Timing.MaxCacheAge),
		reAddDelay: cfg.Timing.ReAddDelay,
		metricsDir: cfg.Paths.MetricsDir,
		started:    time.Now(),
	}
	if _, err := os.Stat(cfg.Paths.LivestatusSocket); err == nil {
		a.local = &clients.LQClient{SocketPath: cfg.Paths.LivestatusSocket, Timeout: cfg.Connection.Timeout}
	} else {
		log.Debug().Err(err).Msg("livestatus socket not available, using REST API")
	}
	return a
}

func (a *app) status() clients.StatusAPI {
	if a.local != nil {
		return a.local
	}
	return a.api
}

func (a *app) engine() *reconcile.Engine {
	return &reconcile.Engine{API: a.api, Rule: a.rule, ReAddDelay: a.reAddDelay}
}

func (a *app) run(ctx context.Context) error {
	key := a.rule.Key()
	fingerprint, err := a.rule.Fingerprint()
	if err != nil {
		return err
	}

	dirInfo := a.dir.Stat()
	var dirTime time.Time
	if dirInfo.Exists && !dirInfo.Expired {
		dirTime = dirInfo.ModTime
	}
	state, stateAge, stateValid := a.states.Load(key, dirTime,
		time.Duration(a.rule.DefaultDowntime)*time.Minute, fingerprint)

	if state.NormalCheckInterval == 0 {
		nci, ok, err := a.status().GetServiceCheckInterval(ctx, a.rule.HostName, a.rule.DisplayName)
		if err != nil {
			return err
		}
		if !ok || nci <= 0 {
			a.res.Summary("! Unexpected result. Can't find myself? Check configuration. See details.").
				Detailf("My host: %s", a.rule.HostName).
				Detailf("My service name %s", a.rule.DisplayName).
				Code(result.Critical)
			return nil
		}
		state.NormalCheckInterval = nci
		if state.ShortLivedRefreshedAt.IsZero() {
			state.ShortLivedRefreshedAt = time.Now()
		}
	}

	if !state.TargetsResolved {
		snapshot, _, err := a.dir.Load(ctx)
		if err != nil {
			return err
		}
		targets, err := resolver.Resolve(a.rule, snapshot)
		if err != nil {
			return err
		}
		state.SetTargets(targets)
	}

	evaluator := &reconcile.Evaluator{Rule: a.rule, API: a.api, Local: a.local}
	ev, err := evaluator.Evaluate(ctx)
	if err != nil {
		return err
	}
	log.Debug().Str("rule", key).Bool("required", ev.Required).Str("reason", string(ev.Reason)).
		Int("targets", len(state.Targets)).Msg("evaluated")
	stats, err := a.engine().Run(ctx, ev, state.Targets, state)
	if err != nil {
		return err
	}

	a.report(ev, state.Targets, stats, stateAge, stateValid, dirInfo)

	if err := a.states.Write(key, state, fingerprint); err != nil {
		return err
	}
	if a.metricsDir != "" {
		m := metrics.New(key)
		m.Observe(metrics.Sample{
			Targets:      stats.Targets,
			Added:        stats.Added,
			ReAdded:      stats.ReAdded,
			Removed:      stats.Removed,
			Maintenance:  ev.Required,
			DirectoryAge: a.dir.Stat().Age,
			StateAge:     stateAge,
			Duration:     time.Since(a.started),
		})
		if err := m.WriteTextfile(a.metricsDir); err != nil {
			log.Warn().Err(err).Str("dir", a.metricsDir).Msg("could not write metrics")
		}
	}
	return nil
}

func (a *app) report(ev reconcile.Evaluation, targets transit.Targets, stats reconcile.Stats,
	stateAge time.Duration, stateValid bool, dirInfo directory.FileInfo) {
	if ev.Required {
		a.res.Summary("Maintenance is active. Reason: %s. %d dependent(s) found.", ev.Reason, len(targets)).
			Detail("Affected hosts and services by this rule:")
	} else {
		a.res.Summary("Maintenance is not active. %d dependent(s) found.", len(targets)).
			Detail("If host enters maintenance these hosts and services are also affected:")
	}
	for _, t := range targets {
		a.res.Detail("- " + t.String())
	}
	if len(targets) == 0 {
		a.res.Detail(resolver.NothingFound(a.rule))
	}
	a.res.Detail("Stats on last run: " + stats.String())
	if stateValid {
		a.res.Detail("Instance cache age: " + result.Age(stateAge))
	} else {
		a.res.Detail("Instance cache age: Just renewed")
	}
	if dirInfo.Exists {
		a.res.Detail("Global cache age: " + result.Age(dirInfo.Age))
	}
	a.res.Code(result.OK)
}

func (a *app) addOne(ctx context.Context, t transit.Target) error {
	if err := a.engine().AddOne(ctx, t, true); err != nil {
		return err
	}
	a.res.Summary("Downtime set on %s", t)
	return nil
}

func (a *app) removeOne(ctx context.Context, t transit.Target) error {
	n, err := a.engine().RemoveOne(ctx, t)
	if err != nil {
		return err
	}
	a.res.Summary("%d downtime(s) removed from %s", n, t)
	return nil
}
