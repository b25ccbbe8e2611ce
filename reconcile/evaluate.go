package reconcile

import (
	"context"
	"slices"
	"time"

	"github.com/gwos/autodt/clients"
	"github.com/gwos/autodt/rule"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
)

// Reason names the condition that requires maintenance
type Reason string

// Reasons in order of priority
const (
	ReasonUnknown  Reason = "?"
	ReasonDowntime Reason = "Downtime"
	ReasonOutput   Reason = "Plugin-output"
	ReasonState    Reason = "State"
)

// PerfdataSlack widens the maintenance window read from perfdata
const PerfdataSlack = 10 * time.Minute

// Evaluation is the maintenance condition of the reference
type Evaluation struct {
	Required bool
	Reason   Reason
	// Downtimes holds all downtimes if they were fetched from site during evaluation
	Downtimes transit.Downtimes
	Fetched   bool
}

// Evaluator checks the reference host or service of a rule
type Evaluator struct {
	Rule rule.Rule
	API  clients.MonitoringAPI
	// Local is used when the rule monitors its own host, nil falls back to API
	Local clients.StatusAPI

	now func() time.Time
}

func (e *Evaluator) timeNow() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Evaluator) useLocal() bool {
	return e.Local != nil && e.Rule.MonitorsItself()
}

func (e *Evaluator) status() clients.StatusAPI {
	if e.useLocal() {
		return e.Local
	}
	return e.API
}

// Evaluate checks downtimes, then output, then state of the reference.
// The first matching condition wins, state is checked only as fallback.
func (e *Evaluator) Evaluate(ctx context.Context) (Evaluation, error) {
	by, err := e.Rule.MaintenanceBy()
	if err != nil {
		return Evaluation{}, err
	}
	m := e.Rule.Monitor
	ev := Evaluation{Reason: ReasonUnknown}

	switch {
	case e.Rule.ReactOn.Downtimes && (by == rule.ByHost || m.OutputRegex == ""):
		ev.Reason = ReasonDowntime
		filter := transit.DowntimeFilter{HostName: m.HostName, Scope: transit.ScopeHost}
		if by == rule.ByService {
			filter.ServiceName, filter.Scope = m.ServiceName, transit.ScopeService
		}
		if err := e.checkDowntimes(ctx, filter, &ev); err != nil {
			return ev, err
		}

	case by == rule.ByService && m.OutputRegex != "":
		ev.Reason = ReasonOutput
		res, err := e.API.FindHostsWithServiceOutput(ctx, m.HostName, m.ServiceName, m.OutputRegex)
		if err != nil {
			return ev, err
		}
		ev.Required = len(res) != 0
		if ev.Required && m.UsePerfdata.IsSet() {
			ev.Required = e.inPerfdataWindow(res)
		}
	}

	if !ev.Required && len(e.Rule.ReactOn.States) > 0 {
		ev.Reason = ReasonState
		var (
			state int
			ok    bool
		)
		if by == rule.ByHost {
			state, ok, err = e.status().GetHostState(ctx, m.HostName)
		} else {
			state, ok, err = e.status().GetServiceState(ctx, m.HostName, m.ServiceName)
		}
		if err != nil {
			return ev, err
		}
		ev.Required = ok && slices.Contains(e.Rule.ReactOn.States, state)
		log.Debug().Int("state", state).Bool("found", ok).Msg("state of monitored")
	}

	log.Debug().Str("rule", e.Rule.Key()).Bool("required", ev.Required).
		Str("reason", string(ev.Reason)).Msg("maintenance evaluated")
	return ev, nil
}

func (e *Evaluator) checkDowntimes(ctx context.Context, filter transit.DowntimeFilter, ev *Evaluation) error {
	if e.useLocal() {
		dts, err := e.Local.GetDowntimes(ctx, filter)
		if err != nil {
			return err
		}
		ev.Required = len(dts) > 0
		return nil
	}
	dts, err := e.API.GetDowntimes(ctx, transit.DowntimeFilter{})
	if err != nil {
		return err
	}
	ev.Downtimes, ev.Fetched = dts, true
	ev.Required = len(dts.Find(filter)) > 0
	return nil
}

// inPerfdataWindow checks the maintenance window carried by perfdata
func (e *Evaluator) inPerfdataWindow(res map[string]transit.ServiceOutput) bool {
	p := e.Rule.Monitor.UsePerfdata
	now := e.timeNow()
	for hostName, out := range res {
		start, ok1 := out.PerfData[p.TimerangeStart]
		end, ok2 := out.PerfData[p.TimerangeEnd]
		if !ok1 || !ok2 || !start.Numeric || !end.Numeric {
			log.Warn().Str("host", hostName).Interface("perfdata", out.PerfData).
				Msg("maintenance window not found in perfdata")
			continue
		}
		if p.SetDTFlag != "" {
			if flag, ok := out.PerfData[p.SetDTFlag]; !ok || !flag.Numeric || flag.Value == 0 {
				continue
			}
		}
		from := time.Unix(int64(start.Value), 0).Add(-PerfdataSlack)
		till := time.Unix(int64(end.Value), 0).Add(PerfdataSlack)
		if !now.Before(from) && !now.After(till) {
			return true
		}
	}
	return false
}
