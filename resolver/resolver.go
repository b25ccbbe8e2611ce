// Package resolver builds the list of targets affected by maintenance of a rule instance.
package resolver

import (
	"fmt"
	"regexp"

	"github.com/gwos/autodt/directory"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/rule"
	"github.com/gwos/autodt/transit"
	"github.com/rs/zerolog/log"
)

// Target labels
const (
	LabelMyself           = "Auto-detected host itself"
	LabelSimilarHost      = "Similar hostname"
	LabelChildPrefix      = "Auto-detected child host "
	LabelDependentService = "Auto-detected dependent service"
	LabelServiceOnParent  = "Auto-detected dependent service on parent"
	DefaultNoMatchTag     = "***"
)

// Directory provides lookups over topology
type Directory interface {
	FindHosts(pattern string, caseInsensitive bool) ([]string, error)
	FindSimilarHosts(name string, caseInsensitive, boundary bool) ([]string, error)
	Children(name string, caseInsensitive bool) []string
	Parents(name string, caseInsensitive bool) []string
	FindServices(q directory.ServiceQuery) ([]transit.TargetKey, error)
}

// builder accumulates targets of a rule
type builder struct {
	dir  Directory
	opts rule.SearchOpts
	res  transit.Targets
}

func (b *builder) name(hostName string) string {
	if b.opts.StripFQDN {
		return transit.StripFQDN(hostName)
	}
	return hostName
}

func (b *builder) addMyself(hostName string) {
	b.res = append(b.res, transit.Target{Label: LabelMyself, HostName: hostName})
}

func (b *builder) addSimilarHosts(hostName string) error {
	hosts, err := b.dir.FindSimilarHosts(b.name(hostName), b.opts.CaseInsensitive, b.opts.HostnameBoundaryMatch)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		b.res = append(b.res, transit.Target{Label: LabelSimilarHost, HostName: h})
	}
	return nil
}

func (b *builder) addChildren(hostName string) {
	for _, ch := range b.dir.Children(hostName, b.opts.CaseInsensitive) {
		b.res = append(b.res, transit.Target{Label: LabelChildPrefix + ch, HostName: ch})
	}
}

func (b *builder) addDependentServices(hostName, optionalIdentifier string) error {
	keys, err := b.dir.FindServices(directory.ServiceQuery{
		NamePattern:        b.name(hostName),
		OptionalIdentifier: optionalIdentifier,
		CaseInsensitive:    b.opts.CaseInsensitive,
		Boundary:           b.opts.HostnameBoundaryMatch,
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		b.res = append(b.res, transit.Target{Label: LabelDependentService, HostName: k.HostName, ServiceName: k.ServiceName})
	}
	return nil
}

// addServicesOnParents adds services of parent hosts
// with name matching the host name or the optional identifier
func (b *builder) addServicesOnParents(hostName, optionalIdentifier string) error {
	for _, parent := range b.dir.Parents(hostName, b.opts.CaseInsensitive) {
		keys, err := b.dir.FindServices(directory.ServiceQuery{
			NamePattern:        b.name(hostName),
			OptionalIdentifier: optionalIdentifier,
			HostPattern:        "^" + regexp.QuoteMeta(parent) + "$",
			CaseInsensitive:    b.opts.CaseInsensitive,
			Boundary:           b.opts.HostnameBoundaryMatch,
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			b.res = append(b.res, transit.Target{Label: LabelServiceOnParent, HostName: k.HostName, ServiceName: k.ServiceName})
		}
	}
	return nil
}

// addManual adds hosts matching host regex if service regex is empty,
// otherwise services matching service regex on hosts matching host regex
func (b *builder) addManual(t rule.ManualTarget) error {
	if t.ServiceRegex == "" {
		hosts, err := b.dir.FindHosts(t.HostRegex, b.opts.CaseInsensitive)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			b.res = append(b.res, transit.Target{Label: t.ID, HostName: h})
		}
		return nil
	}
	keys, err := b.dir.FindServices(directory.ServiceQuery{
		NamePattern:     t.ServiceRegex,
		HostPattern:     t.HostRegex,
		CaseInsensitive: b.opts.CaseInsensitive,
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		b.res = append(b.res, transit.Target{Label: t.ID, HostName: k.HostName, ServiceName: k.ServiceName})
	}
	return nil
}

// Resolve returns deduplicated targets of the rule.
// Returns errors.ConfigError on bad detection mode or manual targets.
func Resolve(r rule.Rule, dir Directory) (transit.Targets, error) {
	by, err := r.MaintenanceBy()
	if err != nil {
		return nil, err
	}
	b := &builder{dir: dir, opts: r.SearchOpts}
	hostName, optID := r.HostName, r.Detection.OptionalIdentifier

	switch r.Detection.Mode {
	case rule.FullyAutomated:
		if by == rule.ByService {
			b.addMyself(hostName)
		}
		if err := b.addSimilarHosts(hostName); err != nil {
			return nil, badPattern(err)
		}
		b.addChildren(hostName)
		if err := b.addDependentServices(hostName, optID); err != nil {
			return nil, badPattern(err)
		}

	case rule.SearchParentChild:
		b.addMyself(hostName)
		if err := b.addDependentServices(hostName, optID); err != nil {
			return nil, badPattern(err)
		}
		b.addChildren(hostName)
		if err := b.addServicesOnParents(hostName, optID); err != nil {
			return nil, badPattern(err)
		}

	case rule.SearchChild:
		b.addMyself(hostName)
		b.addChildren(hostName)

	case rule.SpecifyTargets:
		for _, t := range r.Detection.Targets {
			if t.HostRegex == "" {
				return nil, errors.Config("! Bad manual target list, host always required")
			}
			if err := b.addManual(t); err != nil {
				return nil, badPattern(err)
			}
		}
		if len(b.res) == 0 {
			if len(r.Detection.Targets) == 0 {
				return nil, errors.Config("! Manual target list, but no targets defined or no targets found")
			}
			return nil, errors.Config("! Manual target list, but no targets defined or no targets found (%d configured)",
				len(r.Detection.Targets))
		}

	default:
		return nil, errors.Config("! Invalid mode for --dependency_detection")
	}

	res := b.res.Dedup()
	log.Debug().Str("rule", r.Key()).Str("mode", string(r.Detection.Mode)).
		Int("found", len(b.res)).Int("targets", len(res)).Msg("target list built")
	return res, nil
}

func badPattern(err error) error {
	return errors.Config("! Bad search pattern: %v", err)
}

// NoMatchTag returns the tag around the "nothing found" marker,
// it is empty if finding nothing is the expected outcome
func NoMatchTag(r rule.Rule) string {
	if r.Detection.Mode == rule.FullyAutomated &&
		r.MonitorsItself() && r.Detection.OptionalIdentifier == "" {
		return ""
	}
	return DefaultNoMatchTag
}

// NothingFound returns the "nothing found" detail line
func NothingFound(r rule.Rule) string {
	tag := NoMatchTag(r)
	return fmt.Sprintf("%s NOTHING FOUND. Nobody seems to be dependant on this host %s", tag, tag)
}
