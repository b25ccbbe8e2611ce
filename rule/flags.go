package rule

import (
	"strings"

	"github.com/gwos/autodt/errors"
	"github.com/spf13/pflag"
)

// Flags holds the command line form of a rule
type Flags struct {
	RuleFile string
	Macros   map[string]string

	hostName            string
	displayName         string
	monitorHost         string
	monitorService      string
	monitorServiceRegex string
	perfnameStart       string
	perfnameEnd         string
	perfnameSetDT       string
	monitorState1       bool
	monitorState2       bool
	monitorState3       bool
	monitorDowntimes    bool
	monitorNoDowntimes  bool
	dependencyDetection string
	optionalIdentifier  string
	targets             []string
	caseInsensitive     bool
	noBoundaryMatch     bool
	stripFQDN           bool
	defaultDowntime     int
	graceTime           int
}

// BindFlags registers rule flags
func (f *Flags) BindFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.StringVar(&f.RuleFile, "rule_file", "", "rule file, flags below override its values")
	flags.StringToStringVar(&f.Macros, "macro", nil, "additional macro as NAME=value, $HOSTNAME$ is always defined")

	flags.StringVar(&f.hostName, "host_name", "", "host of this rule instance")
	flags.StringVar(&f.displayName, "display_service_name", "", "service name of this rule instance")
	flags.StringVar(&f.monitorHost, "monitor_host", "", "host to monitor")
	flags.StringVar(&f.monitorService, "monitor_service", "", "service to monitor")
	flags.StringVar(&f.monitorServiceRegex, "monitor_service_regex", "", "regex on monitored service output to trigger downtimes")
	flags.StringVar(&f.perfnameStart, "perfname_start", "", "perfdata name of maintenance start timestamp")
	flags.StringVar(&f.perfnameEnd, "perfname_end", "", "perfdata name of maintenance end timestamp")
	flags.StringVar(&f.perfnameSetDT, "perfname_set_dt", "", "perfdata name of set downtime flag")
	flags.BoolVar(&f.monitorState1, "monitor_state_1", false, "react on WARN/DOWN state")
	flags.BoolVar(&f.monitorState2, "monitor_state_2", false, "react on CRIT/UNREACH state")
	flags.BoolVar(&f.monitorState3, "monitor_state_3", false, "react on UNKNOWN state")
	flags.BoolVar(&f.monitorDowntimes, "monitor_downtimes", d.ReactOn.Downtimes, "react on downtimes")
	flags.BoolVar(&f.monitorNoDowntimes, "monitor_no_downtimes", false, "don't react on downtimes")
	flags.StringVar(&f.dependencyDetection, "dependency_detection", "",
		"fully_automated|search_parent_child|search_child|specify_targets")
	flags.StringVar(&f.optionalIdentifier, "optional_identifier", "", "additional regex on names of dependent services")
	flags.StringArrayVar(&f.targets, "target", nil, "manual target as id,host_regex,service_regex")
	flags.BoolVar(&f.caseInsensitive, "case_insensitive", d.SearchOpts.CaseInsensitive, "case-insensitive search")
	flags.BoolVar(&f.noBoundaryMatch, "no_hostname_boundary_match", !d.SearchOpts.HostnameBoundaryMatch,
		"match host names as substrings")
	flags.BoolVar(&f.stripFQDN, "strip_fqdn", d.SearchOpts.StripFQDN, "strip domain from host names when searching")
	flags.IntVar(&f.defaultDowntime, "default_downtime", d.DefaultDowntime, "downtime duration in minutes")
	flags.IntVar(&f.graceTime, "dt_end_gracetime_s", d.GraceTime, "grace time in seconds before removal of downtimes")
}

// Rule builds rule from the rule file if set and flags changed on command line
func (f *Flags) Rule(flags *pflag.FlagSet) (Rule, error) {
	r := Defaults()
	if f.RuleFile != "" {
		var err error
		if r, err = LoadFile(f.RuleFile); err != nil {
			return r, err
		}
	}
	useFile := f.RuleFile != ""
	changed := func(name string) bool { return !useFile || flags.Changed(name) }
	setStr := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}

	r.HostName = f.hostName
	setStr("display_service_name", &r.DisplayName, f.displayName)
	setStr("monitor_host", &r.Monitor.HostName, f.monitorHost)
	setStr("monitor_service", &r.Monitor.ServiceName, f.monitorService)
	setStr("monitor_service_regex", &r.Monitor.OutputRegex, f.monitorServiceRegex)
	setStr("perfname_start", &r.Monitor.UsePerfdata.TimerangeStart, f.perfnameStart)
	setStr("perfname_end", &r.Monitor.UsePerfdata.TimerangeEnd, f.perfnameEnd)
	setStr("perfname_set_dt", &r.Monitor.UsePerfdata.SetDTFlag, f.perfnameSetDT)

	if changed("monitor_downtimes") {
		r.ReactOn.Downtimes = f.monitorDowntimes
	}
	if f.monitorNoDowntimes {
		r.ReactOn.Downtimes = false
	}
	if changed("monitor_state_1") || changed("monitor_state_2") || changed("monitor_state_3") {
		r.ReactOn.States = nil
		for i, ok := range []bool{f.monitorState1, f.monitorState2, f.monitorState3} {
			if ok {
				r.ReactOn.States = append(r.ReactOn.States, i+1)
			}
		}
	}

	if changed("dependency_detection") {
		r.Detection.Mode = DetectionMode(f.dependencyDetection)
	}
	setStr("optional_identifier", &r.Detection.OptionalIdentifier, f.optionalIdentifier)
	if changed("target") {
		r.Detection.Targets = nil
		for _, t := range f.targets {
			parts := splitTarget(t)
			if len(parts) < 2 || len(parts) > 3 {
				return r, errors.Config("! Bad manual target list, invalid num of arguments")
			}
			mt := ManualTarget{ID: parts[0], HostRegex: parts[1]}
			if len(parts) == 3 {
				mt.ServiceRegex = parts[2]
			}
			r.Detection.Targets = append(r.Detection.Targets, mt)
		}
	}

	if changed("case_insensitive") {
		r.SearchOpts.CaseInsensitive = f.caseInsensitive
	}
	if changed("no_hostname_boundary_match") {
		r.SearchOpts.HostnameBoundaryMatch = !f.noBoundaryMatch
	}
	if changed("strip_fqdn") {
		r.SearchOpts.StripFQDN = f.stripFQDN
	}
	if changed("default_downtime") {
		r.DefaultDowntime = f.defaultDowntime
	}
	if changed("dt_end_gracetime_s") {
		r.GraceTime = f.graceTime
	}

	r = r.Expand(Macros(r.HostName, f.Macros))
	return r, r.Validate()
}

// splitTarget splits "id,host_regex[,service_regex]" on commas
// outside of regex repetition braces, "\," is a literal comma
func splitTarget(s string) []string {
	var (
		parts []string
		sb    strings.Builder
		depth int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == ',':
			sb.WriteByte(',')
			i++
			continue
		case c == '{':
			depth++
		case c == '}' && depth > 0:
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, sb.String())
			sb.Reset()
			continue
		}
		sb.WriteByte(c)
	}
	return append(parts, sb.String())
}
