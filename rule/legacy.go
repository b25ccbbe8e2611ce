package rule

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// V1 defines the legacy flat rule shape:
// monitor is a host name or a [host, service, regex, perfdata] tuple,
// dependency_detection and connect_to are positional tuples
type V1 struct {
	DisplayName         string      `yaml:"display_service_name"`
	Monitor             V1Monitor   `yaml:"monitor"`
	MonitorDTs          *bool       `yaml:"monitor_dts"`
	MonitorState1       bool        `yaml:"monitor_state_1"`
	MonitorState2       bool        `yaml:"monitor_state_2"`
	MonitorState3       bool        `yaml:"monitor_state_3"`
	DependencyDetection V1Detection `yaml:"dependency_detection"`
	SearchOpts          *SearchOpts `yaml:"search_opts"`
	ConnectTo           V1ConnectTo `yaml:"connect_to"`
	AutomationUser      string      `yaml:"automation_user"`
	DefaultDowntime     int         `yaml:"default_downtime"`
	GraceTime           int         `yaml:"dt_end_gracetime_s"`
}

// V1Monitor holds the legacy monitor value
type V1Monitor struct {
	Host        string
	Service     string
	OutputRegex string
	UsePerfdata UsePerfdata
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (p *V1Monitor) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&p.Host)
	case yaml.SequenceNode:
		var items []yaml.Node
		if err := value.Decode(&items); err != nil {
			return err
		}
		for i, dst := range []*string{&p.Host, &p.Service, &p.OutputRegex} {
			if i < len(items) {
				if err := items[i].Decode(dst); err != nil {
					return err
				}
			}
		}
		if len(items) > 3 {
			var perf struct {
				Timerange []string `yaml:"timerange"`
				SetDTFlag string   `yaml:"set_dt_flag"`
			}
			if err := items[3].Decode(&perf); err != nil {
				return err
			}
			if len(perf.Timerange) == 2 {
				p.UsePerfdata = UsePerfdata{
					TimerangeStart: perf.Timerange[0],
					TimerangeEnd:   perf.Timerange[1],
					SetDTFlag:      perf.SetDTFlag,
				}
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported monitor value at line %d", value.Line)
}

// V1Detection holds the legacy [mode, params] tuple
type V1Detection struct {
	Mode               DetectionMode
	OptionalIdentifier string
	Targets            []ManualTarget
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (p *V1Detection) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&p.Mode)
	}
	var items []yaml.Node
	if err := value.Decode(&items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if err := items[0].Decode(&p.Mode); err != nil {
		return err
	}
	if len(items) < 2 {
		return nil
	}
	params := items[1]
	switch {
	case p.Mode == SpecifyTargets && params.Kind == yaml.SequenceNode:
		/* [[id, [host_regex, service_regex]], ...] */
		var targets []yaml.Node
		if err := params.Decode(&targets); err != nil {
			return err
		}
		for _, t := range targets {
			var tuple []yaml.Node
			if err := t.Decode(&tuple); err != nil || len(tuple) < 2 {
				return fmt.Errorf("unsupported target at line %d", t.Line)
			}
			var mt ManualTarget
			var regexes []string
			if err := tuple[0].Decode(&mt.ID); err != nil {
				return err
			}
			if err := tuple[1].Decode(&regexes); err != nil {
				return err
			}
			if len(regexes) > 0 {
				mt.HostRegex = regexes[0]
			}
			if len(regexes) > 1 {
				mt.ServiceRegex = regexes[1]
			}
			p.Targets = append(p.Targets, mt)
		}
	case params.Kind == yaml.ScalarNode:
		return params.Decode(&p.OptionalIdentifier)
	}
	return nil
}

// V1ConnectTo holds the legacy [host, port, site, ssl_verify, disable_proxies] tuple
type V1ConnectTo ConnectTo

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (p *V1ConnectTo) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		return value.Decode((*ConnectTo)(p))
	}
	var items []yaml.Node
	if err := value.Decode(&items); err != nil {
		return err
	}
	dst := []any{&p.Host, &p.Port, &p.Site, &p.SSLVerify, &p.DisableProxies}
	for i := range items {
		if i < len(dst) {
			if err := items[i].Decode(dst[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Migrate maps the legacy shape to the current one
func Migrate(v1 V1) Rule {
	r := Defaults()
	r.DisplayName = v1.DisplayName
	r.Monitor = Monitor{
		HostName:    v1.Monitor.Host,
		ServiceName: v1.Monitor.Service,
		OutputRegex: v1.Monitor.OutputRegex,
		UsePerfdata: v1.Monitor.UsePerfdata,
	}
	if v1.MonitorDTs != nil {
		r.ReactOn.Downtimes = *v1.MonitorDTs
	}
	for i, ok := range []bool{v1.MonitorState1, v1.MonitorState2, v1.MonitorState3} {
		if ok {
			r.ReactOn.States = append(r.ReactOn.States, i+1)
		}
	}
	r.Detection = Detection{
		Mode:               v1.DependencyDetection.Mode,
		OptionalIdentifier: v1.DependencyDetection.OptionalIdentifier,
		Targets:            v1.DependencyDetection.Targets,
	}
	if v1.SearchOpts != nil {
		r.SearchOpts = *v1.SearchOpts
	}
	if v1.ConnectTo.Host != "" || v1.ConnectTo.Port != 0 || v1.ConnectTo.Site != "" {
		connectTo := ConnectTo(v1.ConnectTo)
		r.ConnectTo = &connectTo
	}
	r.AutomationUser = v1.AutomationUser
	if v1.DefaultDowntime != 0 {
		r.DefaultDowntime = v1.DefaultDowntime
	}
	r.GraceTime = v1.GraceTime
	return r
}
