package transit

import "fmt"

// Target defines resolved object that receives downtime
// when the reference condition is active
type Target struct {
	Label       string `json:"label"`
	HostName    string `json:"hostName"`
	ServiceName string `json:"serviceName,omitempty"`
}

// IsService checks target kind
func (p Target) IsService() bool {
	return p.ServiceName != ""
}

// Key returns identity pair
func (p Target) Key() TargetKey {
	return TargetKey{p.HostName, p.ServiceName}
}

// String implements Stringer interface
func (p Target) String() string {
	if p.IsService() {
		return fmt.Sprintf("Service '%s' on host '%s' (%s)", p.ServiceName, p.HostName, p.Label)
	}
	return fmt.Sprintf("Host '%s' (%s)", p.HostName, p.Label)
}

// AsDowntimeTarget converts
func (p Target) AsDowntimeTarget() DowntimeTarget {
	if p.IsService() {
		return DowntimeTarget{HostName: p.HostName, ServiceNames: []string{p.ServiceName}}
	}
	return DowntimeTarget{HostName: p.HostName}
}

// TargetKey defines target identity
type TargetKey struct {
	HostName    string
	ServiceName string
}

// Targets defines collection
type Targets []Target

// Dedup removes duplicates by (host, service) keeping the first-seen label
func (tt Targets) Dedup() Targets {
	seen := make(map[TargetKey]struct{}, len(tt))
	res := make(Targets, 0, len(tt))
	for _, t := range tt {
		if _, ok := seen[t.Key()]; ok {
			continue
		}
		seen[t.Key()] = struct{}{}
		res = append(res, t)
	}
	return res
}
