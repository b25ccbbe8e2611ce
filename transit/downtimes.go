package transit

import (
	"fmt"
	"strings"
	"time"
)

// Scope defines downtime scope
type Scope string

// Downtime scopes
const (
	ScopeHost    Scope = "host"
	ScopeService Scope = "service"
)

// Downtime describes scheduled maintenance window on host or service.
// Identity is the ID assigned by the monitoring system.
type Downtime struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	HostName    string    `json:"hostName"`
	ServiceName string    `json:"serviceName,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Comment     string    `json:"comment"`
	Author      string    `json:"author,omitempty"`
	Scope       Scope     `json:"scope"`
}

// IsService checks scope
func (p Downtime) IsService() bool {
	return p.Scope == ScopeService
}

// String implements Stringer interface
func (p Downtime) String() string {
	return fmt.Sprintf("[%s, %s, %s, %s, %s, %s]",
		p.ID, p.Scope, p.HostName, p.ServiceName,
		p.End.Format(time.RFC3339), p.Comment)
}

// Downtimes defines collection
type Downtimes []Downtime

// DowntimeFilter selects downtimes locally,
// empty fields don't restrict
type DowntimeFilter struct {
	HostName    string
	ServiceName string
	Comment     string
	Scope       Scope
}

// Find returns all matching downtimes
func (dd Downtimes) Find(f DowntimeFilter) Downtimes {
	var res Downtimes
	for _, dt := range dd {
		if f.HostName != "" && dt.HostName != f.HostName {
			continue
		}
		if f.ServiceName != "" && dt.ServiceName != f.ServiceName {
			continue
		}
		if f.Comment != "" && !strings.Contains(dt.Comment, f.Comment) {
			continue
		}
		if f.Scope != "" && dt.Scope != f.Scope {
			continue
		}
		res = append(res, dt)
	}
	return res
}

// DowntimeTarget defines an object to put in downtime by query,
// empty ServiceNames means host downtime
type DowntimeTarget struct {
	HostName     string
	ServiceNames []string
}

// Scope returns scope
func (p DowntimeTarget) Scope() Scope {
	if len(p.ServiceNames) == 0 {
		return ScopeHost
	}
	return ScopeService
}
