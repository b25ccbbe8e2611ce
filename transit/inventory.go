package transit

import (
	"fmt"
	"net"
	"strings"
)

// HostRecord describes a monitored host with its topology edges.
// Identity is the Name.
type HostRecord struct {
	Name     string   `json:"name"`
	Alias    string   `json:"alias"`
	Site     string   `json:"site"`
	Parents  []string `json:"parents,omitempty"`
	Children []string `json:"children,omitempty"`
}

// String implements Stringer interface
func (p HostRecord) String() string {
	return fmt.Sprintf("[%s, %s, %s, %v, %v]",
		p.Name, p.Alias, p.Site, p.Parents, p.Children)
}

// ServiceRecord describes a monitored service.
// Identity is the pair (HostName, Name), the host is referenced by name only.
type ServiceRecord struct {
	Name      string `json:"name"`
	HostName  string `json:"hostName"`
	HostAlias string `json:"hostAlias"`
	Site      string `json:"site"`
}

// String implements Stringer interface
func (p ServiceRecord) String() string {
	return fmt.Sprintf("[%s, %s]", p.HostName, p.Name)
}

// StripFQDN returns the first label of a dotted name,
// dotted IPv4 addresses are returned unchanged
func StripFQDN(fqdn string) string {
	parts := strings.Split(fqdn, ".")
	if len(parts) == 4 && net.ParseIP(fqdn).To4() != nil {
		return fqdn
	}
	return parts[0]
}
