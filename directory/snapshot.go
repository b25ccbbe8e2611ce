package directory

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gwos/autodt/transit"
)

// WordBound is the boundary class of host name matching
const WordBound = `(\b|_| |$)`

// Snapshot is the topology captured by one rebuild,
// it is read-only once built
type Snapshot struct {
	HostsByName       map[string]transit.HostRecord
	HostsByAlias      map[string]transit.HostRecord
	HostsByNameLower  map[string][]string
	HostsByAliasLower map[string][]string
	Services          []transit.ServiceRecord
	CapturedAt        time.Time
}

// NewSnapshot builds indexes over inventory
func NewSnapshot(hosts []transit.HostRecord, services []transit.ServiceRecord, capturedAt time.Time) *Snapshot {
	s := &Snapshot{
		HostsByName:       make(map[string]transit.HostRecord, len(hosts)),
		HostsByAlias:      make(map[string]transit.HostRecord, len(hosts)),
		HostsByNameLower:  make(map[string][]string, len(hosts)),
		HostsByAliasLower: make(map[string][]string, len(hosts)),
		Services:          services,
		CapturedAt:        capturedAt,
	}
	for _, h := range hosts {
		s.HostsByName[h.Name] = h
		s.HostsByAlias[h.Alias] = h
		s.HostsByNameLower[strings.ToLower(h.Name)] = appendUniq(s.HostsByNameLower[strings.ToLower(h.Name)], h.Name)
		s.HostsByAliasLower[strings.ToLower(h.Alias)] = appendUniq(s.HostsByAliasLower[strings.ToLower(h.Alias)], h.Name)
	}
	return s
}

func appendUniq(ss []string, s string) []string {
	if slices.Contains(ss, s) {
		return ss
	}
	return append(ss, s)
}

// CompilePattern returns regexp matching at the start of input.
// Unanchored fragments get "any characters" prefix to search substrings.
func CompilePattern(fragment string, caseInsensitive, boundary bool) (*regexp.Regexp, error) {
	if !strings.HasPrefix(fragment, "^") {
		fragment = ".*" + fragment
	}
	if boundary {
		fragment = WordBound + fragment + WordBound
	}
	expr := "^(?:" + fragment + ")"
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

// lookup returns hosts by exact name or alias,
// case insensitive lookup goes through lowercase indexes
func (s *Snapshot) lookup(name string, caseInsensitive bool) []transit.HostRecord {
	var res []transit.HostRecord
	if caseInsensitive {
		lower := strings.ToLower(name)
		for _, n := range append(slices.Clone(s.HostsByNameLower[lower]), s.HostsByAliasLower[lower]...) {
			if h, ok := s.HostsByName[n]; ok {
				res = append(res, h)
			}
		}
		return res
	}
	if h, ok := s.HostsByName[name]; ok {
		res = append(res, h)
	}
	if h, ok := s.HostsByAlias[name]; ok {
		res = append(res, h)
	}
	return res
}

// FindHosts returns names of hosts matching the pattern
func (s *Snapshot) FindHosts(pattern string, caseInsensitive bool) ([]string, error) {
	re, err := CompilePattern(pattern, caseInsensitive, false)
	if err != nil {
		return nil, err
	}
	var res []string
	for name := range s.HostsByName {
		if re.MatchString(name) {
			res = append(res, name)
		}
	}
	slices.Sort(res)
	return res, nil
}

// FindSimilarHosts returns hosts with name or alias containing the name,
// the host with exactly this name is excluded
func (s *Snapshot) FindSimilarHosts(name string, caseInsensitive, boundary bool) ([]string, error) {
	var match func(string) bool
	if boundary {
		re, err := CompilePattern(name, caseInsensitive, true)
		if err != nil {
			return nil, err
		}
		match = re.MatchString
	} else if caseInsensitive {
		lower := strings.ToLower(name)
		match = func(v string) bool { return strings.Contains(strings.ToLower(v), lower) }
	} else {
		match = func(v string) bool { return strings.Contains(v, name) }
	}

	var res []string
	for _, h := range s.HostsByName {
		if h.Name != name && (match(h.Name) || match(h.Alias)) {
			res = append(res, h.Name)
		}
	}
	slices.Sort(res)
	return res, nil
}

// Children returns transitive children of the host,
// each host is expanded once and the host itself is never included.
// caseInsensitive applies to the host only, recorded child names are looked up as is.
func (s *Snapshot) Children(name string, caseInsensitive bool) []string {
	var (
		res      []string
		visited  = map[string]bool{name: true}
		frontier = []string{name}
	)
	for first := true; len(frontier) > 0; first = false {
		current := frontier[0]
		frontier = frontier[1:]
		for _, h := range s.lookup(current, first && caseInsensitive) {
			visited[h.Name] = true
			for _, child := range h.Children {
				if visited[child] {
					continue
				}
				visited[child] = true
				res = append(res, child)
				frontier = append(frontier, child)
			}
		}
	}
	return res
}

// Parents returns direct parents of the host
func (s *Snapshot) Parents(name string, caseInsensitive bool) []string {
	var res []string
	for _, h := range s.lookup(name, caseInsensitive) {
		for _, p := range h.Parents {
			res = appendUniq(res, p)
		}
	}
	return res
}

// ServiceQuery selects services
type ServiceQuery struct {
	// NamePattern is matched with boundary rules when Boundary is set
	NamePattern        string
	OptionalIdentifier string
	// HostPattern restricts hosts, empty matches all
	HostPattern     string
	CaseInsensitive bool
	Boundary        bool
}

// FindServices returns (host, service) pairs with service name matching
// the name pattern or the optional identifier
func (s *Snapshot) FindServices(q ServiceQuery) ([]transit.TargetKey, error) {
	reName, err := CompilePattern(q.NamePattern, q.CaseInsensitive, q.Boundary)
	if err != nil {
		return nil, err
	}
	var reOpt, reHost *regexp.Regexp
	if q.OptionalIdentifier != "" {
		if reOpt, err = CompilePattern(q.OptionalIdentifier, q.CaseInsensitive, false); err != nil {
			return nil, err
		}
	}
	if q.HostPattern != "" {
		if reHost, err = CompilePattern(q.HostPattern, q.CaseInsensitive, false); err != nil {
			return nil, err
		}
	}

	var (
		res  []transit.TargetKey
		seen = map[transit.TargetKey]bool{}
	)
	for _, svc := range s.Services {
		if !reName.MatchString(svc.Name) && (reOpt == nil || !reOpt.MatchString(svc.Name)) {
			continue
		}
		if reHost != nil && !reHost.MatchString(svc.HostName) {
			continue
		}
		key := transit.TargetKey{HostName: svc.HostName, ServiceName: svc.Name}
		if !seen[key] {
			seen[key] = true
			res = append(res, key)
		}
	}
	return res, nil
}
