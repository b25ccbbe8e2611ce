package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/gwos/autodt/transit"
)

// StatusAPI defines read operations on monitored objects
type StatusAPI interface {
	GetDowntimes(ctx context.Context, filter transit.DowntimeFilter) (transit.Downtimes, error)
	GetHostState(ctx context.Context, hostName string) (int, bool, error)
	GetServiceState(ctx context.Context, hostName, serviceName string) (int, bool, error)
	GetServiceCheckInterval(ctx context.Context, hostName, serviceName string) (time.Duration, bool, error)
}

// MonitoringAPI defines operations of the monitoring site
type MonitoringAPI interface {
	StatusAPI
	ListHosts(ctx context.Context) ([]transit.HostRecord, error)
	ListServices(ctx context.Context) ([]transit.ServiceRecord, error)
	// SetDowntimes puts targets in downtime by query, "$TYP$" in comment
	// is replaced with the scope of each batch
	SetDowntimes(ctx context.Context, comment string, start, end time.Time, targets []transit.DowntimeTarget) error
	DeleteDowntime(ctx context.Context, id string) error
	DeleteDowntimes(ctx context.Context, ids []string) error
	// DeleteDowntimesByCommentKeyword deletes downtimes with comment containing keyword,
	// non-zero until restricts to downtimes started not later
	DeleteDowntimesByCommentKeyword(ctx context.Context, keyword string, until time.Time) error
	FindHostsWithServiceOutput(ctx context.Context, hostName, serviceName, outputRegex string) (map[string]transit.ServiceOutput, error)
}

// Expr defines query expression of REST API
type Expr struct {
	Op    string
	Left  string
	Right string
	Expr  []Expr
}

// Eq returns "=" expression
func Eq(left, right string) Expr { return Expr{Op: "=", Left: left, Right: right} }

// Match returns regex match expression
func Match(left, right string) Expr { return Expr{Op: "~", Left: left, Right: right} }

// Le returns "<=" expression
func Le(left, right string) Expr { return Expr{Op: "<=", Left: left, Right: right} }

// And combines expressions
func And(expr ...Expr) Expr { return Expr{Op: "and", Expr: expr} }

// Or combines expressions
func Or(expr ...Expr) Expr { return Expr{Op: "or", Expr: expr} }

// MarshalJSON implements json.Marshaler interface
func (e Expr) MarshalJSON() ([]byte, error) {
	if e.Op == "and" || e.Op == "or" {
		return marshalQuery(struct {
			Op   string `json:"op"`
			Expr []Expr `json:"expr"`
		}{e.Op, append([]Expr{}, e.Expr...)})
	}
	return marshalQuery(struct {
		Op    string `json:"op"`
		Left  string `json:"left"`
		Right string `json:"right"`
	}{e.Op, e.Left, e.Right})
}

// String returns query string
func (e Expr) String() string {
	b, _ := marshalQuery(e)
	return string(b)
}

// marshalQuery keeps comparison operators unescaped
func marshalQuery(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func chunks[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var res [][]T
	for size < len(items) {
		items, res = items[size:], append(res, items[:size])
	}
	if len(items) > 0 {
		res = append(res, items)
	}
	return res
}
