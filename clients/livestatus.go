package clients

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/logper"
	"github.com/gwos/autodt/transit"
)

const lqDowntimeColumns = "id host_name service_display_name start_time end_time comment author is_service"

// LQClient implements StatusAPI over the local livestatus socket
type LQClient struct {
	SocketPath string
	Timeout    time.Duration
}

// GetDowntimes implements StatusAPI.GetDowntimes.
// Service name matches as substring, without service only host downtimes are returned.
func (client *LQClient) GetDowntimes(ctx context.Context, filter transit.DowntimeFilter) (transit.Downtimes, error) {
	query := "GET downtimes\n"
	if filter.HostName != "" {
		query += "Filter: host_name = " + filter.HostName + "\n"
	}
	query += "Columns: " + lqDowntimeColumns + "\n"
	lines, err := client.exec(ctx, query)
	if err != nil {
		return nil, err
	}

	var res transit.Downtimes
	for _, ln := range lines {
		dt, err := parseLQDowntime(ln)
		if err != nil {
			return nil, err
		}
		if filter.ServiceName != "" {
			if !strings.Contains(dt.ServiceName, filter.ServiceName) {
				continue
			}
		} else if dt.IsService() {
			continue
		}
		res = append(res, dt)
	}
	return res.Find(transit.DowntimeFilter{
		HostName: filter.HostName,
		Comment:  filter.Comment,
		Scope:    filter.Scope,
	}), nil
}

// GetHostState implements StatusAPI.GetHostState
func (client *LQClient) GetHostState(ctx context.Context, hostName string) (int, bool, error) {
	for _, k := range []string{"host_name", "host_display_name"} {
		query := "GET hosts\nFilter: " + k + " = " + hostName + "\nColumns: state\n"
		v, ok, err := client.first(ctx, query)
		if err != nil || ok {
			return int(v), ok, err
		}
	}
	return 0, false, nil
}

// GetServiceState implements StatusAPI.GetServiceState
func (client *LQClient) GetServiceState(ctx context.Context, hostName, serviceName string) (int, bool, error) {
	query := "GET services\nFilter: host_name = " + hostName +
		"\nFilter: display_name = " + serviceName + "\nColumns: state\n"
	v, ok, err := client.first(ctx, query)
	return int(v), ok, err
}

// GetServiceCheckInterval implements StatusAPI.GetServiceCheckInterval
func (client *LQClient) GetServiceCheckInterval(ctx context.Context, hostName, serviceName string) (time.Duration, bool, error) {
	query := "GET services\nFilter: host_name = " + hostName +
		"\nFilter: display_name = " + serviceName + "\nColumns: check_interval\n"
	v, ok, err := client.first(ctx, query)
	return time.Duration(v * float64(time.Minute)), ok, err
}

func (client *LQClient) first(ctx context.Context, query string) (float64, bool, error) {
	lines, err := client.exec(ctx, query)
	if err != nil || len(lines) == 0 {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: livestatus: %v", errors.ErrProtocol, err)
	}
	return v, true, nil
}

// exec sends query and returns response lines,
// the write side is closed to mark the end of query
func (client *LQClient) exec(ctx context.Context, query string) ([]string, error) {
	timeout := client.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", client.SocketPath)
	if err != nil {
		logper.Error(map[string]any{"socket": client.SocketPath, "error": err}, "could not connect livestatus")
		return nil, fmt.Errorf("%w: livestatus: %v", errors.ErrTransient, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(query)); err != nil {
		return nil, fmt.Errorf("%w: livestatus: %v", errors.ErrTransient, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 100*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: livestatus: %v", errors.ErrTransient, err)
	}
	logper.Debug(map[string]any{"query": query, "lines": len(lines)}, "livestatus query")
	return lines, nil
}

// parseLQDowntime parses a record of lqDowntimeColumns,
// the comment may contain separators
func parseLQDowntime(ln string) (transit.Downtime, error) {
	ff := strings.Split(ln, ";")
	if len(ff) < 8 {
		return transit.Downtime{}, fmt.Errorf("%w: livestatus: bad downtime record: %q", errors.ErrProtocol, ln)
	}
	n := len(ff)
	start, err1 := strconv.ParseInt(ff[3], 10, 64)
	end, err2 := strconv.ParseInt(ff[4], 10, 64)
	isSvc, err3 := strconv.Atoi(ff[n-1])
	if err1 != nil || err2 != nil || err3 != nil {
		return transit.Downtime{}, fmt.Errorf("%w: livestatus: bad downtime record: %q", errors.ErrProtocol, ln)
	}
	dt := transit.Downtime{
		ID:          ff[0],
		Title:       "Downtime",
		HostName:    ff[1],
		ServiceName: ff[2],
		Start:       time.Unix(start, 0),
		End:         time.Unix(end, 0),
		Comment:     strings.Join(ff[5:n-2], ";"),
		Author:      ff[n-2],
		Scope:       transit.ScopeHost,
	}
	if isSvc != 0 {
		dt.Scope = transit.ScopeService
	}
	return dt, nil
}
