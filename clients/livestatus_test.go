package clients

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/transit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveLivestatus answers queries with the result of reply
func serveLivestatus(t *testing.T, reply func(query string) string) string {
	socketPath := filepath.Join(t.TempDir(), "live")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var query strings.Builder
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					query.WriteString(scanner.Text() + "\n")
				}
				_, _ = conn.Write([]byte(reply(query.String())))
			}(conn)
		}
	}()
	return socketPath
}

func TestLQClient_GetDowntimes(t *testing.T) {
	var gotQuery string
	socketPath := serveLivestatus(t, func(query string) string {
		gotQuery = query
		return "1;db1;;1700000000;1700001800;MAINT#abc; Host-DT;automation;0\n" +
			"2;db1;CPU load;1700000000;1700001800;manual;admin;1\n"
	})
	client := &LQClient{SocketPath: socketPath, Timeout: time.Second}

	dts, err := client.GetDowntimes(context.Background(), transit.DowntimeFilter{HostName: "db1"})
	require.NoError(t, err)
	assert.Equal(t, "GET downtimes\nFilter: host_name = db1\nColumns: "+lqDowntimeColumns+"\n", gotQuery)
	require.Len(t, dts, 1)
	assert.Equal(t, "1", dts[0].ID)
	assert.Equal(t, "MAINT#abc; Host-DT", dts[0].Comment)
	assert.Equal(t, "automation", dts[0].Author)
	assert.Equal(t, time.Unix(1700001800, 0), dts[0].End)

	dts, err = client.GetDowntimes(context.Background(), transit.DowntimeFilter{HostName: "db1", ServiceName: "CPU"})
	require.NoError(t, err)
	require.Len(t, dts, 1)
	assert.Equal(t, "CPU load", dts[0].ServiceName)
	assert.True(t, dts[0].IsService())
}

func TestLQClient_States(t *testing.T) {
	socketPath := serveLivestatus(t, func(query string) string {
		switch {
		case strings.Contains(query, "Columns: check_interval"):
			return "5\n"
		case strings.HasPrefix(query, "GET hosts\nFilter: host_name = db1"):
			return "1\n"
		default:
			return ""
		}
	})
	client := &LQClient{SocketPath: socketPath, Timeout: time.Second}
	ctx := context.Background()

	state, ok, err := client.GetHostState(ctx, "db1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, state)

	_, ok, err = client.GetHostState(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = client.GetServiceState(ctx, "db1", "CPU")
	require.NoError(t, err)
	assert.False(t, ok)

	nci, ok, err := client.GetServiceCheckInterval(ctx, "db1", "Automated Downtimes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, nci)
}

func TestLQClient_NoSocket(t *testing.T) {
	client := &LQClient{SocketPath: filepath.Join(t.TempDir(), "missing")}
	_, _, err := client.GetHostState(context.Background(), "db1")
	assert.True(t, errors.Is(err, errors.ErrTransient))
}

func TestParseLQDowntime(t *testing.T) {
	_, err := parseLQDowntime("1;db1;;x;1;c;a;0")
	assert.True(t, errors.Is(err, errors.ErrProtocol))
	_, err = parseLQDowntime("1;db1")
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}
