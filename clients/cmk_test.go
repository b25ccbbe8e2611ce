package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gwos/autodt/config"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/transit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHosts = `{"value":[
 {"id":"db1","extensions":{"name":"db1","display_name":"DB One","parents":[],"childs":["db1-disk","db1-net"],"labels":{"cmk/site":"prod"}}},
 {"id":"db1-disk","extensions":{"name":"db1-disk","display_name":"db1-disk","parents":["db1"],"childs":[],"labels":{"cmk/site":"prod"}}},
 {"id":"orphan","extensions":{"name":"orphan","display_name":"orphan","labels":{}}}
]}`
	testServices = `{"value":[
 {"id":"s1","extensions":{"display_name":"CPU","host_name":"db1","host_alias":"DB One","host_labels":{"cmk/site":"prod"}}},
 {"id":"s2","extensions":{"display_name":"Disk","host_name":"db1-disk","host_alias":"db1-disk","host_labels":{}}}
]}`
	testDowntimes = `{"value":[
 {"id":"11","title":"Downtime for host: db1","extensions":{"host_name":"db1","start_time":"2026-10-17T10:00:00+00:00","end_time":"2026-10-17T10:30:00+00:00","comment":"MAINT#abc Host-DT","author":"automation","is_service":"no"}},
 {"id":"12","title":"Downtime for service: CPU","extensions":{"host_name":"db1","start_time":"2026-10-17T10:00:00+00:00","end_time":"2026-10-17T10:30:00+00:00","comment":"MAINT#abc Svc-DT","author":"automation","is_service":"yes"}},
 {"id":"13","title":"Downtime for host: web1","extensions":{"host_name":"web1","start_time":"2026-10-17T10:00:00+00:00","end_time":"2026-10-17T10:30:00+00:00","comment":"manual","author":"admin","is_service":"no"}}
]}`
)

type cmkRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   map[string]string
	Auth   string
}

type cmkFake struct {
	sync.Mutex
	requests []cmkRequest
	// status answered on POST requests
	postStatus int
	postBody   string
}

func (fake *cmkFake) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := cmkRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Auth: r.Header.Get("Authorization")}
		if r.Method == http.MethodPost {
			b, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.NoError(t, json.Unmarshal(b, &rec.Body))
		}
		fake.Lock()
		fake.requests = append(fake.requests, rec)
		postStatus, postBody := fake.postStatus, fake.postBody
		fake.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/prod/check_mk/api/1.0")
		switch {
		case r.Method == http.MethodPost:
			if postStatus == 0 {
				postStatus = http.StatusNoContent
			}
			w.WriteHeader(postStatus)
			_, _ = w.Write([]byte(postBody))
		case path == CMKEntrypointHosts && r.URL.Query().Get("query") != "":
			_, _ = w.Write([]byte(`{"value":[{"id":"db1","extensions":{"state":1}}]}`))
		case path == CMKEntrypointHosts:
			_, _ = w.Write([]byte(testHosts))
		case path == CMKEntrypointServices && r.URL.Query().Get("columns") == "check_interval":
			_, _ = w.Write([]byte(`{"value":[{"id":"s1","extensions":{"check_interval":1.5}}]}`))
		case path == CMKEntrypointServices && r.URL.Query().Get("columns") == "state":
			_, _ = w.Write([]byte(`{"value":[]}`))
		case path == CMKEntrypointServices && r.URL.Query().Get("columns") == "host_name":
			_, _ = w.Write([]byte(`{"value":[{"id":"s1","extensions":{"host_name":"db1","plugin_output":"OK - maintenance 1","perf_data":"start=1700000000 end=1700003600;;;"}}]}`))
		case path == CMKEntrypointServices:
			_, _ = w.Write([]byte(testServices))
		case path == CMKEntrypointDowntimes:
			_, _ = w.Write([]byte(testDowntimes))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (fake *cmkFake) posts() []cmkRequest {
	fake.Lock()
	defer fake.Unlock()
	var res []cmkRequest
	for _, r := range fake.requests {
		if r.Method == http.MethodPost {
			res = append(res, r)
		}
	}
	return res
}

func newTestClient(t *testing.T, fake *cmkFake, batchSize int) *CMKClient {
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	client := NewCMKClient(config.Connection{User: "automation", Password: "s3cr3t", Timeout: time.Second}, batchSize)
	client.URL = server.URL + "/prod/check_mk/api/1.0"
	return client
}

func TestCMKClient_Inventory(t *testing.T) {
	fake := &cmkFake{}
	client := newTestClient(t, fake, 50)
	ctx := context.Background()

	hosts, err := client.ListHosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []transit.HostRecord{
		{Name: "db1", Alias: "DB One", Site: "prod", Parents: []string{}, Children: []string{"db1-disk", "db1-net"}},
		{Name: "db1-disk", Alias: "db1-disk", Site: "prod", Parents: []string{"db1"}, Children: []string{}},
	}, hosts)

	services, err := client.ListServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []transit.ServiceRecord{
		{Name: "CPU", HostName: "db1", HostAlias: "DB One", Site: "prod"},
	}, services)

	fake.Lock()
	assert.Equal(t, "Bearer automation s3cr3t", fake.requests[0].Auth)
	assert.Equal(t, []string{"name", "display_name", "parents", "childs", "labels"}, fake.requests[0].Query["columns"])
	fake.Unlock()
}

func TestCMKClient_States(t *testing.T) {
	fake := &cmkFake{}
	client := newTestClient(t, fake, 50)
	ctx := context.Background()

	state, ok, err := client.GetHostState(ctx, "db1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, state)

	_, ok, err = client.GetServiceState(ctx, "db1", "CPU")
	require.NoError(t, err)
	assert.False(t, ok)

	nci, ok, err := client.GetServiceCheckInterval(ctx, "db1", "Automated Downtimes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, nci)
}

func TestCMKClient_GetDowntimes(t *testing.T) {
	fake := &cmkFake{}
	client := newTestClient(t, fake, 50)
	ctx := context.Background()

	all, err := client.GetDowntimes(ctx, transit.DowntimeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "CPU", all[1].ServiceName)
	assert.True(t, all[1].IsService())
	assert.Equal(t, time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC), all[0].End.UTC())

	hostOnly, err := client.GetDowntimes(ctx, transit.DowntimeFilter{HostName: "db1"})
	require.NoError(t, err)
	require.Len(t, hostOnly, 1)
	assert.Equal(t, "11", hostOnly[0].ID)

	own, err := client.GetDowntimes(ctx, transit.DowntimeFilter{Comment: "MAINT#abc"})
	require.NoError(t, err)
	assert.Len(t, own, 2)

	/* repeated requests are served from cache */
	fake.Lock()
	cnt := len(fake.requests)
	fake.Unlock()
	_, err = client.GetDowntimes(ctx, transit.DowntimeFilter{})
	require.NoError(t, err)
	fake.Lock()
	assert.Equal(t, cnt, len(fake.requests))
	fake.Unlock()
}

func TestCMKClient_SetDowntimes(t *testing.T) {
	fake := &cmkFake{}
	client := newTestClient(t, fake, 2)
	start := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	err := client.SetDowntimes(context.Background(), "MAINT#abc $TYP$-DT", start, end, []transit.DowntimeTarget{
		{HostName: "h1"}, {HostName: "h2"}, {HostName: "h3"},
		{HostName: "h1", ServiceNames: []string{"CPU"}},
	})
	require.NoError(t, err)

	posts := fake.posts()
	require.Len(t, posts, 3)
	assert.True(t, strings.HasSuffix(posts[0].Path, "/domain-types/downtime/collections/host"))
	assert.Equal(t, "host_by_query", posts[0].Body["downtime_type"])
	assert.Equal(t, "MAINT#abc Host-DT", posts[0].Body["comment"])
	assert.Equal(t, "2026-10-17T10:30:00Z", posts[0].Body["end_time"])
	assert.Equal(t,
		`{"op":"or","expr":[{"op":"=","left":"name","right":"h1"},{"op":"=","left":"name","right":"h2"}]}`,
		posts[0].Body["query"])
	assert.Equal(t,
		`{"op":"or","expr":[{"op":"=","left":"name","right":"h3"}]}`,
		posts[1].Body["query"])
	assert.Equal(t, "service_by_query", posts[2].Body["downtime_type"])
	assert.Equal(t, "MAINT#abc Svc-DT", posts[2].Body["comment"])
	assert.Equal(t,
		`{"op":"or","expr":[{"op":"and","expr":[{"op":"=","left":"host_name","right":"h1"},{"op":"=","left":"display_name","right":"CPU"}]}]}`,
		posts[2].Body["query"])
}

func TestCMKClient_SetDowntimesNoMatch(t *testing.T) {
	fake := &cmkFake{postStatus: http.StatusUnprocessableEntity, postBody: `{"title":"Query did not match any host"}`}
	client := newTestClient(t, fake, 50)
	now := time.Now()
	assert.NoError(t, client.SetDowntimes(context.Background(), "c", now, now.Add(time.Minute),
		[]transit.DowntimeTarget{{HostName: "gone"}}))

	fake.Lock()
	fake.postStatus, fake.postBody = http.StatusInternalServerError, "boom"
	fake.Unlock()
	err := client.SetDowntimes(context.Background(), "c", now, now.Add(time.Minute),
		[]transit.DowntimeTarget{{HostName: "h1"}})
	assert.True(t, errors.Is(err, errors.ErrProtocol))
	assert.Contains(t, err.Error(), "set_downtimes: 500 (boom)")
}

func TestCMKClient_DeleteDowntimes(t *testing.T) {
	fake := &cmkFake{}
	client := newTestClient(t, fake, 2)
	ctx := context.Background()

	require.NoError(t, client.DeleteDowntimes(ctx, []string{"1", "2", "3"}))
	until := time.Unix(1700000000, 0)
	require.NoError(t, client.DeleteDowntimesByCommentKeyword(ctx, "MAINT#abc", until))
	require.NoError(t, client.DeleteDowntime(ctx, "7"))

	posts := fake.posts()
	require.Len(t, posts, 4)
	assert.Equal(t, "query", posts[0].Body["delete_type"])
	assert.Equal(t,
		`{"op":"or","expr":[{"op":"=","left":"id","right":"1"},{"op":"=","left":"id","right":"2"}]}`,
		posts[0].Body["query"])
	assert.Equal(t,
		`{"op":"and","expr":[{"op":"~","left":"comment","right":".*MAINT#abc"},{"op":"<=","left":"start_time","right":"1700000000"}]}`,
		posts[2].Body["query"])
	assert.Equal(t, map[string]string{"delete_type": "by_id", "downtime_id": "7"}, posts[3].Body)

	fake.Lock()
	fake.postStatus = http.StatusBadRequest
	fake.Unlock()
	err := client.DeleteDowntime(ctx, "7")
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}

func TestCMKClient_FindHostsWithServiceOutput(t *testing.T) {
	fake := &cmkFake{}
	client := newTestClient(t, fake, 50)

	res, err := client.FindHostsWithServiceOutput(context.Background(), "db1", "Maint", "maintenance [0-9]")
	require.NoError(t, err)
	require.Contains(t, res, "db1")
	assert.Equal(t, "OK - maintenance 1", res["db1"].Output)
	assert.Equal(t, 1700003600.0, res["db1"].PerfData["end"].Value)

	fake.Lock()
	q := fake.requests[0].Query.Get("query")
	fake.Unlock()
	assert.Contains(t, q, `{"op":"~","left":"host_name","right":"^db1$"}`)
	assert.Contains(t, q, `{"op":"~","left":"plugin_output","right":"maintenance [0-9]"}`)
}

func TestCMKClient_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	client := &CMKClient{URL: server.URL}
	_, err := client.ListHosts(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2}}, chunks([]int{1, 2}, 2))
	assert.Nil(t, chunks([]int{}, 2))
}
