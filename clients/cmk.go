package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/gwos/autodt/config"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/logper"
	"github.com/gwos/autodt/transit"
	"github.com/patrickmn/go-cache"
)

// Define entrypoints for MonitoringAPI
const (
	CMKEntrypointDowntimes      = "/domain-types/downtime/collections/all"
	CMKEntrypointDowntimeDelete = "/domain-types/downtime/actions/delete/invoke"
	CMKEntrypointDowntimeSet    = "/domain-types/downtime/collections/" // + scope
	CMKEntrypointHosts          = "/domain-types/host/collections/all"
	CMKEntrypointServices       = "/domain-types/service/collections/all"
)

const (
	siteLabel     = "cmk/site"
	noMatchMarker = "not match any"
	svcTitlePfx   = "Downtime for service:"
)

// CMKClient implements MonitoringAPI over the site REST API
type CMKClient struct {
	config.Connection
	// URL overrides the REST API root derived from Connection
	URL string
	// BatchSize limits the number of objects in a single query
	BatchSize  int
	HTTPClient *http.Client

	once  sync.Once
	cache *cache.Cache
}

// NewCMKClient returns client for connection
func NewCMKClient(conn config.Connection, batchSize int) *CMKClient {
	return &CMKClient{
		Connection: conn,
		BatchSize:  batchSize,
		HTTPClient: NewHTTPClient(conn),
	}
}

func (client *CMKClient) init() {
	client.once.Do(func() {
		/* responses live for the run, mutations flush the cache */
		client.cache = cache.New(5*time.Minute, 10*time.Minute)
		if client.BatchSize < 1 {
			client.BatchSize = 50
		}
		if client.HTTPClient == nil {
			client.HTTPClient = NewHTTPClient(client.Connection)
		}
	})
}

func (client *CMKClient) apiURL() string {
	if client.URL != "" {
		return strings.TrimSuffix(client.URL, "/")
	}
	return client.BaseURL()
}

type cmkObject[T any] struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Extensions T      `json:"extensions"`
}

type cmkHost struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Parents     []string          `json:"parents"`
	Childs      []string          `json:"childs"`
	Labels      map[string]string `json:"labels"`
}

type cmkService struct {
	DisplayName  string            `json:"display_name"`
	HostName     string            `json:"host_name"`
	HostAlias    string            `json:"host_alias"`
	HostLabels   map[string]string `json:"host_labels"`
	PluginOutput string            `json:"plugin_output"`
	PerfData     string            `json:"perf_data"`
}

type cmkDowntime struct {
	HostName  string `json:"host_name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Comment   string `json:"comment"`
	Author    string `json:"author"`
	IsService yesNo  `json:"is_service"`
}

// yesNo accepts "yes"/"no" strings and booleans
type yesNo bool

func (p *yesNo) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case bool:
		*p = yesNo(v)
	case string:
		*p = yesNo(v == "yes" || v == "true")
	default:
		*p = false
	}
	return nil
}

// ListHosts implements MonitoringAPI.ListHosts,
// hosts without site label are skipped
func (client *CMKClient) ListHosts(ctx context.Context) ([]transit.HostRecord, error) {
	params := url.Values{"columns": {"name", "display_name", "parents", "childs", "labels"}}
	items, err := getCollection[cmkHost](ctx, client, "get_hosts", CMKEntrypointHosts, params)
	if err != nil {
		return nil, err
	}
	res := make([]transit.HostRecord, 0, len(items))
	for _, e := range items {
		site := e.Extensions.Labels[siteLabel]
		if e.Extensions.Name == "" || e.Extensions.DisplayName == "" || site == "" {
			continue
		}
		res = append(res, transit.HostRecord{
			Name:     e.Extensions.Name,
			Alias:    e.Extensions.DisplayName,
			Site:     site,
			Parents:  e.Extensions.Parents,
			Children: e.Extensions.Childs,
		})
	}
	return res, nil
}

// ListServices implements MonitoringAPI.ListServices
func (client *CMKClient) ListServices(ctx context.Context) ([]transit.ServiceRecord, error) {
	params := url.Values{"columns": {"display_name", "host_name", "host_alias", "host_labels"}}
	items, err := getCollection[cmkService](ctx, client, "get_services", CMKEntrypointServices, params)
	if err != nil {
		return nil, err
	}
	res := make([]transit.ServiceRecord, 0, len(items))
	for _, e := range items {
		site := e.Extensions.HostLabels[siteLabel]
		if e.Extensions.DisplayName == "" || e.Extensions.HostName == "" || site == "" {
			continue
		}
		res = append(res, transit.ServiceRecord{
			Name:      e.Extensions.DisplayName,
			HostName:  e.Extensions.HostName,
			HostAlias: e.Extensions.HostAlias,
			Site:      site,
		})
	}
	return res, nil
}

// GetHostState implements StatusAPI.GetHostState
func (client *CMKClient) GetHostState(ctx context.Context, hostName string) (int, bool, error) {
	params := url.Values{
		"columns": {"state"},
		"query":   {Or(Eq("name", hostName)).String()},
	}
	v, ok, err := client.getColumn(ctx, "get_host_state", CMKEntrypointHosts, params, "state")
	if err != nil || !ok {
		return 0, false, err
	}
	return int(v), true, nil
}

// GetServiceState implements StatusAPI.GetServiceState
func (client *CMKClient) GetServiceState(ctx context.Context, hostName, serviceName string) (int, bool, error) {
	params := url.Values{
		"columns": {"state"},
		"query":   {And(Eq("host_name", hostName), Eq("display_name", serviceName)).String()},
	}
	v, ok, err := client.getColumn(ctx, "get_service_state", CMKEntrypointServices, params, "state")
	if err != nil || !ok {
		return 0, false, err
	}
	return int(v), true, nil
}

// GetServiceCheckInterval implements StatusAPI.GetServiceCheckInterval
func (client *CMKClient) GetServiceCheckInterval(ctx context.Context, hostName, serviceName string) (time.Duration, bool, error) {
	params := url.Values{
		"columns": {"check_interval"},
		"query":   {And(Eq("host_name", hostName), Eq("display_name", serviceName)).String()},
	}
	v, ok, err := client.getColumn(ctx, "get_service_check_interval", CMKEntrypointServices, params, "check_interval")
	if err != nil || !ok {
		return 0, false, err
	}
	return time.Duration(v * float64(time.Minute)), true, nil
}

// GetDowntimes implements StatusAPI.GetDowntimes.
// With host but without service only host downtimes are returned.
func (client *CMKClient) GetDowntimes(ctx context.Context, filter transit.DowntimeFilter) (transit.Downtimes, error) {
	params := url.Values{}
	if filter.ServiceName != "" {
		params.Set("service_description", filter.ServiceName)
	} else if filter.HostName != "" {
		params.Set("host_name", filter.HostName)
		if filter.Scope == "" {
			filter.Scope = transit.ScopeHost
		}
	}
	items, err := getCollection[cmkDowntime](ctx, client, "get_downtimes", CMKEntrypointDowntimes, params)
	if err != nil {
		return nil, err
	}
	var res transit.Downtimes
	for _, e := range items {
		start, err := time.Parse(time.RFC3339, e.Extensions.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: get_downtimes: %v", errors.ErrProtocol, err)
		}
		end, err := time.Parse(time.RFC3339, e.Extensions.EndTime)
		if err != nil {
			return nil, fmt.Errorf("%w: get_downtimes: %v", errors.ErrProtocol, err)
		}
		dt := transit.Downtime{
			ID:          e.ID,
			Title:       e.Title,
			HostName:    e.Extensions.HostName,
			ServiceName: filter.ServiceName,
			Start:       start,
			End:         end,
			Comment:     e.Extensions.Comment,
			Author:      e.Extensions.Author,
			Scope:       transit.ScopeHost,
		}
		if e.Extensions.IsService {
			dt.Scope = transit.ScopeService
			if dt.ServiceName == "" {
				dt.ServiceName = strings.TrimSpace(strings.Replace(e.Title, svcTitlePfx, "", 1))
			}
		}
		res = append(res, dt)
	}
	return res.Find(filter), nil
}

// SetDowntimes implements MonitoringAPI.SetDowntimes
func (client *CMKClient) SetDowntimes(ctx context.Context, comment string, start, end time.Time, targets []transit.DowntimeTarget) error {
	client.init()
	var hostExprs, svcExprs []Expr
	for _, t := range targets {
		if t.Scope() == transit.ScopeHost {
			hostExprs = append(hostExprs, Eq("name", t.HostName))
			continue
		}
		for _, s := range t.ServiceNames {
			svcExprs = append(svcExprs, And(Eq("host_name", t.HostName), Eq("display_name", s)))
		}
	}

	for _, batch := range []struct {
		scope transit.Scope
		typ   string
		exprs []Expr
	}{
		{transit.ScopeHost, "Host", hostExprs},
		{transit.ScopeService, "Svc", svcExprs},
	} {
		for _, chunk := range chunks(batch.exprs, client.BatchSize) {
			payload := map[string]string{
				"start_time":    start.Format(time.RFC3339),
				"end_time":      end.Format(time.RFC3339),
				"comment":       strings.ReplaceAll(comment, "$TYP$", batch.typ),
				"downtime_type": string(batch.scope) + "_by_query",
				"query":         Or(chunk...).String(),
			}
			req, err := client.post(ctx, "set_downtimes", CMKEntrypointDowntimeSet+string(batch.scope), payload)
			if err != nil {
				return err
			}
			switch {
			case req.Status == http.StatusUnprocessableEntity &&
				strings.Contains(string(req.Response), noMatchMarker):
				logper.Info(req, "no matches on setting downtimes: %v", errors.ErrNoMatch)
			case req.Status != http.StatusNoContent:
				logper.Error(req.Details(), "could not set downtimes")
				return errors.Protocol("set_downtimes", req.Status, req.Response)
			}
		}
	}
	return nil
}

// DeleteDowntime implements MonitoringAPI.DeleteDowntime
func (client *CMKClient) DeleteDowntime(ctx context.Context, id string) error {
	payload := map[string]string{"delete_type": "by_id", "downtime_id": id}
	return client.deleteDowntimes(ctx, "delete_downtime", payload)
}

// DeleteDowntimes implements MonitoringAPI.DeleteDowntimes
func (client *CMKClient) DeleteDowntimes(ctx context.Context, ids []string) error {
	client.init()
	for _, chunk := range chunks(ids, client.BatchSize) {
		exprs := make([]Expr, 0, len(chunk))
		for _, id := range chunk {
			exprs = append(exprs, Eq("id", id))
		}
		payload := map[string]string{"delete_type": "query", "query": Or(exprs...).String()}
		if err := client.deleteDowntimes(ctx, "delete_downtime_by_ids", payload); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDowntimesByCommentKeyword implements MonitoringAPI.DeleteDowntimesByCommentKeyword
func (client *CMKClient) DeleteDowntimesByCommentKeyword(ctx context.Context, keyword string, until time.Time) error {
	exprs := []Expr{Match("comment", ".*"+keyword)}
	if !until.IsZero() {
		exprs = append(exprs, Le("start_time", strconv.FormatInt(until.Unix(), 10)))
	}
	payload := map[string]string{"delete_type": "query", "query": And(exprs...).String()}
	return client.deleteDowntimes(ctx, "delete_downtime_by_keyword", payload)
}

// FindHostsWithServiceOutput implements MonitoringAPI.FindHostsWithServiceOutput
func (client *CMKClient) FindHostsWithServiceOutput(ctx context.Context, hostName, serviceName, outputRegex string) (map[string]transit.ServiceOutput, error) {
	params := url.Values{
		"columns": {"host_name", "plugin_output", "perf_data"},
		"query": {And(
			Match("host_name", "^"+hostName+"$"),
			Match("display_name", "^"+serviceName+"$"),
			Match("plugin_output", outputRegex),
		).String()},
	}
	items, err := getCollection[cmkService](ctx, client, "find_hosts_having_a_service", CMKEntrypointServices, params)
	if err != nil {
		return nil, err
	}
	res := make(map[string]transit.ServiceOutput, len(items))
	for _, e := range items {
		if e.Extensions.HostName == "" {
			return nil, fmt.Errorf("%w: find_hosts_having_a_service: no data in response", errors.ErrProtocol)
		}
		res[e.Extensions.HostName] = transit.ServiceOutput{
			HostName: e.Extensions.HostName,
			Output:   e.Extensions.PluginOutput,
			PerfData: transit.ParsePerfData(e.Extensions.PerfData),
		}
	}
	return res, nil
}

func (client *CMKClient) deleteDowntimes(ctx context.Context, call string, payload map[string]string) error {
	req, err := client.post(ctx, call, CMKEntrypointDowntimeDelete, payload)
	if err != nil {
		return err
	}
	if req.Status != http.StatusOK && req.Status != http.StatusNoContent {
		logper.Error(req.Details(), "could not delete downtimes")
		return errors.Protocol(call, req.Status, req.Response)
	}
	return nil
}

// getCollection requests collection and checks the value field,
// 204 gives empty collection
func getCollection[T any](ctx context.Context, client *CMKClient, call, entrypoint string, params url.Values) ([]cmkObject[T], error) {
	body, status, err := client.get(ctx, call, entrypoint, params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	var resp struct {
		Value *[]cmkObject[T] `json:"value"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrProtocol, call, err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("%w: %s: no value in response", errors.ErrProtocol, call)
	}
	return *resp.Value, nil
}

// getColumn returns numeric column of the first object in collection
func (client *CMKClient) getColumn(ctx context.Context, call, entrypoint string, params url.Values, column string) (float64, bool, error) {
	body, _, err := client.get(ctx, call, entrypoint, params)
	if err != nil {
		return 0, false, err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", errors.ErrProtocol, call, err)
	}
	value, err := jsonpath.Get("$.value", v)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: no value in response", errors.ErrProtocol, call)
	}
	if items, ok := value.([]any); !ok || len(items) == 0 {
		return 0, false, nil
	}
	data, err := jsonpath.Get("$.value[0].extensions."+column, v)
	if err != nil || data == nil {
		return 0, false, fmt.Errorf("%w: %s: no data in response", errors.ErrProtocol, call)
	}
	switch data := data.(type) {
	case float64:
		return data, true, nil
	case string:
		f, err := strconv.ParseFloat(data, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", errors.ErrProtocol, call, err)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%w: %s: unexpected %s: %v", errors.ErrProtocol, call, column, data)
}

// get sends GET request with response caching,
// any status except 200 and 204 is a protocol error
func (client *CMKClient) get(ctx context.Context, call, entrypoint string, params url.Values) ([]byte, int, error) {
	client.init()
	reqURL := client.apiURL() + entrypoint + BuildQueryParams(params)
	if cached, ok := client.cache.Get(reqURL); ok {
		logper.Debug(map[string]any{"url": reqURL}, "%s: cached response", call)
		return cached.([]byte), http.StatusOK, nil
	}
	req, err := client.sendRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	switch req.Status {
	case http.StatusOK:
		client.cache.SetDefault(reqURL, req.Response)
	case http.StatusNoContent:
	default:
		logper.Error(req.Details(), "could not get %s", call)
		return nil, req.Status, errors.Protocol(call, req.Status, req.Response)
	}
	return req.Response, req.Status, nil
}

func (client *CMKClient) post(ctx context.Context, call, entrypoint string, payload any) (*Req, error) {
	client.init()
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvariant, call, err)
	}
	client.cache.Flush()
	return client.sendRequest(ctx, http.MethodPost, client.apiURL()+entrypoint, body)
}

// sendRequest sends request and classifies transport and auth failures,
// other statuses are checked by callers
func (client *CMKClient) sendRequest(ctx context.Context, httpMethod string, reqURL string, payload []byte) (*Req, error) {
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + client.User + " " + client.Password,
	}
	if payload != nil {
		headers["Content-Type"] = "application/json"
	}
	req := &Req{
		URL:     reqURL,
		Method:  httpMethod,
		Headers: headers,
		Payload: payload,
	}
	err := req.SetClient(client.HTTPClient).SendWithContext(ctx)

	switch {
	case err != nil:
		logper.Error(req, "could not send request")
		if errors.IsErrorConnection(err) || errors.IsErrorTimedOut(err) {
			return nil, fmt.Errorf("%w: %v", errors.ErrTransient, err.Error())
		}
		return nil, err

	case req.Status == 401 || req.Status == 403:
		eee := fmt.Errorf("%w: %v", errors.ErrUnauthorized, string(req.Response))
		req.Err = eee
		logper.Warn(req, "could not send request")
		return nil, eee

	case req.Status == 502 || req.Status == 504:
		eee := fmt.Errorf("%w: %v", errors.ErrGateway, string(req.Response))
		req.Err = eee
		logper.Warn(req, "could not send request")
		return nil, eee
	}
	logper.Debug(req, "send request")
	return req, nil
}
