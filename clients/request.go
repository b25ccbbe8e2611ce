package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gwos/autodt/config"
	"github.com/gwos/autodt/logper"
)

// HookRequestContext allows to adjust request before sending
var HookRequestContext = func(ctx context.Context, req *http.Request) (context.Context, *http.Request) {
	return ctx, req
}

// NewHTTPClient returns http.Client configured for connection
func NewHTTPClient(conn config.Connection) *http.Client {
	timeout := conn.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !conn.VerifySSL,
		},
		Proxy: http.ProxyFromEnvironment,
	}
	if conn.NoProxy {
		transport.Proxy = nil
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// BuildQueryParams makes the query parameters string,
// multiple values of a key are repeated
func BuildQueryParams(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// Req defines request context
type Req struct {
	Err      error
	Form     map[string]string
	Headers  map[string]string
	Method   string
	Payload  []byte
	Response []byte
	Status   int
	URL      string

	client   *http.Client
	duration time.Duration
}

// SetClient sets http.Client to use
func (q *Req) SetClient(c *http.Client) *Req {
	q.client = c
	return q
}

// Send sends request
func (q *Req) Send() error {
	return q.SendWithContext(context.Background())
}

// SendWithContext sends request
func (q *Req) SendWithContext(ctx context.Context) error {
	var (
		body     = q.Payload
		err      error
		request  *http.Request
		response *http.Response
	)

	urlValues := url.Values{}
	if q.Form != nil {
		for k, v := range q.Form {
			urlValues.Add(k, v)
		}
		body = []byte(urlValues.Encode())
	}

	var bodyBuf io.Reader
	if body != nil {
		bodyBuf = bytes.NewBuffer(body)
	}
	request, err = http.NewRequestWithContext(ctx, q.Method, q.URL, bodyBuf)
	if err != nil {
		q.Status, q.Err = -1, err
		return err
	}
	request.Header.Set("Connection", "close")
	for k, v := range q.Headers {
		request.Header.Add(k, v)
	}
	_, request = HookRequestContext(ctx, request)

	t0 := time.Now()
	if q.client != nil {
		response, err = q.client.Do(request)
	} else {
		response, err = http.DefaultClient.Do(request)
	}
	q.duration = time.Since(t0).Truncate(1 * time.Millisecond)
	if err != nil {
		q.Status, q.Err = -1, err
		return err
	}

	defer response.Body.Close()
	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		q.Status, q.Err = -1, err
		return err
	}
	q.Status, q.Response = response.StatusCode, responseBody
	return nil
}

// Details returns request fields with payload and response included
func (q Req) Details() logper.FieldsProvider {
	return reqDetails(q)
}

// LogFields implements logper.FieldsProvider,
// payload and response are included on failure or with debug enabled
func (q Req) LogFields() (map[string]any, map[string][]byte) {
	return q.logFields(false)
}

type reqDetails Req

func (q reqDetails) LogFields() (map[string]any, map[string][]byte) {
	return Req(q).logFields(true)
}

func (q Req) logFields(forceDetails bool) (map[string]any, map[string][]byte) {
	fields := map[string]any{
		"url":      q.URL,
		"method":   q.Method,
		"status":   q.Status,
		"duration": q.duration.String(),
	}
	if q.Err != nil {
		fields["error"] = q.Err.Error()
	}
	rawJSON := map[string][]byte{}
	if q.Status >= 400 || forceDetails || logper.IsDebugEnabled() {
		if len(q.Headers) > 0 {
			headers := make(map[string]string, len(q.Headers))
			for k, v := range q.Headers {
				if strings.EqualFold(k, "Authorization") {
					v = "***"
				}
				headers[k] = v
			}
			fields["headers"] = headers
		}
		if len(q.Form) > 0 {
			fields["form"] = q.Form
		}
		if len(q.Payload) > 0 {
			if bytes.HasPrefix(q.Payload, []byte(`{`)) {
				rawJSON["payload"] = q.Payload
			} else {
				fields["payload"] = string(q.Payload)
			}
		}
		if len(q.Response) > 0 {
			if bytes.HasPrefix(q.Response, []byte(`{`)) {
				rawJSON["response"] = q.Response
			} else {
				fields["response"] = string(q.Response)
			}
		}
	}
	return fields, rawJSON
}
