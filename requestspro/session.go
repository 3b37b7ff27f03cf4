package requestspro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/razvancmp/go-requests-pro/requestspro/headergen"
	"github.com/razvancmp/go-requests-pro/requestspro/instrumentation"
	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
	"github.com/razvancmp/go-requests-pro/requestspro/proxysel"
	"github.com/razvancmp/go-requests-pro/requestspro/transport"
)

// Response is what every verb method returns.
type Response = middleware.Response

// Session is the long-lived client: generated headers, resolved proxy, retry
// policy and a handle to the underlying transport's connection pool. Safe for
// concurrent use; only the cookie jar mutates after construction, and the
// jars serialize their own updates.
type Session struct {
	cfg       ClientConfig
	generator *headergen.Generator
	headers   *headergen.HeaderSet
	selector  *proxysel.Selector
	pipeline  *middleware.Pipeline
	transport transport.Transport
	timeout   time.Duration

	// proxyMu guards proxy, which RotateProxy replaces.
	proxyMu sync.RWMutex
	proxy   *url.URL
}

// requestOptions accumulates per-call overrides.
type requestOptions struct {
	headers     *headergen.HeaderSet
	query       url.Values
	body        []byte
	contentType string
	timeout     time.Duration
}

// RequestOption customizes one call.
type RequestOption func(*requestOptions) error

// WithHeader adds or replaces one header for this call only.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) error {
		if o.headers == nil {
			o.headers = headergen.NewHeaderSet()
		}
		o.headers.Set(key, value)
		return nil
	}
}

// WithHeaders adds per-call headers, winning over session headers on
// collision.
func WithHeaders(h map[string]string) RequestOption {
	return func(o *requestOptions) error {
		if o.headers == nil {
			o.headers = headergen.NewHeaderSet()
		}
		for k, v := range h {
			o.headers.Set(k, v)
		}
		return nil
	}
}

// WithQuery appends query parameters to the request URL.
func WithQuery(params url.Values) RequestOption {
	return func(o *requestOptions) error {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range params {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
		return nil
	}
}

// WithBody sets a raw request body and its content type.
func WithBody(body []byte, contentType string) RequestOption {
	return func(o *requestOptions) error {
		o.body = body
		o.contentType = contentType
		return nil
	}
}

// WithForm sets a URL-encoded form body.
func WithForm(form url.Values) RequestOption {
	return func(o *requestOptions) error {
		o.body = []byte(form.Encode())
		o.contentType = "application/x-www-form-urlencoded"
		return nil
	}
}

// WithJSON marshals v as the request body.
func WithJSON(v any) RequestOption {
	return func(o *requestOptions) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON body: %w", err)
		}
		o.body = raw
		o.contentType = "application/json"
		return nil
	}
}

// WithTimeout overrides the session timeout for this call.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) error {
		o.timeout = d
		return nil
	}
}

// Verb methods. Each builds a fresh RequestContext from session state plus
// per-call overrides and runs it through the middleware pipeline.

func (s *Session) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodGet, url, opts...)
}

func (s *Session) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodPost, url, opts...)
}

func (s *Session) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodPut, url, opts...)
}

func (s *Session) Patch(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodPatch, url, opts...)
}

func (s *Session) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodDelete, url, opts...)
}

func (s *Session) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodHead, url, opts...)
}

func (s *Session) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return s.Do(ctx, http.MethodOptions, url, opts...)
}

// Do performs a request with an explicit method.
func (s *Session) Do(ctx context.Context, method, target string, opts ...RequestOption) (*Response, error) {
	var ro requestOptions
	for _, opt := range opts {
		if err := opt(&ro); err != nil {
			return nil, err
		}
	}

	timeout := s.timeout
	if ro.timeout > 0 {
		timeout = ro.timeout
	}
	if timeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	if len(ro.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + ro.query.Encode()
	}

	rc := &middleware.RequestContext{
		Method:      strings.ToUpper(method),
		URL:         target,
		Headers:     s.sessionHeaders(),
		Overrides:   ro.headers,
		Body:        ro.body,
		ContentType: ro.contentType,
		Proxy:       s.callProxy(),
	}

	return s.pipeline.Execute(ctx, rc, s.transport.Perform)
}

// sessionHeaders returns the headers for the next call: the session set, or a
// fresh generation when per-request headers are configured.
func (s *Session) sessionHeaders() *headergen.HeaderSet {
	if s.cfg.Headers != nil && s.cfg.Headers.PerRequest {
		return s.generator.Generate()
	}
	return s.headers.Clone()
}

// callProxy resolves the proxy for one call. With a rotating file source each
// call draws anew; otherwise the proxy fixed at build time is used.
func (s *Session) callProxy() *url.URL {
	if s.selector != nil && s.cfg.Proxy != nil && s.cfg.Proxy.Rotate {
		return s.selector.Select()
	}
	s.proxyMu.RLock()
	defer s.proxyMu.RUnlock()
	return s.proxy
}

// Headers returns a copy of the session's header set.
func (s *Session) Headers() *headergen.HeaderSet {
	return s.headers.Clone()
}

// Proxy returns the session's current fixed proxy, nil when direct or
// rotating per request.
func (s *Session) Proxy() *url.URL {
	s.proxyMu.RLock()
	defer s.proxyMu.RUnlock()
	return s.proxy
}

// RotateProxy draws a new proxy from the session's source and pins it for
// subsequent calls. No-op semantics require a list-based source.
func (s *Session) RotateProxy(ctx context.Context) error {
	if s.selector == nil {
		return fmt.Errorf("session has no proxy source to rotate")
	}
	next := s.selector.Select()
	s.proxyMu.Lock()
	s.proxy = next
	s.proxyMu.Unlock()
	instrumentation.RecordProxyRotation(ctx)
	klog.V(2).Infof("session: rotated proxy to %s", next.Host)
	return nil
}

// Cookies returns the cookies the jar would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.transport.Jar().Cookies(u)
}

// SetCookies seeds cookies into the session jar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.transport.Jar().SetCookies(u, cookies)
}

// SetCookie seeds a single cookie for the given URL.
func (s *Session) SetCookie(u *url.URL, name, value string) {
	s.transport.Jar().SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// ClearCookies expires every cookie the jar holds for u. Jars cannot be
// enumerated wholesale, so clearing is per-site.
func (s *Session) ClearCookies(u *url.URL) {
	jar := s.transport.Jar()
	current := jar.Cookies(u)
	expired := make([]*http.Cookie, len(current))
	for i, c := range current {
		expired[i] = &http.Cookie{
			Name:    c.Name,
			Value:   "",
			Path:    "/",
			Expires: time.Unix(0, 0),
			MaxAge:  -1,
		}
	}
	jar.SetCookies(u, expired)
}

// Config returns a copy of the config the session was built from.
func (s *Session) Config() ClientConfig { return s.cfg }

// Close releases pooled connections. The session must not be used after.
func (s *Session) Close() {
	s.transport.Close()
}
