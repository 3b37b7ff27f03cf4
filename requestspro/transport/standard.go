package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
	"k8s.io/klog/v2"

	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
)

// proxyKey carries a per-request proxy override through the request context
// into the http.Transport proxy callback.
type proxyKey struct{}

// Standard performs exchanges with net/http. Redirects are never followed
// here; the pipeline owns that policy.
type Standard struct {
	client *http.Client
}

// NewStandard builds the standard backend with a pooled http.Transport and a
// publicsuffix-aware cookie jar.
func NewStandard(opts Options) (*Standard, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	tr := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if p, ok := req.Context().Value(proxyKey{}).(*url.URL); ok {
				return p, nil
			}
			if opts.Proxy != nil {
				return opts.Proxy, nil
			}
			return http.ProxyFromEnvironment(req)
		},
		ForceAttemptHTTP2: true,
	}
	if opts.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Standard{
		client: &http.Client{
			Transport: tr,
			Jar:       jar,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Perform implements Transport.
func (s *Standard) Perform(ctx context.Context, rc *middleware.RequestContext) (*middleware.Response, error) {
	if rc.Proxy != nil {
		ctx = context.WithValue(ctx, proxyKey{}, rc.Proxy)
	}

	var body io.Reader
	if len(rc.Body) > 0 {
		body = bytes.NewReader(rc.Body)
	}
	req, err := http.NewRequestWithContext(ctx, rc.Method, rc.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to compose request: %w", err)
	}

	headers := rc.EffectiveHeaders()
	for _, k := range headers.Keys() {
		req.Header.Set(k, headers.Value(k))
	}
	if rc.ContentType != "" {
		req.Header.Set("Content-Type", rc.ContentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	klog.V(3).Infof("standard: %s %s -> %s", rc.Method, rc.URL, resp.Status)

	return &middleware.Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Body:       raw,
	}, nil
}

// Jar implements Transport.
func (s *Standard) Jar() http.CookieJar { return s.client.Jar }

// Close implements Transport.
func (s *Standard) Close() {
	if tr, ok := s.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}
