package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/razvancmp/go-requests-pro/requestspro/headergen"
	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
)

// step scripts one transport invocation of a fake backend.
type step struct {
	status   int
	location string
	err      error
}

// scriptedTransport replays steps in order and records what each invocation
// saw. The last step repeats once the script runs out.
type scriptedTransport struct {
	steps []step

	methods []string
	urls    []string
	bodies  [][]byte
}

func (s *scriptedTransport) fn(ctx context.Context, rc *middleware.RequestContext) (*middleware.Response, error) {
	s.methods = append(s.methods, rc.Method)
	s.urls = append(s.urls, rc.URL)
	s.bodies = append(s.bodies, rc.Body)

	i := len(s.methods) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	headers := http.Header{}
	if st.location != "" {
		headers.Set("Location", st.location)
	}
	return &middleware.Response{
		StatusCode: st.status,
		Status:     http.StatusText(st.status),
		Headers:    headers,
	}, nil
}

func (s *scriptedTransport) calls() int { return len(s.methods) }

// recordingSleeper captures backoff delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newRequest(method, url string) *middleware.RequestContext {
	return &middleware.RequestContext{Method: method, URL: url, Headers: headergen.NewHeaderSet()}
}

func newPipeline(policy middleware.RetryPolicy, sleeper *recordingSleeper) *middleware.Pipeline {
	return middleware.New(policy, middleware.WithSleeper(sleeper.sleep))
}

func TestExecuteValidation(t *testing.T) {
	p := middleware.New(middleware.DefaultRetryPolicy())
	transport := &scriptedTransport{steps: []step{{status: 200}}}

	for _, rc := range []*middleware.RequestContext{
		newRequest("", "https://example.com/"),
		newRequest(http.MethodGet, ""),
		newRequest(http.MethodGet, "://not-a-url"),
	} {
		_, err := p.Execute(context.Background(), rc, transport.fn)
		if !errors.Is(err, httperrors.ErrConfiguration) {
			t.Errorf("Execute(%q %q) error = %v, want ErrConfiguration", rc.Method, rc.URL, err)
		}
	}
	if transport.calls() != 0 {
		t.Errorf("transport invoked %d times for invalid requests, want 0", transport.calls())
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := newPipeline(middleware.DefaultRetryPolicy(), sleeper)
	transport := &scriptedTransport{steps: []step{{status: 200}}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.FinalURL != "https://example.com/" {
		t.Errorf("FinalURL = %q", resp.FinalURL)
	}
	if transport.calls() != 1 {
		t.Errorf("transport invoked %d times, want 1", transport.calls())
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %d times on a clean first attempt, want 0", len(sleeper.delays))
	}
}

func TestExecuteTransportErrorBudget(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.MaxAttempts = 4

	sleeper := &recordingSleeper{}
	p := newPipeline(policy, sleeper)
	transport := &scriptedTransport{steps: []step{{err: errors.New("connection refused")}}}

	_, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)

	var terr *httperrors.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Execute() error = %v, want TransportError", err)
	}
	if terr.Attempts != 4 {
		t.Errorf("TransportError.Attempts = %d, want 4", terr.Attempts)
	}
	if transport.calls() != 4 {
		t.Errorf("transport invoked %d times, want exactly 4", transport.calls())
	}
	// Backoff runs before each retry, never before the first attempt.
	if len(sleeper.delays) != 3 {
		t.Errorf("slept %d times, want 3", len(sleeper.delays))
	}
	if !errors.Is(err, httperrors.ErrTransport) {
		t.Error("error does not unwrap to ErrTransport")
	}
}

func TestExecuteNonRetryableTransportError(t *testing.T) {
	cause := errors.New("tls handshake rejected")
	sleeper := &recordingSleeper{}
	p := middleware.New(middleware.DefaultRetryPolicy(),
		middleware.WithSleeper(sleeper.sleep),
		middleware.WithRetryableError(func(err error) bool { return false }),
	)
	transport := &scriptedTransport{steps: []step{{err: cause}}}

	_, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if transport.calls() != 1 {
		t.Errorf("transport invoked %d times, want 1", transport.calls())
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not wrap the transport cause", err)
	}
}

func TestExecuteStatusRetry(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.RetryableStatuses = []int{503}
	policy.Strategy = middleware.BackoffExponential
	policy.BaseDelay = 100 * time.Millisecond

	sleeper := &recordingSleeper{}
	p := newPipeline(policy, sleeper)
	transport := &scriptedTransport{steps: []step{{status: 503}, {status: 503}, {status: 200}}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if transport.calls() != 3 {
		t.Errorf("transport invoked %d times, want 3", transport.calls())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleeper.delays) != len(want) || sleeper.delays[0] != want[0] || sleeper.delays[1] != want[1] {
		t.Errorf("backoff delays = %v, want %v", sleeper.delays, want)
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.RetryableStatuses = []int{429}

	sleeper := &recordingSleeper{}
	p := newPipeline(policy, sleeper)
	transport := &scriptedTransport{steps: []step{{status: 429}}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)

	var rerr *httperrors.RetriesExhaustedError
	if !errors.As(err, &rerr) {
		t.Fatalf("Execute() error = %v, want RetriesExhaustedError", err)
	}
	if rerr.Attempts != 3 || rerr.LastStatus != 429 {
		t.Errorf("RetriesExhaustedError = %+v, want attempts 3 status 429", rerr)
	}
	// The last response still comes back for inspection.
	if resp == nil || resp.StatusCode != 429 {
		t.Errorf("response alongside exhaustion = %+v, want the final 429", resp)
	}
	if transport.calls() != 3 {
		t.Errorf("transport invoked %d times, want exactly 3", transport.calls())
	}
}

func TestExecuteNonRetryableStatusReturnedUnchanged(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := newPipeline(middleware.DefaultRetryPolicy(), sleeper)
	transport := &scriptedTransport{steps: []step{{status: 500}}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v, a 500 is data, not an error", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if transport.calls() != 1 || len(sleeper.delays) != 0 {
		t.Errorf("calls = %d, sleeps = %d; want 1 and 0", transport.calls(), len(sleeper.delays))
	}
}

func TestExecuteRedirectDegradesToGet(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := newPipeline(middleware.DefaultRetryPolicy(), sleeper)
	transport := &scriptedTransport{steps: []step{
		{status: 302, location: "/next"},
		{status: 200},
	}}

	rc := newRequest(http.MethodPost, "https://example.com/form")
	rc.Body = []byte("a=1")
	rc.ContentType = "application/x-www-form-urlencoded"
	rc.Headers.Set("Content-Type", rc.ContentType)

	resp, err := p.Execute(context.Background(), rc, transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.FinalURL != "https://example.com/next" {
		t.Errorf("FinalURL = %q, want the resolved redirect target", resp.FinalURL)
	}
	if transport.methods[1] != http.MethodGet {
		t.Errorf("method after 302 = %q, want GET", transport.methods[1])
	}
	if transport.bodies[1] != nil {
		t.Error("body survived a 302, want it dropped")
	}
	if _, ok := rc.Headers.Get("Content-Type"); ok {
		t.Error("Content-Type header survived a 302")
	}
}

func TestExecuteRedirect307PreservesMethodAndBody(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := newPipeline(middleware.DefaultRetryPolicy(), sleeper)
	transport := &scriptedTransport{steps: []step{
		{status: 307, location: "https://other.example.com/submit"},
		{status: 201},
	}}

	rc := newRequest(http.MethodPost, "https://example.com/submit")
	rc.Body = []byte(`{"k":"v"}`)
	rc.ContentType = "application/json"

	resp, err := p.Execute(context.Background(), rc, transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != 201 {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if transport.methods[1] != http.MethodPost {
		t.Errorf("method after 307 = %q, want POST", transport.methods[1])
	}
	if string(transport.bodies[1]) != `{"k":"v"}` {
		t.Errorf("body after 307 = %q, want it preserved", transport.bodies[1])
	}
	if transport.urls[1] != "https://other.example.com/submit" {
		t.Errorf("url after 307 = %q", transport.urls[1])
	}
}

func TestExecuteRedirectLimit(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.MaxRedirects = 2

	sleeper := &recordingSleeper{}
	p := newPipeline(policy, sleeper)
	transport := &scriptedTransport{steps: []step{{status: 302, location: "/loop"}}}

	_, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)

	var rerr *httperrors.TooManyRedirectsError
	if !errors.As(err, &rerr) {
		t.Fatalf("Execute() error = %v, want TooManyRedirectsError", err)
	}
	if rerr.Hops != 2 {
		t.Errorf("Hops = %d, want 2", rerr.Hops)
	}
	// Initial request plus one per allowed hop.
	if transport.calls() != 3 {
		t.Errorf("transport invoked %d times, want 3", transport.calls())
	}
}

func TestExecuteRedirectWinsOverRetry(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.RetryableStatuses = []int{302}

	sleeper := &recordingSleeper{}
	p := newPipeline(policy, sleeper)
	transport := &scriptedTransport{steps: []step{
		{status: 302, location: "/moved"},
		{status: 200},
	}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.FinalURL != "https://example.com/moved" {
		t.Errorf("FinalURL = %q, redirect should win over status retry", resp.FinalURL)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %d times on a followed redirect, want 0", len(sleeper.delays))
	}
}

func TestExecuteAttemptBudgetResetsPerHop(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.MaxAttempts = 2
	policy.RetryableStatuses = []int{503}

	sleeper := &recordingSleeper{}
	p := newPipeline(policy, sleeper)
	transport := &scriptedTransport{steps: []step{
		{status: 503},
		{status: 302, location: "/elsewhere"},
		{status: 503},
		{status: 200},
	}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v, the redirect target gets a fresh attempt budget", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if transport.calls() != 4 {
		t.Errorf("transport invoked %d times, want 4", transport.calls())
	}
}

func TestExecuteRedirectWithoutLocation(t *testing.T) {
	p := middleware.New(middleware.DefaultRetryPolicy())
	transport := &scriptedTransport{steps: []step{{status: 301}}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != 301 || transport.calls() != 1 {
		t.Errorf("a 301 without Location should come back as-is, got status %d after %d calls",
			resp.StatusCode, transport.calls())
	}
}

func TestExecuteRedirectsDisabled(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.FollowRedirects = false

	p := middleware.New(policy)
	transport := &scriptedTransport{steps: []step{{status: 302, location: "/next"}}}

	resp, err := p.Execute(context.Background(), newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != 302 || transport.calls() != 1 {
		t.Errorf("redirects disabled, want the 302 back untouched; got %d after %d calls",
			resp.StatusCode, transport.calls())
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := middleware.New(middleware.DefaultRetryPolicy())
	fn := func(c context.Context, rc *middleware.RequestContext) (*middleware.Response, error) {
		cancel()
		return nil, c.Err()
	}

	_, err := p.Execute(ctx, newRequest(http.MethodGet, "https://example.com/"), fn)
	if !errors.Is(err, httperrors.ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v does not wrap context.Canceled", err)
	}
}

func TestExecuteDeadlineDuringBackoff(t *testing.T) {
	policy := middleware.DefaultRetryPolicy()
	policy.RetryableStatuses = []int{503}
	policy.BaseDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	p := middleware.New(policy, middleware.WithSleeper(func(c context.Context, d time.Duration) error {
		cancel()
		return c.Err()
	}))
	transport := &scriptedTransport{steps: []step{{status: 503}}}

	_, err := p.Execute(ctx, newRequest(http.MethodGet, "https://example.com/"), transport.fn)
	if !errors.Is(err, httperrors.ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout from an aborted backoff", err)
	}
	if transport.calls() != 1 {
		t.Errorf("transport invoked %d times after aborted backoff, want 1", transport.calls())
	}
}

func TestExecuteMergesOverrides(t *testing.T) {
	p := middleware.New(middleware.DefaultRetryPolicy())

	var seen *headergen.HeaderSet
	fn := func(ctx context.Context, rc *middleware.RequestContext) (*middleware.Response, error) {
		seen = rc.Headers
		return &middleware.Response{StatusCode: 200, Headers: http.Header{}}, nil
	}

	rc := newRequest(http.MethodGet, "https://example.com/")
	rc.Headers.Set("User-Agent", "session-ua")
	rc.Headers.Set("Accept", "*/*")
	rc.Overrides = headergen.NewHeaderSet()
	rc.Overrides.Set("Accept", "application/json")
	rc.Overrides.Set("X-Request-Id", "r-1")

	if _, err := p.Execute(context.Background(), rc, fn); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := seen.Value("Accept"); got != "application/json" {
		t.Errorf("Accept = %q, per-call override should win", got)
	}
	if got := seen.Value("User-Agent"); got != "session-ua" {
		t.Errorf("User-Agent = %q, session header should survive", got)
	}
	if got := seen.Value("X-Request-Id"); got != "r-1" {
		t.Errorf("X-Request-Id = %q", got)
	}
}
