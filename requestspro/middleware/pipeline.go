// Package middleware wraps a single outgoing request with cross-cutting
// policy: validation, retry with backoff, and redirect following. It is
// independent of which backend performs the transport; the backend is handed
// in as a closure.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
	"github.com/razvancmp/go-requests-pro/requestspro/instrumentation"
)

// TransportFn performs the actual backend-specific I/O for one attempt.
type TransportFn func(ctx context.Context, rc *RequestContext) (*Response, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the default klog-backed logger.
func WithLogger(log logr.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithSleeper replaces the backoff sleep, for tests that want to observe
// sleeps without waiting them out. The sleeper must honor ctx cancellation.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithRetryableError replaces the predicate deciding which transport errors
// are retryable. The default retries everything except context cancellation
// and deadline expiry.
func WithRetryableError(f func(error) bool) Option {
	return func(p *Pipeline) { p.retryableErr = f }
}

// Pipeline executes requests under a RetryPolicy. Stateless across calls and
// safe for concurrent use; backoff sleeps block only the calling request.
type Pipeline struct {
	policy       RetryPolicy
	log          logr.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	retryableErr func(error) bool
}

// New builds a Pipeline for the given policy.
func New(policy RetryPolicy, opts ...Option) *Pipeline {
	p := &Pipeline{
		policy:       policy,
		log:          klog.Background(),
		sleep:        sleepCtx,
		retryableErr: defaultRetryableError,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the pipeline's retry policy.
func (p *Pipeline) Policy() RetryPolicy { return p.policy }

// Execute runs one logical request through validation, the transport, and the
// retry/redirect policy.
//
// A response with a status the policy was not told to treat as retryable is
// returned unchanged, whatever the code; judging "bad" statuses is the
// caller's business. When retryable statuses exhaust the attempt budget the
// last response is returned alongside a RetriesExhaustedError. Redirect
// following takes precedence over status-based retry when both apply.
func (p *Pipeline) Execute(ctx context.Context, rc *RequestContext, transport TransportFn) (*Response, error) {
	if err := validate(rc); err != nil {
		return nil, err
	}

	// Merge once up front; redirect rewrites below keep the merged set.
	rc.Headers = rc.EffectiveHeaders()
	rc.Overrides = nil

	start := time.Now()
	hops := 0
	rc.Attempt = 0

	for {
		rc.Attempt++

		tracer := instrumentation.StartRequest(ctx, rc.Method, rc.URL)
		resp, err := transport(ctx, rc)
		if resp != nil {
			tracer.End(resp.StatusCode, err)
		} else {
			tracer.End(0, err)
		}

		if err != nil {
			if ctxErr := asTimeout(ctx, err); ctxErr != nil {
				return nil, ctxErr
			}
			if rc.Attempt < p.policy.MaxAttempts && p.retryableErr(err) {
				p.log.V(1).Info("retrying after transport error",
					"method", rc.Method, "url", rc.URL, "attempt", rc.Attempt, "cause", err.Error())
				instrumentation.RecordRetry(ctx, "transport_error", rc.Attempt)
				if serr := p.backoff(ctx, rc.Attempt); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, &httperrors.TransportError{Attempts: rc.Attempt, Cause: err}
		}

		resp.Elapsed = time.Since(start)
		resp.FinalURL = rc.URL

		// Redirect-following wins over status-based retry.
		if location, redirect := redirectTarget(resp, rc.URL); redirect && p.policy.FollowRedirects {
			if hops >= p.policy.MaxRedirects {
				return nil, &httperrors.TooManyRedirectsError{Hops: hops, Location: location}
			}
			hops++
			p.log.V(2).Info("following redirect",
				"status", resp.StatusCode, "location", location, "hop", hops)
			instrumentation.RecordRedirect(ctx, resp.StatusCode, location)
			rewriteForRedirect(rc, resp.StatusCode, location)
			continue
		}

		if p.policy.StatusRetryable(resp.StatusCode) {
			if rc.Attempt >= p.policy.MaxAttempts {
				return resp, &httperrors.RetriesExhaustedError{Attempts: rc.Attempt, LastStatus: resp.StatusCode}
			}
			p.log.V(1).Info("retrying after retryable status",
				"method", rc.Method, "url", rc.URL, "attempt", rc.Attempt, "status", resp.StatusCode)
			instrumentation.RecordRetry(ctx, "retryable_status", rc.Attempt)
			if serr := p.backoff(ctx, rc.Attempt); serr != nil {
				return nil, serr
			}
			continue
		}

		return resp, nil
	}
}

func validate(rc *RequestContext) error {
	if rc.Method == "" {
		return &httperrors.ConfigurationError{Reason: "request method is empty"}
	}
	if rc.URL == "" {
		return &httperrors.ConfigurationError{Reason: "request URL is empty"}
	}
	if _, err := url.ParseRequestURI(rc.URL); err != nil {
		return &httperrors.ConfigurationError{Reason: "request URL does not parse: " + err.Error()}
	}
	return nil
}

// backoff sleeps before retry number n. Sleeps are context-aware so a caller
// deadline aborts pending retries immediately.
func (p *Pipeline) backoff(ctx context.Context, n int) error {
	d := p.policy.Delay(n)
	if err := p.sleep(ctx, d); err != nil {
		return &httperrors.TimeoutError{Cause: err}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func asTimeout(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &httperrors.TimeoutError{Cause: err}
	}
	if ctx.Err() != nil {
		return &httperrors.TimeoutError{Cause: ctx.Err()}
	}
	return nil
}

func defaultRetryableError(err error) bool {
	return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
}

// redirectTarget reports whether the response asks for a redirect we can
// follow, resolving a relative Location against the current URL. A 3xx
// without a Location is returned to the caller as-is.
func redirectTarget(resp *Response, current string) (string, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", false
	}
	location := resp.Headers.Get("Location")
	if location == "" {
		return "", false
	}
	base, err := url.Parse(current)
	if err != nil {
		return location, true
	}
	target, err := url.Parse(location)
	if err != nil {
		return location, true
	}
	return base.ResolveReference(target).String(), true
}

// rewriteForRedirect mutates the context for the next hop. 307/308 preserve
// method and body; the rest degrade to GET with an empty body, per standard
// redirect semantics. The attempt budget starts over for the new target.
func rewriteForRedirect(rc *RequestContext, status int, location string) {
	rc.URL = location
	rc.Attempt = 0
	if status == http.StatusTemporaryRedirect || status == http.StatusPermanentRedirect {
		return
	}
	if rc.Method != http.MethodGet && rc.Method != http.MethodHead {
		rc.Method = http.MethodGet
	}
	rc.Body = nil
	rc.ContentType = ""
	rc.Headers.Delete("Content-Type")
	rc.Headers.Delete("Content-Length")
}
