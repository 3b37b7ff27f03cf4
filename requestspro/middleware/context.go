package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/razvancmp/go-requests-pro/requestspro/headergen"
)

// RequestContext is the per-call snapshot the pipeline operates on: method,
// target, headers, body, resolved proxy and the attempt counter. It is created
// fresh for every call and discarded once the call resolves, so the pipeline
// is free to rewrite it while following redirects.
type RequestContext struct {
	Method string
	URL    string

	// Headers is the session-level header set; Overrides carries per-call
	// additions, winning on key collision. The pipeline merges the two during
	// validation.
	Headers   *headergen.HeaderSet
	Overrides *headergen.HeaderSet

	// Body is buffered so retries and 307/308 redirects can replay it.
	Body []byte

	// ContentType labels Body when set; cleared when a redirect degrades the
	// request to GET.
	ContentType string

	// Proxy is the resolved proxy for this call, nil for direct.
	Proxy *url.URL

	// Attempt is the 1-based transport invocation counter for the current
	// redirect hop. Maintained by the pipeline.
	Attempt int
}

// EffectiveHeaders returns session headers overlaid with per-call overrides.
func (rc *RequestContext) EffectiveHeaders() *headergen.HeaderSet {
	base := rc.Headers
	if base == nil {
		base = headergen.NewHeaderSet()
	}
	return base.Merge(rc.Overrides)
}

// Response is what a verb method hands back: status, headers, the buffered
// body and how long the exchange took, including retries and redirect hops.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration

	// FinalURL is the URL that produced this response, after any redirects.
	FinalURL string
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Header returns the named response header, or "" when absent.
func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}
