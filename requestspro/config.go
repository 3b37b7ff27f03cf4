package requestspro

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/text/language"

	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
	"github.com/razvancmp/go-requests-pro/requestspro/transport"
)

// ClientConfig declaratively describes how to build a session. Immutable once
// the session is built; the factory copies what it needs.
type ClientConfig struct {
	// Backend names the transport variant: "standard" or "tls".
	Backend string `json:"backend"`

	Proxy   *ProxyConfig  `json:"proxy,omitempty"`
	TLS     *TLSConfig    `json:"tls,omitempty"`
	Headers *HeaderConfig `json:"headers,omitempty"`
	Retry   *RetryConfig  `json:"retry,omitempty"`

	// Timeout bounds each call, in seconds.
	Timeout float64 `json:"timeout,omitempty"`

	// InsecureSkipVerify disables certificate verification, for debugging
	// through intercepting proxies.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`
}

// Backend names, re-exported so callers don't need the transport package for
// the common case.
const (
	BackendStandard       = transport.KindStandard
	BackendTLSFingerprint = transport.KindTLSFingerprint
)

// Proxy source kinds.
const (
	ProxyTypeDirect = "direct"
	ProxyTypeFile   = "file"
)

// ProxyConfig is either a single explicit proxy or a reference to a list
// file, optionally rotated per request.
type ProxyConfig struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
	Rotate  bool   `json:"rotate,omitempty"`
	Lenient bool   `json:"lenient,omitempty"`
}

// TLSConfig selects the TLS fingerprint for the "tls" backend: a named
// browser profile, or a raw JA3 string with optional HTTP/2 SETTINGS.
type TLSConfig struct {
	Profile       string `json:"profile,omitempty"`
	JA3           string `json:"ja3,omitempty"`
	HTTP2Settings string `json:"http2_settings,omitempty"`
}

// HeaderConfig tunes header generation.
type HeaderConfig struct {
	// Seed makes generation reproducible.
	Seed *int64 `json:"seed,omitempty"`
	// Overrides are fixed headers layered over the generated set.
	Overrides map[string]string `json:"overrides,omitempty"`
	// Languages sets the Accept-Language preference order.
	Languages []string `json:"languages,omitempty"`
	// PerRequest regenerates headers for every call instead of once per
	// session.
	PerRequest bool `json:"per_request,omitempty"`
}

// RetryConfig is the JSON shape of the retry policy.
type RetryConfig struct {
	MaxAttempts       int            `json:"max_attempts,omitempty"`
	Backoff           *BackoffConfig `json:"backoff,omitempty"`
	RetryableStatuses []int          `json:"retryable_statuses,omitempty"`
	FollowRedirects   *bool          `json:"follow_redirects,omitempty"`
	MaxRedirects      *int           `json:"max_redirects,omitempty"`
}

// BackoffConfig shapes the delay between retries. BaseDelay is in seconds and
// optional: when absent the default delay stays in effect, so a config picking
// only a strategy does not silently disable backoff.
type BackoffConfig struct {
	Strategy  string  `json:"strategy,omitempty"`
	BaseDelay *float64 `json:"base_delay,omitempty"`
}

// ParseConfig decodes a JSON client configuration. Unknown fields are
// rejected so typos fail loudly.
func ParseConfig(raw []byte) (ClientConfig, error) {
	var cfg ClientConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return ClientConfig{}, &httperrors.ConfigurationError{Reason: "config does not parse: " + err.Error()}
	}
	return cfg, nil
}

// Validate checks the whole config and reports every offending field, not
// just the first.
func (c ClientConfig) Validate() error {
	var fields []httperrors.FieldError
	add := func(field, reason string) {
		fields = append(fields, httperrors.FieldError{Field: field, Reason: reason})
	}

	if c.Backend == "" {
		add("backend", "required")
	} else if _, ok := transport.Lookup(c.Backend); !ok {
		add("backend", fmt.Sprintf("unrecognized %q (known: %s)", c.Backend, strings.Join(transport.Names(), ", ")))
	}

	if c.Backend == transport.KindTLSFingerprint && c.TLS == nil {
		add("tls", `required when backend is "tls"`)
	}
	if c.TLS != nil {
		if c.Backend != "" && c.Backend != transport.KindTLSFingerprint {
			add("tls", fmt.Sprintf(`only valid with backend "tls", got %q`, c.Backend))
		}
		if c.TLS.JA3 != "" && strings.Count(c.TLS.JA3, ",") != 4 {
			add("tls.ja3", "expected 5 comma-separated fields")
		}
		if c.TLS.Profile != "" && c.TLS.JA3 != "" {
			add("tls.profile", "mutually exclusive with tls.ja3")
		}
		if c.TLS.HTTP2Settings != "" && c.TLS.JA3 == "" {
			add("tls.http2_settings", "requires tls.ja3")
		}
	}

	if c.Proxy != nil {
		switch c.Proxy.Type {
		case ProxyTypeDirect:
			if c.Proxy.URL == "" {
				add("proxy.url", `required when proxy.type is "direct"`)
			}
		case ProxyTypeFile:
			if c.Proxy.Path == "" {
				add("proxy.path", `required when proxy.type is "file"`)
			}
		case "":
			add("proxy.type", "required")
		default:
			add("proxy.type", fmt.Sprintf(`unrecognized %q, want "direct" or "file"`, c.Proxy.Type))
		}
	}

	if c.Headers != nil {
		for _, tag := range c.Headers.Languages {
			if _, err := language.Parse(tag); err != nil {
				add("headers.languages", fmt.Sprintf("invalid BCP 47 tag %q", tag))
			}
		}
	}

	if c.Retry != nil {
		if c.Retry.MaxAttempts < 0 {
			add("retry.max_attempts", fmt.Sprintf("must be >= 1, got %d", c.Retry.MaxAttempts))
		}
		if c.Retry.Backoff != nil {
			if s := c.Retry.Backoff.Strategy; s != "" &&
				s != string(middleware.BackoffFixed) && s != string(middleware.BackoffExponential) {
				add("retry.backoff.strategy", fmt.Sprintf(`unrecognized %q, want "fixed" or "exponential"`, s))
			}
			if d := c.Retry.Backoff.BaseDelay; d != nil && *d < 0 {
				add("retry.backoff.base_delay", "must be >= 0")
			}
		}
		if c.Retry.MaxRedirects != nil && *c.Retry.MaxRedirects < 0 {
			add("retry.max_redirects", "must be >= 0")
		}
		if invalid := lo.Filter(c.Retry.RetryableStatuses, func(s int, _ int) bool {
			return s < 100 || s > 599
		}); len(invalid) > 0 {
			add("retry.retryable_statuses", fmt.Sprintf("not HTTP status codes: %v", invalid))
		}
	}

	if c.Timeout < 0 {
		add("timeout", "must be >= 0")
	}

	if len(fields) > 0 {
		return &httperrors.InvalidConfigError{Fields: fields}
	}
	return nil
}

// retryPolicy materializes the retry config over the package defaults.
func (c ClientConfig) retryPolicy() middleware.RetryPolicy {
	policy := middleware.DefaultRetryPolicy()
	r := c.Retry
	if r == nil {
		return policy
	}
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.Backoff != nil {
		if r.Backoff.Strategy != "" {
			policy.Strategy = middleware.BackoffStrategy(r.Backoff.Strategy)
		}
		if r.Backoff.BaseDelay != nil {
			policy.BaseDelay = time.Duration(*r.Backoff.BaseDelay * float64(time.Second))
		}
	}
	policy.RetryableStatuses = r.RetryableStatuses
	if r.FollowRedirects != nil {
		policy.FollowRedirects = *r.FollowRedirects
	}
	if r.MaxRedirects != nil {
		policy.MaxRedirects = *r.MaxRedirects
	}
	return policy
}

// timeout returns the per-call timeout as a duration.
func (c ClientConfig) timeout() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}
