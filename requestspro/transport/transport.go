// Package transport holds the backend capability the client abstraction is
// polymorphic over, plus the two concrete variants: a standard net/http
// backend and a TLS-fingerprint-spoofing backend built on
// github.com/bogdanfinn/tls-client.
//
// New backends implement Transport and register a Builder under a backend
// name; nothing else in the library changes.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
)

// Backend names built in.
const (
	KindStandard       = "standard"
	KindTLSFingerprint = "tls"
)

// Transport is the single capability a backend must provide. Perform executes
// exactly one exchange: no retries and no redirect following, that policy lives
// in the middleware pipeline. Implementations must be safe for concurrent use.
type Transport interface {
	Perform(ctx context.Context, rc *middleware.RequestContext) (*middleware.Response, error)

	// Jar exposes the backend's cookie jar so sessions can read and seed
	// cookies across requests.
	Jar() http.CookieJar

	// Close releases pooled connections.
	Close()
}

// Options configures a backend builder.
type Options struct {
	// Timeout bounds a single exchange. Zero means no client-level timeout;
	// callers can still bound calls with a context deadline.
	Timeout time.Duration

	// Proxy is the session-level proxy, overridable per request through
	// RequestContext.Proxy.
	Proxy *url.URL

	// Profile names a browser identity for the TLS backend (e.g.
	// "chrome_146"). Ignored by the standard backend.
	Profile string

	// JA3 is a raw ClientHello fingerprint string; when set it takes
	// precedence over Profile. TLS backend only.
	JA3 string

	// H2Settings carries HTTP/2 SETTINGS in "id:value;id:value" wire order,
	// used together with JA3. TLS backend only.
	H2Settings string

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool
}

// Builder constructs a Transport from Options.
type Builder func(Options) (Transport, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Builder)
)

// Register adds a backend builder under a name. Registration is validated so
// bad entries fail fast, at init rather than at first call.
func Register(name string, b Builder) error {
	if name == "" {
		return fmt.Errorf("transport: backend name is empty")
	}
	if b == nil {
		return fmt.Errorf("transport: nil builder for backend %q", name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		return fmt.Errorf("transport: backend %q already registered", name)
	}
	registry[name] = b
	return nil
}

// Lookup returns the builder for a backend name.
func Lookup(name string) (Builder, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[name]
	return b, ok
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	if err := Register(KindStandard, func(opts Options) (Transport, error) {
		return NewStandard(opts)
	}); err != nil {
		panic(err)
	}
	if err := Register(KindTLSFingerprint, func(opts Options) (Transport, error) {
		return NewTLSFingerprint(opts)
	}); err != nil {
		panic(err)
	}
}
