package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sync"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"k8s.io/klog/v2"

	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
)

// DefaultTLSProfile is used when neither a profile name nor a JA3 string is
// configured.
const DefaultTLSProfile = "chrome_146"

// namedProfiles maps config profile names to tls-client browser profiles. The
// names line up with the header generator's identity pool so the TLS
// handshake and the User-Agent tell the same story.
var namedProfiles = map[string]profiles.ClientProfile{
	"chrome_146":  profiles.Chrome_146,
	"chrome_144":  profiles.Chrome_144,
	"chrome_133":  profiles.Chrome_133,
	"chrome_131":  profiles.Chrome_131,
	"firefox_147": profiles.Firefox_147,
	"firefox_135": profiles.Firefox_135,
	"firefox_133": profiles.Firefox_133,
}

// ProfileNames returns the recognized TLS profile names, for config
// validation error messages.
func ProfileNames() []string {
	names := make([]string, 0, len(namedProfiles))
	for name := range namedProfiles {
		names = append(names, name)
	}
	return names
}

// httpExchanger is the slice of tls_client.HttpClient the backend calls.
type httpExchanger interface {
	Do(req *fhttp.Request) (*fhttp.Response, error)
	SetProxy(proxyURL string) error
	CloseIdleConnections()
}

// TLSFingerprint performs exchanges through bogdanfinn/tls-client so the TLS
// ClientHello and HTTP/2 fingerprint match a real browser, or a custom JA3
// when one is configured.
type TLSFingerprint struct {
	client httpExchanger
	jar    fhttp.CookieJar

	// tls-client pins the proxy on the client, not the request, so a request
	// that switches the proxy must hold the exchange lock exclusively for the
	// whole round trip. Requests reusing the current proxy share a read lock
	// and run concurrently.
	proxyMu      sync.RWMutex
	currentProxy string
}

// NewTLSFingerprint builds the TLS-spoofing backend. Profile selection order:
// raw JA3 (+ optional HTTP/2 settings) when present, then the named profile,
// then DefaultTLSProfile.
func NewTLSFingerprint(opts Options) (*TLSFingerprint, error) {
	profile, err := resolveProfile(opts)
	if err != nil {
		return nil, err
	}

	jar := tls_client.NewCookieJar()
	clientOptions := []tls_client.HttpClientOption{
		tls_client.WithClientProfile(profile),
		tls_client.WithCookieJar(jar),
		tls_client.WithNotFollowRedirects(),
	}
	if opts.Timeout > 0 {
		clientOptions = append(clientOptions, tls_client.WithTimeoutSeconds(int(opts.Timeout.Seconds())))
	}
	if opts.JA3 == "" {
		// Randomized extension order only makes sense for library-known
		// fingerprints; a custom JA3 states the exact order.
		clientOptions = append(clientOptions, tls_client.WithRandomTLSExtensionOrder())
	}
	if opts.InsecureSkipVerify {
		clientOptions = append(clientOptions, tls_client.WithInsecureSkipVerify())
	}

	t := &TLSFingerprint{jar: jar}
	if opts.Proxy != nil {
		clientOptions = append(clientOptions, tls_client.WithProxyUrl(opts.Proxy.String()))
		t.currentProxy = opts.Proxy.String()
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS client: %w", err)
	}
	t.client = client
	return t, nil
}

func resolveProfile(opts Options) (profiles.ClientProfile, error) {
	if opts.JA3 != "" {
		profile, err := profileFromJA3(opts.JA3, opts.H2Settings)
		if err != nil {
			return profiles.ClientProfile{}, &httperrors.ConfigurationError{Reason: err.Error()}
		}
		return profile, nil
	}

	name := opts.Profile
	if name == "" {
		name = DefaultTLSProfile
	}
	profile, ok := namedProfiles[name]
	if !ok {
		return profiles.ClientProfile{}, &httperrors.ConfigurationError{
			Reason: fmt.Sprintf("unknown TLS profile %q (known: %v)", name, ProfileNames()),
		}
	}
	return profile, nil
}

// Perform implements Transport.
func (t *TLSFingerprint) Perform(ctx context.Context, rc *middleware.RequestContext) (*middleware.Response, error) {
	var body io.Reader
	if len(rc.Body) > 0 {
		body = bytes.NewReader(rc.Body)
	}
	fReq, err := fhttp.NewRequestWithContext(ctx, rc.Method, rc.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to compose request: %w", err)
	}

	headers := rc.EffectiveHeaders()
	order := make([]string, 0, headers.Len())
	for _, k := range headers.Keys() {
		fReq.Header.Set(k, headers.Value(k))
		order = append(order, k)
	}
	if rc.ContentType != "" {
		fReq.Header.Set("Content-Type", rc.ContentType)
		order = append(order, "Content-Type")
	}
	// fhttp sends headers in this order, which is part of the fingerprint.
	fReq.Header[fhttp.HeaderOrderKey] = order

	fResp, err := t.exchange(rc.Proxy, fReq)
	if err != nil {
		return nil, err
	}
	defer fResp.Body.Close()

	raw, err := io.ReadAll(fResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	klog.V(3).Infof("tls: %s %s -> %s", rc.Method, rc.URL, fResp.Status)

	header := make(http.Header, len(fResp.Header))
	for k, v := range fResp.Header {
		header[k] = v
	}

	return &middleware.Response{
		StatusCode: fResp.StatusCode,
		Status:     fResp.Status,
		Headers:    header,
		Body:       raw,
	}, nil
}

// exchange runs the round trip under the proxy lock. A request needing a
// proxy switch takes the write lock for the whole exchange so no concurrent
// request can leave through the wrong proxy; requests on the current proxy
// only share a read lock.
func (t *TLSFingerprint) exchange(proxy *neturl.URL, req *fhttp.Request) (*fhttp.Response, error) {
	if proxy == nil {
		return t.client.Do(req)
	}
	want := proxy.String()

	t.proxyMu.RLock()
	if want == t.currentProxy {
		defer t.proxyMu.RUnlock()
		return t.client.Do(req)
	}
	t.proxyMu.RUnlock()

	t.proxyMu.Lock()
	defer t.proxyMu.Unlock()
	if want != t.currentProxy {
		if err := t.client.SetProxy(want); err != nil {
			return nil, fmt.Errorf("failed to set proxy: %w", err)
		}
		t.currentProxy = want
	}
	return t.client.Do(req)
}

// Jar implements Transport, bridging the fhttp jar to net/http.
func (t *TLSFingerprint) Jar() http.CookieJar { return &cookieJarAdapter{jar: t.jar} }

// Close implements Transport.
func (t *TLSFingerprint) Close() { t.client.CloseIdleConnections() }

// cookieJarAdapter converts between net/http and fhttp cookie types so both
// backends expose the same http.CookieJar surface.
type cookieJarAdapter struct {
	jar fhttp.CookieJar
}

func (w *cookieJarAdapter) SetCookies(u *neturl.URL, cookies []*http.Cookie) {
	fCookies := make([]*fhttp.Cookie, len(cookies))
	for i, c := range cookies {
		fCookies[i] = &fhttp.Cookie{
			Name:       c.Name,
			Value:      c.Value,
			Path:       c.Path,
			Domain:     c.Domain,
			Expires:    c.Expires,
			RawExpires: c.RawExpires,
			MaxAge:     c.MaxAge,
			Secure:     c.Secure,
			HttpOnly:   c.HttpOnly,
			SameSite:   fhttp.SameSite(c.SameSite),
			Raw:        c.Raw,
			Unparsed:   c.Unparsed,
		}
	}
	w.jar.SetCookies(u, fCookies)
}

func (w *cookieJarAdapter) Cookies(u *neturl.URL) []*http.Cookie {
	fCookies := w.jar.Cookies(u)
	cookies := make([]*http.Cookie, len(fCookies))
	for i, fc := range fCookies {
		cookies[i] = &http.Cookie{
			Name:       fc.Name,
			Value:      fc.Value,
			Path:       fc.Path,
			Domain:     fc.Domain,
			Expires:    fc.Expires,
			RawExpires: fc.RawExpires,
			MaxAge:     fc.MaxAge,
			Secure:     fc.Secure,
			HttpOnly:   fc.HttpOnly,
			SameSite:   http.SameSite(fc.SameSite),
			Raw:        fc.Raw,
			Unparsed:   fc.Unparsed,
		}
	}
	return cookies
}
