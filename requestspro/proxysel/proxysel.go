// Package proxysel resolves the proxy to use for a session or request, either
// from an explicit URL or from a file of candidates, with optional round-robin
// rotation.
//
// List files carry one proxy per line, scheme://[user:pass@]host:port. Blank
// lines and #-comments are ignored. Bare host:port[:user:pass] lines are also
// accepted and normalized to http:// URLs.
package proxysel

import (
	"bufio"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
)

// Config describes where proxies come from. Exactly one of URL or Path must be
// set; URL means an explicit single proxy and Path a candidate file.
type Config struct {
	// URL is an explicit proxy, returned unchanged by Select.
	URL string
	// Path points to a proxy list file.
	Path string
	// Rotate switches file-based selection from uniform random to
	// deterministic round-robin.
	Rotate bool
	// Lenient makes malformed lines a logged skip instead of a failure.
	Lenient bool
}

// Explicit reports whether the config names a single proxy directly.
func (c Config) Explicit() bool { return c.URL != "" }

// Selector resolves proxies per the config. Safe for concurrent use; the
// round-robin cursor is mutex-guarded.
type Selector struct {
	cfg     Config
	entries []*url.URL

	mu     sync.Mutex
	cursor int
	rng    *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithRandSeed fixes the random-selection seed, for tests.
func WithRandSeed(seed int64) Option {
	return func(s *Selector) { s.rng = rand.New(rand.NewSource(seed)) }
}

// New builds a Selector, loading and parsing the candidate file up front when
// the config is file-based. Fails with ProxySourceError when the file is
// missing, empty, or yields no parseable entry, and with ProxyFormatError for
// a malformed line in strict mode.
func New(cfg Config, opts ...Option) (*Selector, error) {
	s := &Selector{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Explicit() {
		u, err := parseEntry(cfg.URL)
		if err != nil {
			return nil, &httperrors.ProxyFormatError{Entry: cfg.URL, Reason: err.Error()}
		}
		s.entries = []*url.URL{u}
		return s, nil
	}

	if cfg.Path == "" {
		return nil, &httperrors.ProxySourceError{Source: "", Reason: "no proxy URL or file configured"}
	}
	entries, err := loadFile(cfg.Path, cfg.Lenient)
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

// Select resolves one proxy. Explicit configs return the configured proxy
// unchanged; file-based configs draw uniformly at random, or round-robin when
// rotation is on. The returned URL is a copy the caller may mutate.
func (s *Selector) Select() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()

	var picked *url.URL
	switch {
	case len(s.entries) == 1:
		picked = s.entries[0]
	case s.cfg.Rotate:
		picked = s.entries[s.cursor%len(s.entries)]
		s.cursor++
	default:
		picked = s.entries[s.rng.Intn(len(s.entries))]
	}

	clone := *picked
	if picked.User != nil {
		user := *picked.User
		clone.User = &user
	}
	return &clone
}

// All returns every valid entry the selector holds, in file order.
func (s *Selector) All() []*url.URL {
	out := make([]*url.URL, len(s.entries))
	copy(out, s.entries)
	return out
}

func loadFile(path string, lenient bool) ([]*url.URL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &httperrors.ProxySourceError{Source: path, Reason: err.Error()}
	}
	defer f.Close()

	var entries []*url.URL
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := parseEntry(line)
		if err != nil {
			if !lenient {
				return nil, &httperrors.ProxyFormatError{Line: lineNo, Entry: line, Reason: err.Error()}
			}
			klog.Warningf("proxysel: skipping malformed entry at %s:%d: %v", path, lineNo, err)
			continue
		}
		entries = append(entries, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, &httperrors.ProxySourceError{Source: path, Reason: err.Error()}
	}
	if len(entries) == 0 {
		return nil, &httperrors.ProxySourceError{Source: path, Reason: "no valid proxy entries"}
	}
	return entries, nil
}

var supportedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// parseEntry parses one proxy line. URL-shaped entries go through url.Parse;
// bare host:port[:user:pass] entries are normalized to http:// first.
func parseEntry(entry string) (*url.URL, error) {
	if !strings.Contains(entry, "://") {
		normalized, err := normalizeBare(entry)
		if err != nil {
			return nil, err
		}
		entry = normalized
	}

	u, err := url.Parse(entry)
	if err != nil {
		return nil, err
	}
	if !supportedSchemes[u.Scheme] {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host")
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("missing port")
	}
	return u, nil
}

func normalizeBare(entry string) (string, error) {
	parts := strings.Split(entry, ":")
	switch len(parts) {
	case 2:
		return fmt.Sprintf("http://%s:%s", parts[0], parts[1]), nil
	case 4:
		return fmt.Sprintf("http://%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1]), nil
	default:
		return "", fmt.Errorf("expected host:port or host:port:user:pass, got %d fields", len(parts))
	}
}
