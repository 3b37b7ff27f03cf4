// Package headergen produces plausible, internally consistent browser header
// sets. The User-Agent is drawn from an explicit profile pool and the
// Client-Hints headers are derived from the same profile record, so version
// and platform never contradict the UA string.
//
// Generation is deterministic when a seed is supplied and randomized
// otherwise. With the default pool the header key set is stable either way;
// pools that mix engines (see GeckoProfiles) emit engine-dependent key sets.
package headergen

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/text/language"

	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
)

// Browser engines a profile can declare. Chromium-derived profiles get the
// Sec-Ch-Ua triplet; Gecko profiles omit it, matching real Firefox traffic.
const (
	EngineChromium = "chromium"
	EngineGecko    = "gecko"
)

// Profile describes one browser identity: the full User-Agent string plus the
// metadata needed to emit matching Client-Hints headers.
type Profile struct {
	Name      string
	UserAgent string
	Engine    string
	Version   string
	Platform  string
	Mobile    bool
}

// DefaultProfiles is the built-in identity pool, matching the Chrome versions
// the TLS backend can impersonate. The default pool is single-engine on
// purpose: mixed-engine pools would make the emitted header key set vary
// between unseeded Generate calls.
var DefaultProfiles = []Profile{
	{Name: "chrome_146", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/146.0.0.0 Safari/537.36", Engine: EngineChromium, Version: "146", Platform: "Windows"},
	{Name: "chrome_144", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36", Engine: EngineChromium, Version: "144", Platform: "Windows"},
	{Name: "chrome_133", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36", Engine: EngineChromium, Version: "133", Platform: "Windows"},
	{Name: "chrome_131", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", Engine: EngineChromium, Version: "131", Platform: "Windows"},
}

// GeckoProfiles are the Firefox identities matching the TLS backend's Firefox
// fingerprints. They omit the Sec-Ch-Ua triplet, so a pool mixing them with
// Chromium profiles trades key-set stability for engine variety; opt in via
// WithPool.
var GeckoProfiles = []Profile{
	{Name: "firefox_147", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:147.0) Gecko/20100101 Firefox/147.0", Engine: EngineGecko, Version: "147", Platform: "Windows"},
	{Name: "firefox_135", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0", Engine: EngineGecko, Version: "135", Platform: "Windows"},
	{Name: "firefox_133", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0", Engine: EngineGecko, Version: "133", Platform: "Windows"},
}

const (
	acceptChromium = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	acceptGecko    = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/png,image/svg+xml,*/*;q=0.8"
)

// Option configures a Generator.
type Option func(*Generator)

// WithPool replaces the default profile pool. Pools are always explicit
// constructor inputs so tests can inject deterministic ones.
func WithPool(pool []Profile) Option {
	return func(g *Generator) { g.pool = pool }
}

// WithSeed makes every Generate call produce the same header set for the same
// seed.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.seed = &seed }
}

// WithLanguages sets the Accept-Language preference order. Tags are validated
// as BCP 47; invalid tags are rejected at construction.
func WithLanguages(tags ...string) Option {
	return func(g *Generator) { g.languages = tags }
}

// WithOverrides overlays fixed headers on every generated set, after the
// profile-derived ones.
func WithOverrides(overrides map[string]string) Option {
	return func(g *Generator) { g.overrides = overrides }
}

// Generator produces HeaderSets from a profile pool. Safe for concurrent use.
type Generator struct {
	pool      []Profile
	seed      *int64
	languages []string
	overrides map[string]string

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Generator. Fails with ConfigurationError when the profile pool
// is empty or an Accept-Language tag does not parse.
func New(opts ...Option) (*Generator, error) {
	g := &Generator{
		pool:      DefaultProfiles,
		languages: []string{"en-US", "en"},
	}
	for _, opt := range opts {
		opt(g)
	}

	if len(g.pool) == 0 {
		return nil, &httperrors.ConfigurationError{Reason: "header profile pool is empty"}
	}
	for _, tag := range g.languages {
		if _, err := language.Parse(tag); err != nil {
			return nil, &httperrors.ConfigurationError{Reason: fmt.Sprintf("invalid Accept-Language tag %q", tag)}
		}
	}

	if g.seed != nil {
		g.rng = rand.New(rand.NewSource(*g.seed))
	} else {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g, nil
}

// Generate returns a fresh header set with a User-Agent drawn from the pool.
// With a seed configured the same profile is chosen every time; without one
// only the pool selection varies between calls, never the key set.
func (g *Generator) Generate() *HeaderSet {
	g.mu.Lock()
	var idx int
	if g.seed != nil {
		// Reset so repeated calls stay reproducible.
		g.rng = rand.New(rand.NewSource(*g.seed))
	}
	idx = g.rng.Intn(len(g.pool))
	g.mu.Unlock()

	return g.fromProfile(g.pool[idx])
}

func (g *Generator) fromProfile(p Profile) *HeaderSet {
	h := NewHeaderSet()
	h.Set("User-Agent", p.UserAgent)
	if p.Engine == EngineChromium {
		h.Set("Accept", acceptChromium)
	} else {
		h.Set("Accept", acceptGecko)
	}
	h.Set("Accept-Language", acceptLanguageValue(g.languages))
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")

	if p.Engine == EngineChromium {
		h.Set("Sec-Ch-Ua", fmt.Sprintf(`"Google Chrome";v="%s", "Chromium";v="%s", "Not)A;Brand";v="99"`, p.Version, p.Version))
		h.Set("Sec-Ch-Ua-Mobile", lo.Ternary(p.Mobile, "?1", "?0"))
		h.Set("Sec-Ch-Ua-Platform", fmt.Sprintf("%q", p.Platform))
	}

	overrideKeys := lo.Keys(g.overrides)
	sort.Strings(overrideKeys) // map iteration order must not leak into header order
	for _, k := range overrideKeys {
		h.Set(k, g.overrides[k])
	}
	return h
}

// acceptLanguageValue renders a q-weighted Accept-Language value from the
// preference order, e.g. "en-US,en;q=0.9".
func acceptLanguageValue(tags []string) string {
	parts := make([]string, 0, len(tags))
	for i, tag := range tags {
		if i == 0 {
			parts = append(parts, tag)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", tag, q))
	}
	return strings.Join(parts, ",")
}
