package requestspro

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/razvancmp/go-requests-pro/requestspro/headergen"
	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
	"github.com/razvancmp/go-requests-pro/requestspro/proxysel"
	"github.com/razvancmp/go-requests-pro/requestspro/transport"
)

// Option configures session construction beyond what ClientConfig expresses,
// mostly for tests and embedding.
type Option func(*builder) error

type builder struct {
	transport    transport.Transport
	headerPool   []headergen.Profile
	pipelineOpts []middleware.Option
	proxySeed    *int64
}

// WithTransport injects a pre-built transport, bypassing the backend
// registry. The config backend name is still validated.
func WithTransport(t transport.Transport) Option {
	return func(b *builder) error {
		if t == nil {
			return fmt.Errorf("nil transport")
		}
		b.transport = t
		return nil
	}
}

// WithHeaderPool replaces the default browser identity pool.
func WithHeaderPool(pool []headergen.Profile) Option {
	return func(b *builder) error {
		b.headerPool = pool
		return nil
	}
}

// WithLogger routes pipeline logging through the given logger.
func WithLogger(log logr.Logger) Option {
	return func(b *builder) error {
		b.pipelineOpts = append(b.pipelineOpts, middleware.WithLogger(log))
		return nil
	}
}

// WithPipelineOptions appends raw middleware options, e.g. a test sleeper.
func WithPipelineOptions(opts ...middleware.Option) Option {
	return func(b *builder) error {
		b.pipelineOpts = append(b.pipelineOpts, opts...)
		return nil
	}
}

// WithProxySeed fixes the proxy selector's random seed, for tests.
func WithProxySeed(seed int64) Option {
	return func(b *builder) error {
		b.proxySeed = &seed
		return nil
	}
}

// NewSession validates the config and wires a fully usable Session: header
// generator, proxy selector, retry pipeline and the named transport backend.
// Invalid configs fail with an InvalidConfigError naming every offending
// field.
func NewSession(cfg ClientConfig, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var b builder
	for _, opt := range opts {
		if err := opt(&b); err != nil {
			return nil, err
		}
	}

	genOpts := []headergen.Option{}
	if b.headerPool != nil {
		genOpts = append(genOpts, headergen.WithPool(b.headerPool))
	}
	if h := cfg.Headers; h != nil {
		if h.Seed != nil {
			genOpts = append(genOpts, headergen.WithSeed(*h.Seed))
		}
		if len(h.Languages) > 0 {
			genOpts = append(genOpts, headergen.WithLanguages(h.Languages...))
		}
		if len(h.Overrides) > 0 {
			genOpts = append(genOpts, headergen.WithOverrides(h.Overrides))
		}
	}
	generator, err := headergen.New(genOpts...)
	if err != nil {
		return nil, err
	}

	session := &Session{
		cfg:       cfg,
		generator: generator,
		headers:   generator.Generate(),
		pipeline:  middleware.New(cfg.retryPolicy(), b.pipelineOpts...),
		timeout:   cfg.timeout(),
	}

	if cfg.Proxy != nil {
		selOpts := []proxysel.Option{}
		if b.proxySeed != nil {
			selOpts = append(selOpts, proxysel.WithRandSeed(*b.proxySeed))
		}
		selector, err := proxysel.New(proxyselConfig(*cfg.Proxy), selOpts...)
		if err != nil {
			return nil, err
		}
		session.selector = selector
		// Rotating sessions draw per call instead of pinning one here.
		if !cfg.Proxy.Rotate {
			session.proxy = selector.Select()
		}
	}

	if b.transport != nil {
		session.transport = b.transport
	} else {
		build, ok := transport.Lookup(cfg.Backend)
		if !ok {
			// Validate already checked; kept for callers racing registration.
			return nil, &httperrors.ConfigurationError{Reason: fmt.Sprintf("unrecognized backend %q", cfg.Backend)}
		}
		topts := transport.Options{
			Timeout:            cfg.timeout(),
			Proxy:              session.proxy,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
		if cfg.TLS != nil {
			topts.Profile = cfg.TLS.Profile
			topts.JA3 = cfg.TLS.JA3
			topts.H2Settings = cfg.TLS.HTTP2Settings
		}
		t, err := build(topts)
		if err != nil {
			return nil, err
		}
		session.transport = t
	}

	return session, nil
}

// NewSessionFromJSON decodes a JSON config and builds a session from it.
func NewSessionFromJSON(raw []byte, opts ...Option) (*Session, error) {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	return NewSession(cfg, opts...)
}

func proxyselConfig(p ProxyConfig) proxysel.Config {
	cfg := proxysel.Config{Rotate: p.Rotate, Lenient: p.Lenient}
	if p.Type == ProxyTypeDirect {
		cfg.URL = p.URL
	} else {
		cfg.Path = p.Path
	}
	return cfg
}
