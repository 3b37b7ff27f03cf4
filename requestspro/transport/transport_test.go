package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
	"github.com/razvancmp/go-requests-pro/requestspro/middleware"
)

type nopTransport struct{}

func (nopTransport) Perform(ctx context.Context, rc *middleware.RequestContext) (*middleware.Response, error) {
	return &middleware.Response{StatusCode: 204}, nil
}
func (nopTransport) Jar() http.CookieJar { return nil }
func (nopTransport) Close()              {}

func TestRegistry(t *testing.T) {
	t.Run("built-in backends", func(t *testing.T) {
		for _, name := range []string{KindStandard, KindTLSFingerprint} {
			if _, ok := Lookup(name); !ok {
				t.Errorf("Lookup(%q) missing built-in backend", name)
			}
		}
	})

	t.Run("register and lookup", func(t *testing.T) {
		builder := func(Options) (Transport, error) { return nopTransport{}, nil }
		if err := Register("test-backend", builder); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		b, ok := Lookup("test-backend")
		if !ok {
			t.Fatal("Lookup() did not find the registered backend")
		}
		tr, err := b(Options{})
		if err != nil {
			t.Fatalf("builder error = %v", err)
		}
		resp, _ := tr.Perform(context.Background(), &middleware.RequestContext{})
		if resp.StatusCode != 204 {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("duplicate registration", func(t *testing.T) {
		builder := func(Options) (Transport, error) { return nopTransport{}, nil }
		if err := Register("dup-backend", builder); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if err := Register("dup-backend", builder); err == nil {
			t.Error("duplicate Register() succeeded")
		}
	})

	t.Run("invalid registrations", func(t *testing.T) {
		if err := Register("", func(Options) (Transport, error) { return nopTransport{}, nil }); err == nil {
			t.Error("Register with empty name succeeded")
		}
		if err := Register("nil-builder", nil); err == nil {
			t.Error("Register with nil builder succeeded")
		}
	})

	t.Run("names are sorted", func(t *testing.T) {
		names := Names()
		for i := 1; i < len(names); i++ {
			if names[i-1] >= names[i] {
				t.Errorf("Names() not sorted: %v", names)
				break
			}
		}
	})
}

func TestResolveProfile(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		if _, err := resolveProfile(Options{}); err != nil {
			t.Errorf("resolveProfile(default) error = %v", err)
		}
	})

	t.Run("every named profile resolves", func(t *testing.T) {
		for _, name := range ProfileNames() {
			if _, err := resolveProfile(Options{Profile: name}); err != nil {
				t.Errorf("resolveProfile(%q) error = %v", name, err)
			}
		}
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := resolveProfile(Options{Profile: "netscape_4"})
		if !errors.Is(err, httperrors.ErrConfiguration) {
			t.Errorf("error = %v, want ErrConfiguration", err)
		}
	})

	t.Run("ja3 wins over profile", func(t *testing.T) {
		_, err := resolveProfile(Options{Profile: "chrome_146", JA3: "not,a,ja3"})
		if !errors.Is(err, httperrors.ErrConfiguration) {
			t.Errorf("error = %v, a bad JA3 must surface even with a valid profile name", err)
		}
	})
}

func TestNewTLSFingerprint(t *testing.T) {
	t.Run("named profile", func(t *testing.T) {
		tr, err := NewTLSFingerprint(Options{Profile: "firefox_147", Timeout: 10 * time.Second})
		if err != nil {
			t.Fatalf("NewTLSFingerprint() error = %v", err)
		}
		defer tr.Close()
		if tr.Jar() == nil {
			t.Error("backend has no cookie jar")
		}
	})

	t.Run("custom ja3", func(t *testing.T) {
		tr, err := NewTLSFingerprint(Options{
			JA3:        "771,4865-4866-4867,0-23-65281-10-11-43-16,29-23-24,0",
			H2Settings: "1:65536;4:6291456",
		})
		if err != nil {
			t.Fatalf("NewTLSFingerprint() error = %v", err)
		}
		tr.Close()
	})

	t.Run("malformed ja3", func(t *testing.T) {
		_, err := NewTLSFingerprint(Options{JA3: "garbage"})
		if !errors.Is(err, httperrors.ErrConfiguration) {
			t.Errorf("error = %v, want ErrConfiguration", err)
		}
	})
}

func TestCookieJarAdapter(t *testing.T) {
	tr, err := NewTLSFingerprint(Options{})
	if err != nil {
		t.Fatalf("NewTLSFingerprint() error = %v", err)
	}
	defer tr.Close()

	u, _ := url.Parse("https://example.com/")
	jar := tr.Jar()
	jar.SetCookies(u, []*http.Cookie{
		{Name: "sid", Value: "abc", Path: "/"},
		{Name: "theme", Value: "dark", Path: "/"},
	})

	cookies := jar.Cookies(u)
	if len(cookies) != 2 {
		t.Fatalf("round-tripped %d cookies, want 2", len(cookies))
	}
	byName := map[string]string{}
	for _, c := range cookies {
		byName[c.Name] = c.Value
	}
	if byName["sid"] != "abc" || byName["theme"] != "dark" {
		t.Errorf("cookies = %v", byName)
	}
}
