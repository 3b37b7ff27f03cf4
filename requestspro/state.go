package requestspro

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/razvancmp/go-requests-pro/requestspro/headergen"
	"github.com/razvancmp/go-requests-pro/requestspro/httperrors"
)

// SessionState is the serializable snapshot of a session: the build config,
// the generated headers, and cookies for the sites the caller names. Go
// cookie jars cannot be enumerated wholesale, so State captures cookies per
// URL of interest.
type SessionState struct {
	Config  ClientConfig             `json:"config"`
	Headers []HeaderPair             `json:"headers"`
	Cookies map[string][]CookieState `json:"cookies,omitempty"`
}

// HeaderPair keeps header order across serialization; JSON objects would not.
type HeaderPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CookieState is one persisted cookie.
type CookieState struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// State snapshots the session. urls name the sites whose cookies to capture.
func (s *Session) State(urls ...string) (*SessionState, error) {
	state := &SessionState{Config: s.cfg}

	headers := s.Headers()
	for _, k := range headers.Keys() {
		state.Headers = append(state.Headers, HeaderPair{Key: k, Value: headers.Value(k)})
	}

	if len(urls) > 0 {
		state.Cookies = make(map[string][]CookieState, len(urls))
		for _, raw := range urls {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, &httperrors.ConfigurationError{Reason: "state URL does not parse: " + err.Error()}
			}
			for _, c := range s.Cookies(u) {
				state.Cookies[raw] = append(state.Cookies[raw], CookieState{
					Name:     c.Name,
					Value:    c.Value,
					Path:     c.Path,
					Domain:   c.Domain,
					Expires:  c.Expires,
					Secure:   c.Secure,
					HttpOnly: c.HttpOnly,
				})
			}
		}
	}

	return state, nil
}

// MarshalState serializes a snapshot to JSON.
func (s *Session) MarshalState(urls ...string) ([]byte, error) {
	state, err := s.State(urls...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// RestoreSession rebuilds a session from a snapshot: same config, the
// persisted headers instead of freshly generated ones, and the captured
// cookies seeded into the jar.
func RestoreSession(state *SessionState, opts ...Option) (*Session, error) {
	session, err := NewSession(state.Config, opts...)
	if err != nil {
		return nil, err
	}

	if len(state.Headers) > 0 {
		restored := headergen.NewHeaderSet()
		for _, p := range state.Headers {
			restored.Set(p.Key, p.Value)
		}
		session.headers = restored
	}

	for raw, cookies := range state.Cookies {
		u, err := url.Parse(raw)
		if err != nil {
			session.Close()
			return nil, &httperrors.ConfigurationError{Reason: "state URL does not parse: " + err.Error()}
		}
		jarCookies := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			jarCookies = append(jarCookies, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Path:     c.Path,
				Domain:   c.Domain,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
			})
		}
		session.SetCookies(u, jarCookies)
	}

	return session, nil
}

// RestoreSessionJSON rebuilds a session from MarshalState output.
func RestoreSessionJSON(raw []byte, opts ...Option) (*Session, error) {
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &httperrors.ConfigurationError{Reason: "session state does not parse: " + err.Error()}
	}
	return RestoreSession(&state, opts...)
}
