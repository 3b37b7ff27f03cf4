package headergen

import (
	"net/textproto"
)

// HeaderSet is an ordered header mapping. Keys are unique and canonicalized;
// insertion order is preserved because the order headers go out on the wire
// matters for realism (User-Agent before Accept-Language, and so on).
type HeaderSet struct {
	order  []string
	values map[string]string
}

// NewHeaderSet returns an empty header set.
func NewHeaderSet() *HeaderSet {
	return &HeaderSet{values: make(map[string]string)}
}

// Set stores a header value. A new key is appended to the order; an existing
// key keeps its position.
func (h *HeaderSet) Set(key, value string) {
	ck := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := h.values[ck]; !ok {
		h.order = append(h.order, ck)
	}
	h.values[ck] = value
}

// Get returns the value for key, case-insensitively. The second return is
// false when the key is absent.
func (h *HeaderSet) Get(key string) (string, bool) {
	v, ok := h.values[textproto.CanonicalMIMEHeaderKey(key)]
	return v, ok
}

// Value returns the value for key, or the empty string when absent.
func (h *HeaderSet) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Delete removes a header, preserving the relative order of the rest.
func (h *HeaderSet) Delete(key string) {
	ck := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := h.values[ck]; !ok {
		return
	}
	delete(h.values, ck)
	for i, k := range h.order {
		if k == ck {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Keys returns the header names in insertion order. The slice is a copy.
func (h *HeaderSet) Keys() []string {
	keys := make([]string, len(h.order))
	copy(keys, h.order)
	return keys
}

// Len returns the number of headers in the set.
func (h *HeaderSet) Len() int { return len(h.order) }

// Clone returns an independent copy.
func (h *HeaderSet) Clone() *HeaderSet {
	c := NewHeaderSet()
	for _, k := range h.order {
		c.Set(k, h.values[k])
	}
	return c
}

// Merge returns a new set holding the receiver's headers overlaid with other's.
// On key collision other wins; other's new keys append after the receiver's.
func (h *HeaderSet) Merge(other *HeaderSet) *HeaderSet {
	merged := h.Clone()
	if other == nil {
		return merged
	}
	for _, k := range other.order {
		merged.Set(k, other.values[k])
	}
	return merged
}

// Map returns the headers as a plain map, losing order.
func (h *HeaderSet) Map() map[string]string {
	m := make(map[string]string, len(h.order))
	for k, v := range h.values {
		m[k] = v
	}
	return m
}

// FromMap builds a HeaderSet from a plain map. Iteration order of Go maps is
// random, so the resulting order is unspecified; use Set directly when order
// matters.
func FromMap(m map[string]string) *HeaderSet {
	h := NewHeaderSet()
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
