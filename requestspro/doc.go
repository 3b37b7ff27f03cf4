// Package requestspro unifies a standard net/http client and a TLS
// fingerprint impersonation client behind one session API. Sessions carry
// browser-plausible generated headers, optional proxy rotation, and a
// retry and redirect pipeline shared by both backends.
package requestspro
