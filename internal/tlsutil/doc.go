// Package tlsutil provides centralized TLS configuration and a pooled,
// phase-timeout-aware http.Transport for the gateway's outbound HTTP
// clients (TLS 1.2+, AEAD-only cipher suites).
package tlsutil
