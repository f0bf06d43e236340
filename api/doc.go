// Package api defines the gateway's HTTP wire types: the OpenAI-compatible
// chat-completion request/response shapes, the error body, and the health
// response, independent of how they're served.
//
// # API Overview
//
// The gateway exposes:
//   - POST /v1/chat/completions — OpenAI-compatible, non-streaming and SSE
//   - GET /health, /healthz, /readyz — dependency and liveness checks
//   - GET /v1/admin/concurrency, GET|POST /v1/admin/breakers[/reset],
//     GET|POST /v1/admin/quota/{user_id}[/reset] — operational introspection,
//     gated by an admin-status API key
//
// # Authentication
//
// Chat and admin endpoints require a bearer credential:
//
//	Authorization: Bearer cfx_<32 alphanumeric characters>
//
// # Unknown fields
//
// ChatRequest accepts and forwards any top-level JSON field it doesn't name
// explicitly via its Extra map, so the gateway never rejects a request body
// just because the upstream OpenAI-compatible surface grew a field it
// doesn't yet know about.
package api
