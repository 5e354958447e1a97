// Package server exposes the policy engine over HTTP.
//
// # Routes
//
//	POST   /v1/evaluate                   evaluate an action, returns a verdict
//	GET    /v1/rules                      list rules
//	POST   /v1/rules                      register a rule
//	GET    /v1/rules/active               rules taking part in evaluation (?strict=)
//	GET    /v1/rules/order                execution order
//	GET    /v1/rules/{id}                 get a rule
//	PUT    /v1/rules/{id}                 replace a rule
//	DELETE /v1/rules/{id}                 remove a rule
//	POST   /v1/rules/{id}/enable          enable a rule
//	POST   /v1/rules/{id}/disable         disable a rule
//	GET    /v1/rules/{id}/dependencies    dependency info
//	GET    /v1/dependencies/validate      validate the dependency graph
//	PUT    /v1/dependencies/ordering      toggle dependency-aware ordering
//	GET    /v1/rate-limits                list rate limit configs
//	POST   /v1/rate-limits                add or replace a config
//	DELETE /v1/rate-limits/{id}           remove a config
//	GET    /v1/cache                      decision cache statistics
//	DELETE /v1/cache                      clear the decision cache
//	PUT    /v1/cache/ttl                  change the cache TTL
//	GET    /v1/approvals/{id}             get an approval request
//	POST   /v1/approvals/{id}/resolve     approve or reject
//	GET    /health, /health/live, /version, and the metrics path
//
// # Evaluation
//
// A verdict is always returned with 200, whatever its status. When the
// verdict is pending_approval and an approval workflow is configured, a
// request is opened and its id returned as approval_id. Rate-limited
// verdicts carry X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset
// and Retry-After headers.
//
// # Errors
//
// Failures use a single envelope:
//
//	{"error": {"type": "not_found", "message": "rule not found: pii-guard"}}
//
// Invalid rules and configs map to 400, unknown ids to 404, duplicates,
// dependency cycles and already-resolved approvals to 409.
//
// # Load shedding
//
// At most server.max_in_flight /v1 requests run at once; the rest receive
// 503 with Retry-After. Health and metrics routes are never shed.
//
// # Authentication
//
// With server.auth enabled every /v1 request must carry a configured key as
// "Authorization: Bearer <key>" or X-API-Key. Missing, unknown and disabled
// keys get 401 before the in-flight gate is consulted.
package server
