// Package api documents the CampaignFlow HTTP API.
//
// # API Overview
//
// CampaignFlow exposes a JSON API for:
//   - Starting, inspecting, resuming and aborting campaign workflows
//   - Listing registered workflow graphs
//   - Inspecting and adjusting vendor profiles and quotas
//   - Previewing routing decisions without calling a vendor
//   - Streaming workflow events over WebSocket
//   - Health probes and build information
//
// Every JSON response uses the envelope defined in api/handlers:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "WORKFLOW_NOT_FOUND", "message": "..."}, ...}
//
// # Endpoints
//
//	GET    /healthz                           liveness
//	GET    /readyz                            readiness (checkpoint backend, cache, database)
//	GET    /version                           build information
//	GET    /api/v1/graphs                     registered graph ids
//	POST   /api/v1/workflows                  {"graph_id": "campaign", "inputs": {...}} -> 202
//	GET    /api/v1/workflows?status=a,b       workflow summaries
//	GET    /api/v1/workflows/{id}             full workflow state
//	POST   /api/v1/workflows/{id}/resume      {"value": "approved"|"rejected", "node_id": "...", "comment": "..."}
//	POST   /api/v1/workflows/{id}/abort       abort a non-terminal workflow
//	GET    /api/v1/workflows/events           WebSocket; ?workflow_id=&types=
//	GET    /api/v1/vendors?capability=image   vendor profiles
//	GET    /api/v1/vendors/{id}               one vendor profile
//	PATCH  /api/v1/vendors/{id}               partial profile update
//	POST   /api/v1/vendors/{id}/quota/reset   reset one vendor's daily usage
//	POST   /api/v1/vendors/quota/reset        reset every vendor's daily usage
//	POST   /api/v1/routing/decisions          routing preview
//
// Prometheus metrics are served on a separate port at /metrics.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
