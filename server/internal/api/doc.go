// Package api implements the read-only admin HTTP API of the musink hub.
//
// New(deps) returns an http.Handler that serves:
//
//	GET /api/v1/health   state (ok|degraded), client/group/worker counts, diagnostics
//	GET /api/v1/groups   the group snapshot clients receive as AdvertisingClientGroups
//	GET /api/v1/clients  registered clients with group and token expiry; never tokens
//	GET /api/v1/workers  worker connection ids per category, in rotation order
//	GET /api/v1/alerts   firing and recently resolved alerts
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. Authentication is applied by the caller (see
// auth.Middleware).
package api
