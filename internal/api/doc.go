// Package api serves the supervisor's status surface over HTTP.
//
// Routes:
//
//	GET /api/v1/health          liveness and version
//	GET /api/v1/devices         registry contents
//	GET /api/v1/devices/{id}    one device
//	GET /api/v1/workers         tracked workers with their last status
//	GET /api/v1/ws              websocket feed of worker status changes
//	GET /metrics                Prometheus exposition
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(cfg, deps)
//	server.Start(ctx)
//	defer server.Close()
//
// The surface is read-only. Devices are managed through the CLI.
package api
