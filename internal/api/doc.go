// Package api provides the HTTP REST API and device WebSocket channel for
// Marquee Core.
//
// It exposes fleet management operations (devices, groups, pairing, command
// dispatch) to admin tooling, and hosts the persistent channel that display
// devices connect to for live command delivery.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
