// Package main (cmd/gateway) runs the storage gateway service.
//
// It is the composition root of the service: it loads configuration, opens
// the persistence store, loads the file catalogue, starts the storage gateway
// (embedded node first, remote API as fallback) and serves the HTTP API until
// SIGINT or SIGTERM.
//
// If neither backend starts, the server still comes up in the unavailable
// mode. /readyz reports 503 and POST /api/v1/gateway/retry reruns the startup
// sequence.
//
// A catalogue written by a newer version of the service stops startup instead
// of being replaced.
//
// Example usage:
//
//	nexus-gateway --config ./config.yaml --listen-addr 0.0.0.0:8080
//
//	NEXUS_EMBEDDED_ENABLED=false NEXUS_REMOTE_DEFAULT_PROVIDER=infura nexus-gateway
package main
