/*
Package httpserver serves the file catalogue and storage gateway over HTTP.

The Handler turns requests into calls on the storage gateway, the file
registry, the upload pipeline and the DNSLink resolver. The Server wraps it in a
chi router with access logging, health endpoints and an optional pprof mount,
and runs a separate Prometheus listener.

# API Endpoints

See package api for the request and response types.

  - POST /api/v1/files - Upload files (multipart field "files")
  - GET /api/v1/files?q= - List or search the catalogue
  - DELETE /api/v1/files - Clear the catalogue
  - GET /api/v1/files/{id} - Get a record
  - DELETE /api/v1/files/{id} - Remove a record
  - POST /api/v1/files/{id}/pin - Toggle the pin of a record
  - POST /api/v1/files/{id}/select - Select a record
  - GET, DELETE /api/v1/selection - Read or clear the selection
  - GET /api/v1/cids/{cid} - Get the record for a CID
  - GET /api/v1/node - Describe the active node
  - GET /api/v1/stats - Catalogue statistics
  - GET /api/v1/providers - Remote provider table
  - POST /api/v1/mode - Switch gateway mode
  - POST /api/v1/gateway/retry - Rerun backend startup
  - GET /api/v1/dnslink/{domain} - Resolve a DNSLink record
  - GET /ipfs/{cid} - Download content
  - GET /livez - Liveness check
  - GET /readyz - Readiness check, 503 while draining or without a backend
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Error Mapping

Errors are returned as {"error": "..."} with a status derived from the
sentinel errors in package interfaces: not found is 404, an unavailable backend
503, an ingest failure 502, upload policy violations 400 or 413, anything else
500.

# Pinning

Pinning asks the active backend first and flips the catalogue flag only once
the backend accepted. Unpinning releases the backend pin where supported. The
remote API backend cannot unpin, in which case only the flag changes and the
response reports backendUnpinned=false.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             5 * time.Minute,
	}

	handler := httpserver.NewHandler(gateway, fileRegistry, uploader, resolver, logger)
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
