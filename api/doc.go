/*
Package api holds the JSON types exchanged between the gateway HTTP server
(package httpserver) and its client library (package api/clients).

The types depend only on package interfaces so that clients do not link the
storage backends.

# Endpoints

	POST   /api/v1/files              multipart batch upload, field "files"
	GET    /api/v1/files?q=           list or search the catalogue
	DELETE /api/v1/files              clear the catalogue
	GET    /api/v1/files/{id}         record by id
	DELETE /api/v1/files/{id}         remove a record
	POST   /api/v1/files/{id}/pin     toggle the pin
	POST   /api/v1/files/{id}/select  select a record
	GET    /api/v1/selection          current selection
	DELETE /api/v1/selection          clear the selection
	GET    /api/v1/cids/{cid}         record by CID
	GET    /api/v1/node               node description and gateway status
	GET    /api/v1/stats              catalogue statistics
	GET    /api/v1/providers          remote provider table
	POST   /api/v1/mode               switch gateway mode
	POST   /api/v1/gateway/retry      restart the fallback sequence
	GET    /api/v1/dnslink/{domain}   resolve a DNSLink record
	GET    /ipfs/{cid}                download content
*/
package api
