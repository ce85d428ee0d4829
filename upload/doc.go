// Package upload is the ingest pipeline in front of the storage gateway and
// the file registry: it enforces the size and mime type policy, adds the
// content through the gateway and registers the returned CID.
//
// Batches run strictly sequentially, one file fully ingested and registered
// before the next, and report a Result per file.
package upload
