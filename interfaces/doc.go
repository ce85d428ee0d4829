// Package interfaces defines the core contracts and value types of the storage
// gateway, separating interface definitions from implementations.
//
// # Storage Interfaces
//
// ContentStoreBackend: uniform content-addressed storage contract
// {Add, Fetch, Pin, DescribeNode} implemented by the embedded libp2p node and
// the remote IPFS HTTP API client.
//
// StartableBackend / ConnectableBackend: lifecycle extensions used by the
// gateway to start the embedded node and to handshake with a remote API.
//
// Unpinner: optional capability. The remote API backend does not implement it,
// so releasing a pin through it is reported as ErrUnpinUnsupported.
//
// # Registry Types
//
// FileRecord: one catalogue entry, keyed by a generated id and carrying the
// immutable CID returned on ingest.
//
// PersistenceStore: string-keyed durable blob store the registry writes its
// whole catalogue into.
//
// # Errors
//
// Backends wrap their causes with the sentinel errors declared here so callers
// can use errors.Is regardless of which backend served the request.
package interfaces
