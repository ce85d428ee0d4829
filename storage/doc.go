// Package storage provides the content-addressed storage gateway and its two
// interchangeable backends.
//
//   - EmbeddedBackend runs a libp2p host in-process with a badger block
//     repository. Content up to the chunk size is one raw block (CIDv1,
//     sha2-256); larger content is chunked and linked from a dag-json
//     manifest whose CID is returned. Blocks missing locally are requested
//     from connected peers over BlockProtocolID.
//   - RemoteBackend talks to a kubo node through its HTTP API. It can add
//     pins but not release them.
//
// # Gateway
//
// Gateway owns exactly one active backend. Start tries the embedded node
// (bounded by the startup timeout) and falls back to the default remote
// provider. When neither comes up the gateway is unavailable and every
// operation returns interfaces.ErrNoBackendAvailable until Retry.
//
//	gw := storage.NewGatewayFromOptions(storage.Options{
//	    EmbeddedEnabled: true,
//	    Embedded:        storage.EmbeddedConfig{InMemory: true},
//	    DefaultProvider: "local",
//	}, logger)
//	if err := gw.Start(ctx); err != nil {
//	    // unavailable, gw.Retry(ctx) later
//	}
//	cid, err := gw.Add(ctx, data, "photo.png")
//
// SwitchMode moves routing between backends without tearing down the
// inactive one. Backend errors pass through the gateway unchanged.
//
// # Providers
//
// Remote endpoints are selected by name from a provider table:
//
//	local   http://127.0.0.1:5001   (default)
//	infura  https://ipfs.infura.io:5001
//	public  https://ipfs.io
package storage
