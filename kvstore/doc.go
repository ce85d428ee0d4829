// Package kvstore provides PersistenceStore implementations: string-keyed
// durable blob stores the file registry writes its catalogue into.
//
// Available stores:
//
//   - MemoryStore for tests and throwaway sessions
//   - FileStore writing one file per key with atomic rename
//   - BadgerStore backed by an embedded BadgerDB database
//   - S3Store for S3 or S3-compatible object storage
//   - VaultStore for a HashiCorp Vault KV v2 mount
//
// Every store returns interfaces.ErrKeyNotFound from Get when the key is
// absent, and treats Remove of an absent key as success.
//
// Stores are usually created through NewStore from a StoreConfig whose
// type-specific options are decoded with mapstructure:
//
//	persistence:
//	  type: badger
//	  badger:
//	    path: /var/lib/nexus/catalogue
package kvstore
