// Package registry keeps the durable catalogue of uploaded files.
//
// FileRegistry is the only place CIDs returned by the storage gateway are
// remembered. Records are keyed by a generated id, searchable by name or CID,
// and carry a pinned flag that is the only field ever modified after
// creation. The whole catalogue is written as one JSON document under
// CatalogueKey:
//
//	{"version":1,"files":[{"id":"...","name":"a.txt","size":12,"mimeType":"text/plain",
//	  "cid":"Qm...","createdAt":"2024-05-01T10:00:00Z","pinned":false}]}
//
// A bare JSON array is accepted as the legacy unversioned layout and is
// rewritten in the current layout by the next mutation or Persist.
//
// Selection is transient: at most one record is selected and the selection is
// never persisted.
package registry
