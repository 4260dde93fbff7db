// Package journal defines the entry model mirrored from the remote journal API and the
// collaborator interfaces the syncer depends on.
//
// Entries are opaque JSON objects. Only the "id" field is interpreted: it is the key used
// to build the detail URL and the filter for the document store upsert. Everything else is
// passed through untouched.
package journal
