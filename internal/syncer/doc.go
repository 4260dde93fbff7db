// Package syncer mirrors journal entries from the remote API into a document store.
//
// A run walks the listing endpoint page by page (limit, order, page query parameters),
// fetches every listed entry from the detail endpoint, and upserts it keyed by id. The
// walk stops on an empty page, on a page shorter than the page size, or on the first
// listing failure. A failed detail fetch only skips that entry.
//
// Requests are strictly sequential: one page, then one entry at a time.
package syncer
