// Package docstore is the keyed document store the chat engine runs on.
//
// A Store is a Backend (where documents live) paired with a Feed (how
// committed versions reach subscribers). Every document carries a version
// that increases by one on each commit; backends implement a single
// compare-and-swap commit and every mutation primitive is built on it, so
// each primitive is atomic per document and nothing spans documents.
//
// Backends: in-memory, bbolt file, PostgreSQL (jsonb), MongoDB.
// Feeds: in-process, Redis pub/sub, MongoDB change streams.
package docstore
