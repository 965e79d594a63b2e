// Package manifest loads a CSVW test manifest and exposes its entries.
//
// The source of truth is a Turtle document. A Store turns it into a framed
// JSON-LD projection, caches the projection through a Backend and reuses
// the cache only while it is at least as recent as the upstream document:
//
//	store := manifest.NewStore(
//	    manifest.NewFileSource("tests/manifest.ttl"),
//	    manifest.NewDirBackend("tests/manifest.jsonld"),
//	    manifest.WithBase("http://www.w3.org/2013/csvw/tests/"),
//	)
//	m, err := store.Load(ctx)
//	entry, ok := m.Find("manifest-json#test001")
//
// Entries are values. Every lookup returns a fresh copy whose Status is
// only meaningful for the duration of one run.
package manifest
