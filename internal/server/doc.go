// Package server exposes the manifest and the runner over HTTP.
//
// Routes:
//
//	GET  /tests{.jsonld,.ttl,.json}  the manifest, negotiated
//	GET  /tests/{id}{.jsonld}        one entry
//	POST /tests/{id}                 run an entry against processorUrl
//	GET  /earl{.json,.ttl}           DOAP preamble for processorUrl
//
// GET / and GET /tests/ redirect to /tests.
package server
