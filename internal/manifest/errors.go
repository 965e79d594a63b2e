package manifest

import "errors"

var (
	// ErrUpstreamUnavailable means the upstream manifest could not be
	// retrieved. A stale cache is never served in its place.
	ErrUpstreamUnavailable = errors.New("upstream manifest unavailable")

	// ErrMalformedManifest means the manifest could not be parsed or framed.
	// The cache artifact has been removed when this is returned from Load.
	ErrMalformedManifest = errors.New("malformed manifest")
)
