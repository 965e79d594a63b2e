package server

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/munnerz/goautoneg"
)

const (
	mediaJSONLD = "application/ld+json"
	mediaJSON   = "application/json"
	mediaTurtle = "text/turtle"
)

// extensions maps URL format suffixes to media types.
var extensions = map[string]string{
	"jsonld": mediaJSONLD,
	"json":   mediaJSON,
	"ttl":    mediaTurtle,
}

// negotiate picks the offer to answer r with. A URL extension overrides
// Accept; a missing Accept header selects the first offer.
func negotiate(r *http.Request, offers ...string) (string, bool) {
	if ext, _ := r.Context().Value(middleware.URLFormatCtxKey).(string); ext != "" {
		mt, ok := extensions[ext]
		if !ok || !slices.Contains(offers, mt) {
			return "", false
		}
		return mt, true
	}

	accept := r.Header.Get("Accept")
	if strings.TrimSpace(accept) == "" {
		return offers[0], true
	}

	clauses := goautoneg.ParseAccept(accept)
	allowed := make([]string, 0, len(offers))
	for _, offer := range offers {
		if !refused(clauses, offer) {
			allowed = append(allowed, offer)
		}
	}
	if len(allowed) == 0 {
		return "", false
	}
	best := goautoneg.Negotiate(accept, allowed)
	return best, best != ""
}

// refused reports whether the most specific range matching offer carries
// q=0.
func refused(clauses []goautoneg.Accept, offer string) bool {
	major, minor, _ := strings.Cut(offer, "/")
	rank, q := -1, 0.0
	for _, c := range clauses {
		var r int
		switch {
		case c.Type == major && c.SubType == minor:
			r = 2
		case c.Type == major && c.SubType == "*":
			r = 1
		case c.Type == "*" && c.SubType == "*":
			r = 0
		default:
			continue
		}
		if r > rank {
			rank, q = r, c.Q
		}
	}
	return rank >= 0 && q == 0
}
