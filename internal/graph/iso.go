package graph

import (
	"encoding/binary"
	"hash/fnv"
	"slices"
	"strconv"
)

// Isomorphic reports whether a and b contain the same triples up to a
// renaming of blank nodes.
func Isomorphic(a, b *Graph) bool {
	if a.Len() != b.Len() {
		return false
	}

	var aBlank, bBlank []Triple
	for _, t := range a.triples {
		if t.hasBlank() {
			aBlank = append(aBlank, t)
			continue
		}
		if !b.Has(t) {
			return false
		}
	}
	for _, t := range b.triples {
		if t.hasBlank() {
			bBlank = append(bBlank, t)
		}
	}
	// Ground triples of a are a subset of b's and both sides have the same
	// count, so the ground parts are equal.
	if len(aBlank) != len(bBlank) {
		return false
	}
	if len(aBlank) == 0 {
		return true
	}

	aColors := colorBlanks(aBlank)
	bColors := colorBlanks(bBlank)
	if !sameColors(aColors, bColors) {
		return false
	}

	s := newIsoSearch(aBlank, aColors, bColors, b)
	return s.assign(0)
}

// colorBlanks partitions blank nodes by iterated neighbourhood hashing.
// Isomorphic graphs yield identical color multisets.
func colorBlanks(triples []Triple) map[string]uint64 {
	colors := make(map[string]uint64)
	for _, t := range triples {
		if t.S.IsBlank() {
			colors[t.S.Value] = 0
		}
		if t.O.IsBlank() {
			colors[t.O.Value] = 0
		}
	}

	classes := 1
	for round := 0; round <= len(colors); round++ {
		sigs := make(map[string][]uint64, len(colors))
		for _, t := range triples {
			if t.S.IsBlank() {
				sigs[t.S.Value] = append(sigs[t.S.Value], edgeHash('s', t.P, t.O, colors))
			}
			if t.O.IsBlank() {
				sigs[t.O.Value] = append(sigs[t.O.Value], edgeHash('o', t.P, t.S, colors))
			}
		}

		next := make(map[string]uint64, len(colors))
		for label, hs := range sigs {
			slices.Sort(hs)
			h := fnv.New64a()
			writeUint(h, colors[label])
			for _, v := range hs {
				writeUint(h, v)
			}
			next[label] = h.Sum64()
		}

		n := distinct(next)
		colors = next
		if n == classes {
			break
		}
		classes = n
	}
	return colors
}

type hashWriter interface{ Write([]byte) (int, error) }

func writeUint(h hashWriter, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func edgeHash(pos byte, p, other Term, colors map[string]uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte{pos})
	h.Write([]byte(p.String()))
	h.Write([]byte{0})
	if other.IsBlank() {
		h.Write([]byte("_:" + strconv.FormatUint(colors[other.Value], 16)))
	} else {
		h.Write([]byte(other.String()))
	}
	return h.Sum64()
}

func distinct(colors map[string]uint64) int {
	seen := make(map[uint64]struct{}, len(colors))
	for _, c := range colors {
		seen[c] = struct{}{}
	}
	return len(seen)
}

func sameColors(a, b map[string]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[uint64]int, len(a))
	for _, c := range a {
		count[c]++
	}
	for _, c := range b {
		count[c]--
		if count[c] < 0 {
			return false
		}
	}
	return true
}

type isoSearch struct {
	order      []string
	aColors    map[string]uint64
	candidates map[uint64][]string
	touching   map[string][]Triple
	mapping    map[string]string
	used       map[string]bool
	target     *Graph
}

func newIsoSearch(aBlank []Triple, aColors, bColors map[string]uint64, target *Graph) *isoSearch {
	s := &isoSearch{
		aColors:    aColors,
		candidates: make(map[uint64][]string),
		touching:   make(map[string][]Triple),
		mapping:    make(map[string]string, len(aColors)),
		used:       make(map[string]bool, len(bColors)),
		target:     target,
	}

	for label, c := range bColors {
		s.candidates[c] = append(s.candidates[c], label)
	}
	for _, labels := range s.candidates {
		slices.Sort(labels)
	}

	for _, t := range aBlank {
		if t.S.IsBlank() {
			s.touching[t.S.Value] = append(s.touching[t.S.Value], t)
		}
		if t.O.IsBlank() && t.O.Value != t.S.Value {
			s.touching[t.O.Value] = append(s.touching[t.O.Value], t)
		}
	}

	// Most constrained blank nodes first.
	for label := range aColors {
		s.order = append(s.order, label)
	}
	slices.SortFunc(s.order, func(x, y string) int {
		cx := len(s.candidates[aColors[x]])
		cy := len(s.candidates[aColors[y]])
		if cx != cy {
			return cx - cy
		}
		if x < y {
			return -1
		}
		if x > y {
			return 1
		}
		return 0
	})
	return s
}

func (s *isoSearch) assign(i int) bool {
	if i == len(s.order) {
		return true
	}
	x := s.order[i]
	for _, y := range s.candidates[s.aColors[x]] {
		if s.used[y] {
			continue
		}
		s.mapping[x] = y
		s.used[y] = true
		if s.consistent(x) && s.assign(i+1) {
			return true
		}
		delete(s.mapping, x)
		s.used[y] = false
	}
	return false
}

// consistent checks every triple touching x whose blank nodes are all mapped.
func (s *isoSearch) consistent(x string) bool {
	for _, t := range s.touching[x] {
		mapped, ok := s.mapTriple(t)
		if !ok {
			continue
		}
		if !s.target.Has(mapped) {
			return false
		}
	}
	return true
}

func (s *isoSearch) mapTriple(t Triple) (Triple, bool) {
	out := t
	if t.S.IsBlank() {
		y, ok := s.mapping[t.S.Value]
		if !ok {
			return Triple{}, false
		}
		out.S = Blank(y)
	}
	if t.O.IsBlank() {
		y, ok := s.mapping[t.O.Value]
		if !ok {
			return Triple{}, false
		}
		out.O = Blank(y)
	}
	return out, true
}
