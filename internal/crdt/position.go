package crdt

import (
	"math/rand"
	"strings"
)

// digitBase bounds the digit space at every level of a position identifier.
// Large enough that sequential appends rarely need to descend a level.
const digitBase = 1 << 31

// maxStep caps the random gap left between consecutively allocated digits.
const maxStep = 32

// Segment is one level of a dense position identifier. The site id breaks
// ties between digits allocated concurrently by different replicas.
type Segment struct {
	Digit uint32 `cbor:"d"`
	Site  string `cbor:"s"`
}

// Position is a path of segments ordered lexicographically. A position that
// is a strict prefix of another sorts before it.
type Position []Segment

func comparePositions(a, b Position) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].Digit != b[i].Digit {
			if a[i].Digit < b[i].Digit {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a[i].Site, b[i].Site); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// positionBetween allocates a fresh position strictly between left and right
// for the given site. A nil left means the start of the sequence, a nil right
// means the end. The result always terminates in a segment owned by site, so
// positions generated by distinct sites can never collide.
func positionBetween(left, right Position, site string) Position {
	var prefix Position
	for depth := 0; ; depth++ {
		lo := uint32(0)
		loSite := ""
		if depth < len(left) {
			lo = left[depth].Digit
			loSite = left[depth].Site
		}
		hi := uint32(digitBase)
		if depth < len(right) {
			hi = right[depth].Digit
		}
		if hi > lo+1 {
			gap := hi - lo - 1
			if gap > maxStep {
				gap = maxStep
			}
			digit := lo + 1 + uint32(rand.Intn(int(gap)))
			return append(prefix, Segment{Digit: digit, Site: site})
		}
		// No room at this level: follow left down one level. The right
		// bound only constrains deeper levels while its segment is
		// identical to the one we just copied.
		prefix = append(prefix, Segment{Digit: lo, Site: loSite})
		if depth < len(right) && (right[depth].Digit != lo || right[depth].Site != loSite) {
			right = nil
		}
	}
}
