package court

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strconv"
)

// PanelSize is the number of arbiters a dispute panel seats.
const PanelSize = 3

// ShufflePool returns the eligible pool in seeded Fisher-Yates order. The
// pool is sorted first so the shuffle depends only on (seed, membership);
// any party holding the published seed reproduces the same ordering. The
// index stream is drawn from SHA-256(seed ∥ counter).
func ShufflePool(seed string, pool []string) []string {
	out := make([]string, len(pool))
	copy(out, pool)
	sort.Strings(out)

	draw := 0
	next := func() uint64 {
		sum := sha256.Sum256([]byte(seed + "|" + strconv.Itoa(draw)))
		draw++
		return binary.BigEndian.Uint64(sum[:8])
	}
	for i := len(out) - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
