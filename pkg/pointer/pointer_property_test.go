//go:build property
// +build property

package pointer

import (
	"fmt"
	"testing"

	"github.com/contentmesh/server/pkg/entity"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestTryToCommitIsOrderIndependent verifies the tie-break invariant of
// §4.2 step 2: for any set of entities contending for the same pointer,
// the entity left active once every commit has been attempted does not
// depend on the order the entities were submitted in — only on their
// (timestamp, id) ordering.
func TestTryToCommitIsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("final active entity is the max by (timestamp, id) regardless of submission order", prop.ForAll(
		func(timestamps []int64, permutation []int) bool {
			if len(timestamps) == 0 {
				return true
			}

			entities := make([]*entity.Entity, len(timestamps))
			for i, ts := range timestamps {
				entities[i] = &entity.Entity{
					ID:        fmt.Sprintf("b%04d", i),
					Type:      "scene",
					Pointers:  []string{"0,0"},
					Timestamp: ts,
				}
			}

			order := normalizePermutation(permutation, len(entities))

			m := NewManager()
			for _, idx := range order {
				m.TryToCommit(entities[idx])
			}

			want := entities[0]
			for _, e := range entities[1:] {
				if e.Timestamp != want.Timestamp {
					if e.Timestamp > want.Timestamp {
						want = e
					}
					continue
				}
				if e.ID > want.ID {
					want = e
				}
			}

			got, ok := m.ActiveEntity("scene", "0,0")
			return ok && got == want.ID
		},
		gen.SliceOfN(6, gen.Int64Range(0, 1000)),
		gen.SliceOfN(6, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// normalizePermutation turns an arbitrary slice of ints into a
// permutation of [0, n) by reducing each value modulo its remaining
// choices (a Fisher-Yates-style derivation), so gopter can generate the
// ordering from plain int generators.
func normalizePermutation(seed []int, n int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		remaining := len(pool)
		pick := 0
		if remaining > 0 {
			idx := i
			if idx < len(seed) {
				pick = ((seed[idx] % remaining) + remaining) % remaining
			}
		}
		order = append(order, pool[pick])
		pool = append(pool[:pick], pool[pick+1:]...)
	}
	return order
}
