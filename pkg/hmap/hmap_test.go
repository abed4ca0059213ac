package hmap

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarioS3 reproduces spec.md §8 scenario S3: 64 keys inserted
// into a small table, verifying count and per-key values.
func TestScenarioS3(t *testing.T) {
	m := New(8)
	for i := 0; i < 64; i++ {
		m.Add(fmt.Sprintf("A%d", i), i)
	}
	require.Equal(t, 64, m.Len())
	for i := 0; i < 64; i++ {
		v, ok := m.Get(fmt.Sprintf("A%d", i))
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

// TestRandomAddRemoveAgreesWithModel is spec.md §8 invariant 4 /
// testable property from §4.D: for any random mixed add/remove trace
// over a bounded key set, get() agrees with a reference set model
// after every operation, and the table empties out fully after a full
// delete cycle.
func TestRandomAddRemoveAgreesWithModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const keySpace = 20
	m := New(4)
	model := map[string]int{}

	for step := 0; step < 5000; step++ {
		k := fmt.Sprintf("K%d", rng.Intn(keySpace))
		if rng.Intn(2) == 0 {
			v := rng.Int()
			m.Add(k, v)
			model[k] = v
		} else {
			delete(model, k)
			m.Remove(k)
		}

		want, wantOK := model[k]
		got, gotOK := m.Get(k)
		require.Equal(t, wantOK, gotOK, "key %s at step %d", k, step)
		if wantOK {
			require.Equal(t, want, got, "key %s at step %d", k, step)
		}
	}

	require.ElementsMatch(t, modelKeys(model), m.Keys())

	for k := range model {
		m.Remove(k)
	}
	require.Equal(t, 0, m.Len())
}

func modelKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestRehashPreservesAllEntries(t *testing.T) {
	m := New(4)
	for i := 0; i < 200; i++ {
		m.Add(fmt.Sprintf("key-%d", i), i*i)
	}
	require.Equal(t, 200, m.Len())
	require.GreaterOrEqual(t, m.Cap(), 200)
	for i := 0; i < 200; i++ {
		v, ok := m.Get(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		require.Equal(t, i*i, v)
	}
}
