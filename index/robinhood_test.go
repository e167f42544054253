package index_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrove/cacheproxy/index"
	"github.com/ashgrove/cacheproxy/shared"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

func TestFindMissOnEmpty(t *testing.T) {
	ix := index.New[int](1, 1<<20)
	_, ok := ix.Find("nope", shared.HashKey([]byte("nope")))
	assert.False(t, ok)
}

func TestInsertFindDelete(t *testing.T) {
	ix := index.New[int](1, 1<<20)

	key := "abc"
	h := shared.HashKey([]byte(key))
	require.NoError(t, ix.Insert(key, h, 42))

	v, ok := ix.Find(key, h)
	require.True(t, ok)
	assert.Equal(t, 42, v)

	val, ok := ix.Delete(key, h)
	require.True(t, ok)
	assert.Equal(t, 42, val)

	_, ok = ix.Find(key, h)
	assert.False(t, ok)
}

// TestGrowsAndFindsAll exercises S4: 52 distinct 2-byte keys starting from
// capacity 1 must all remain findable after repeated resizing.
func TestGrowsAndFindsAll(t *testing.T) {
	ix := index.New[int](1, 1<<20)

	var keys []string
	for a := byte('a'); a <= 'b'; a++ {
		for b := byte('a'); b <= 'z'; b++ {
			keys = append(keys, string([]byte{a, b}))
		}
	}
	require.Len(t, keys, 52)

	for i, k := range keys {
		require.NoError(t, ix.Insert(k, shared.HashKey([]byte(k)), i))
	}
	require.Equal(t, 52, ix.Len())

	for i, k := range keys {
		v, ok := ix.Find(k, shared.HashKey([]byte(k)))
		require.True(t, ok, "key %q should be findable", k)
		assert.Equal(t, i, v)
	}
}

func TestDownsizeAfterBulkDelete(t *testing.T) {
	ix := index.New[int](1, 1<<20)

	const n = 200
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		keys[i] = k
		require.NoError(t, ix.Insert(k, shared.HashKey([]byte(k)), i))
	}
	bigCap := ix.Cap()

	for i := 0; i < n-2; i++ {
		_, ok := ix.Delete(keys[i], shared.HashKey([]byte(keys[i])))
		require.True(t, ok)
	}

	assert.Less(t, ix.Cap(), bigCap)
	for i := n - 2; i < n; i++ {
		_, ok := ix.Find(keys[i], shared.HashKey([]byte(keys[i])))
		assert.True(t, ok)
	}
}

// TestLoadFactorBounds pins invariant 7: the load factor stays in
// (0.40, 0.85) except when capacity equals minsize.
func TestLoadFactorBounds(t *testing.T) {
	const minsize = 1
	ix := index.New[int](minsize, 1<<20)

	stdm := make(map[string]int)
	for i := 0; i < 5000; i++ {
		k := fmt.Sprintf("k%d", rand.Intn(400))
		op := rand.Intn(3)
		switch op {
		case 0, 1:
			require.NoError(t, ix.Insert(k, shared.HashKey([]byte(k)), i))
			stdm[k] = i
		case 2:
			ix.Delete(k, shared.HashKey([]byte(k)))
			delete(stdm, k)
		}

		if ix.Cap() == minsize {
			continue
		}
		lf := float64(ix.Len()) / float64(ix.Cap())
		assert.Greater(t, lf, 0.40)
		assert.Less(t, lf, 0.85)
	}
	assert.Equal(t, len(stdm), ix.Len())
}

func TestCrossCheckAgainstBuiltinMap(t *testing.T) {
	ix := index.New[int](1, 1<<20)
	stdm := make(map[string]int)

	const nops = 20000
	for i := 0; i < nops; i++ {
		k := fmt.Sprintf("key-%d", rand.Intn(2000))
		h := shared.HashKey([]byte(k))

		switch rand.Intn(4) {
		case 0:
			v1, ok1 := ix.Find(k, h)
			v2, ok2 := stdm[k]
			require.Equal(t, ok2, ok1)
			if ok1 {
				require.Equal(t, v2, v1)
			}
		case 1, 2:
			stdm[k] = i
			require.NoError(t, ix.Insert(k, h, i))
		case 3:
			_, wasIn := stdm[k]
			delete(stdm, k)
			_, isIn := ix.Delete(k, h)
			require.Equal(t, wasIn, isIn)
		}
	}

	require.Equal(t, len(stdm), ix.Len())
	for k, v := range stdm {
		got, ok := ix.Find(k, shared.HashKey([]byte(k)))
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}
