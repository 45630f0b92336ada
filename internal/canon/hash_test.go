package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	a, err := Hash("test/v1", map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := Hash("test/v1", map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashDomainSeparation(t *testing.T) {
	v := map[string]any{"a": 1}
	assert.NotEqual(t, MustHash("one/v1", v), MustHash("two/v1", v))
}

func TestHashBytesSeparator(t *testing.T) {
	// Without the separator "ab"+"c" and "a"+"bc" would collide.
	assert.NotEqual(t, HashBytes("ab", []byte("c")), HashBytes("a", []byte("bc")))
}

func TestHashError(t *testing.T) {
	_, err := Hash("test/v1", 0.5)
	require.Error(t, err)
	assert.Panics(t, func() { MustHash("test/v1", 0.5) })
}
