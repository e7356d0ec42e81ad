package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	e, err := NewTreeSitterExtractor("go")
	require.NoError(t, err)

	r.Register(e)

	got, ok := r.Get(".go")
	require.True(t, ok)
	assert.Equal(t, "go", got.Language())

	_, ok = r.Get(".rb")
	assert.False(t, ok)
}

func TestRegistry_GetNormalizesExtension(t *testing.T) {
	r := NewRegistry()
	e, err := NewTreeSitterExtractor("go")
	require.NoError(t, err)
	r.Register(e)

	_, ok := r.Get("GO")
	assert.True(t, ok)

	_, ok = r.Get("go")
	assert.True(t, ok)
}

func TestDefaultRegistry_HasAllLanguages(t *testing.T) {
	r := DefaultRegistry()
	for _, ext := range []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py"} {
		_, ok := r.Get(ext)
		assert.True(t, ok, "expected extractor for %s", ext)
	}
}
