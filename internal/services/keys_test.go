package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyHasher_Deterministic(t *testing.T) {
	h := NewKeyHasher("pepper")

	assert.Equal(t, h.Hash("sk_abc"), h.Hash("sk_abc"))
	assert.NotEqual(t, h.Hash("sk_abc"), h.Hash("sk_abd"))
	assert.Len(t, h.Hash("sk_abc"), 64)
}

func TestKeyHasher_PepperChangesHash(t *testing.T) {
	a := NewKeyHasher("one")
	b := NewKeyHasher("two")

	assert.NotEqual(t, a.Hash("sk_abc"), b.Hash("sk_abc"))
}

func TestKeyHasher_Generate(t *testing.T) {
	h := NewKeyHasher("pepper")

	k1, err := h.Generate()
	require.NoError(t, err)
	k2, err := h.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k1.Plaintext, "sk_"))
	assert.NotEqual(t, k1.Plaintext, k2.Plaintext)
	assert.Equal(t, h.Hash(k1.Plaintext), k1.Hash)
	assert.Equal(t, k1.Plaintext[:12], k1.Prefix)
	assert.NotContains(t, k1.Hash, k1.Plaintext)
}
