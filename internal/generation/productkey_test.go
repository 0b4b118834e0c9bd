package generation

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductKey(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		key, err := NewProductKey(rand.Reader)
		require.NoError(t, err)
		assert.True(t, ValidProductKey(key), key)
		assert.Len(t, key, 19)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestNewProductKeyUsesInjectedRandom(t *testing.T) {
	source := bytes.Repeat([]byte{0, 1, 30, 31}, 4)

	key, err := NewProductKey(bytes.NewReader(source))
	require.NoError(t, err)
	assert.Equal(t, "AB89-AB89-AB89-AB89", key)

	_, err = NewProductKey(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestNormalizeProductKey(t *testing.T) {
	tests := map[string]string{
		"ab89-ab89-ab89-ab89":   "AB89-AB89-AB89-AB89",
		"AB89AB89AB89AB89":      "AB89-AB89-AB89-AB89",
		" ab89 ab89 ab89 ab89 ": "AB89-AB89-AB89-AB89",
		"short":                 "SHORT",
	}

	for input, expected := range tests {
		assert.Equal(t, expected, NormalizeProductKey(input), input)
	}

	assert.False(t, ValidProductKey("AB0O-AB89-AB89-AB89"), "ambiguous characters are never issued")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "AB89-AB8***", MaskKey("AB89-AB89-AB89-AB89"))
	assert.Equal(t, "***", MaskKey("short"))
}
