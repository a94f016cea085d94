package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCode_UsesWholeAlphabet(t *testing.T) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	seen := make(map[rune]int)
	for i := 0; i < 2000; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, strings.ContainsRune(letters, r), "unexpected rune %q in %s", r, code)
			seen[r]++
		}
	}
	assert.Len(t, seen, len(letters))
}
