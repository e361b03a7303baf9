package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashString(""))
	assert.Len(t, HashString("windows update"), 64)
}

func TestContentKeySeparatesParts(t *testing.T) {
	assert.NotEqual(t, ContentKey("ab", "c"), ContentKey("a", "bc"))
	assert.Equal(t, ContentKey("model", "text"), ContentKey("model", "text"))
}
