package exec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBufferKeepsFullContentUnderLimit(t *testing.T) {
	tb := newTailBuffer()
	tb.Append([]byte("hello"))
	tb.Append([]byte(" world"))
	assert.Equal(t, "hello world", tb.String())
}

func TestTailBufferTrimsToMostRecentBytes(t *testing.T) {
	tb := newTailBuffer()
	tb.Append([]byte(strings.Repeat("a", tailMaxBytes)))
	tb.Append([]byte("trailing"))

	got := tb.String()
	assert.Len(t, got, tailMaxBytes)
	assert.True(t, strings.HasSuffix(got, "trailing"))
}

func TestTailBufferEmptyByDefault(t *testing.T) {
	tb := newTailBuffer()
	assert.Equal(t, "", tb.String())
}
