package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomStringIsRandom(t *testing.T) {
	a := GetLogToken()
	b := GetLogToken()
	if a == b {
		t.Fatal("strings are equal:", a, b)
	}
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	old := Loglevel()
	t.Cleanup(func() { SetLoglevel(old) })

	SetLoglevel(LOGLEVEL_WARNINGS)
	Log(LOGLEVEL_DEBUG, "hidden")
	assert.Empty(t, buf.String())

	Log(LOGLEVEL_ERRORS, "peer", " vanished")
	require.Contains(t, buf.String(), "peer vanished")
	assert.Contains(t, buf.String(), `"ll":"[ERR]"`)

	assert.True(t, IsLoggingEnabled(LOGLEVEL_WARNINGS))
	assert.False(t, IsLoggingEnabled(LOGLEVEL_INFO))
	assert.Nil(t, Event(LOGLEVEL_NONE))
}

func TestMapToChar(t *testing.T) {
	assert.Equal(t, byte('0'), mapToChar(0))
	assert.Equal(t, byte('A'), mapToChar(10))
	assert.Equal(t, byte('a'), mapToChar(36))
	assert.Equal(t, byte('0'), mapToChar(62))
}
