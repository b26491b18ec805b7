package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileFormatForItag(t *testing.T) {
	assert.Equal(t, "webm", FileFormatForItag(251))
	assert.Equal(t, "m4a", FileFormatForItag(140))
	assert.Equal(t, DefaultFileFormat, FileFormatForItag(18))
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "music/a_b.webm", SanitizePath("music/a|b.webm"))
	assert.Equal(t, "music/track.m4a", SanitizePath("music/track .m4a"))
}
