package sftpsvc

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BackoffDelay(c.attempt))
	}
}

func TestIsRetryableEOF(t *testing.T) {
	assert.True(t, IsRetryable(io.ErrUnexpectedEOF))
	assert.False(t, IsRetryable(nil))
}

func TestNormalizePathTilde(t *testing.T) {
	require.Equal(t, "/home/user/projects", NormalizePath("~/projects", "/home/user"))
	require.Equal(t, "/home/user", NormalizePath("~", "/home/user"))
	require.Equal(t, "/home/user/etc", NormalizePath("../etc", "/home/user/sub"))
}

func TestClassifyPreview(t *testing.T) {
	assert.Equal(t, PreviewText, ClassifyPreview("main.go"))
	assert.Equal(t, PreviewImage, ClassifyPreview("photo.PNG"))
	assert.Equal(t, PreviewBinary, ClassifyPreview("binary.out"))
}
