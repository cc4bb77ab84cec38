package manifest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveURL(t *testing.T) {
	base := "https://example.com/stream/manifest.m3u8"

	t.Run("RelativeWithQueryToken", func(t *testing.T) {
		got := ResolveURL(base, "segment.ts?token=abc")
		assert.Equal(t, "https://example.com/stream/segment.ts?token=abc", got)
	})

	t.Run("AbsolutePath", func(t *testing.T) {
		got := ResolveURL(base, "/videos/segment.ts")
		assert.Equal(t, "https://example.com/videos/segment.ts", got)
	})

	t.Run("AbsoluteURLPassesThrough", func(t *testing.T) {
		ref := "https://cdn.example.net/seg/0001.ts?auth=xyz"
		assert.Equal(t, ref, ResolveURL(base, ref))
	})

	t.Run("BaseQueryStripped", func(t *testing.T) {
		got := ResolveURL("https://example.com/stream/manifest.m3u8?session=1", "seg0.ts")
		assert.Equal(t, "https://example.com/stream/seg0.ts", got)
	})

	t.Run("ProtocolRelative", func(t *testing.T) {
		got := ResolveURL(base, "//cdn.example.net/seg.ts")
		assert.Equal(t, "https://cdn.example.net/seg.ts", got)
	})

	t.Run("HostOnlyBase", func(t *testing.T) {
		got := ResolveURL("https://example.com", "media.m3u8")
		assert.Equal(t, "https://example.com/media.m3u8", got)
	})

	t.Run("EmptyRef", func(t *testing.T) {
		assert.Equal(t, "", ResolveURL(base, ""))
	})

	t.Run("NestedRelativeDirectory", func(t *testing.T) {
		got := ResolveURL("https://example.com/a/b/c/playlist.m3u8", "chunks/seg_12.m4s")
		assert.Equal(t, "https://example.com/a/b/c/chunks/seg_12.m4s", got)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrNoContent))
	assert.True(t, IsRetryable(ErrNetwork))
	assert.False(t, IsRetryable(ErrInvalidManifest))
	assert.False(t, IsRetryable(ErrXMLParsing))
	assert.False(t, IsRetryable(ErrNoSegments))

	// Unclassified errors (segment fetch failures, disk errors) default to
	// retryable; only structural parse failures are permanent.
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.False(t, IsRetryable(fmt.Errorf("%w: missing #EXTM3U tag", ErrInvalidManifest)))
}
