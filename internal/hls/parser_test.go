package hls

import (
	"testing"

	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",DEFAULT=YES,URI="audio/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=5000000,AVERAGE-BANDWIDTH=4500000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
1080p/playlist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
720p/playlist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000
480p/playlist.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10,
segment0.ts?token=abc
#EXTINF:10,
segment1.ts?token=abc
#EXTINF:8.5,
segment2.ts?token=abc
#EXT-X-ENDLIST
`

func TestParseMaster(t *testing.T) {
	info, err := Parse([]byte(masterPlaylist), "https://example.com/stream/master.m3u8")
	require.NoError(t, err)

	require.Len(t, info.Qualities, 3)

	// Sorted by strictly non-increasing bandwidth.
	for i := 1; i < len(info.Qualities); i++ {
		assert.GreaterOrEqual(t, info.Qualities[i-1].Bandwidth, info.Qualities[i].Bandwidth)
	}

	assert.Equal(t, "1080p", info.Qualities[0].Resolution)
	assert.Equal(t, int64(5000000), info.Qualities[0].Bandwidth)
	assert.Equal(t, "avc1.640028,mp4a.40.2", info.Qualities[0].Codecs)
	assert.Equal(t, "https://example.com/stream/1080p/playlist.m3u8", info.Qualities[0].URL)

	assert.Equal(t, "720p", info.Qualities[1].Resolution)

	// No RESOLUTION attribute on the third entry.
	assert.Equal(t, "Unknown", info.Qualities[2].Resolution)

	assert.False(t, info.IsLive)
	assert.False(t, info.IsDRMProtected)
	assert.Empty(t, info.Segments)
}

func TestParseMasterSubtitles(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",URI="subs/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1000000,SUBTITLES="subs"
video.m3u8
`
	info, err := Parse([]byte(playlist), "https://example.com/master.m3u8")
	require.NoError(t, err)
	assert.True(t, info.HasSubtitles)
}

func TestParseMedia(t *testing.T) {
	info, err := Parse([]byte(mediaPlaylist), "https://example.com/stream/manifest.m3u8")
	require.NoError(t, err)

	assert.False(t, info.IsLive)
	require.Len(t, info.Segments, 3)

	for i, seg := range info.Segments {
		assert.Equal(t, i, seg.Index)
	}

	// Query strings must survive resolution verbatim.
	assert.Equal(t, "https://example.com/stream/segment0.ts?token=abc", info.Segments[0].URL)

	// Total duration is the EXTINF sum: 10 + 10 + 8.5.
	assert.InDelta(t, 28.5, info.TotalDuration, 0.001)
	assert.InDelta(t, 8.5, info.Segments[2].Duration, 0.001)

	assert.Equal(t, 0, info.MediaSequence)
}

func TestParseMediaSequence(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:2680
#EXTINF:10,
segment2680.ts
#EXTINF:10,
segment2681.ts
#EXT-X-ENDLIST
`
	info, err := Parse([]byte(playlist), "https://example.com/stream/manifest.m3u8")
	require.NoError(t, err)
	assert.Equal(t, 2680, info.MediaSequence)

	// Segment indexes stay 0-based; the offset applies at decryption time.
	require.Len(t, info.Segments, 2)
	assert.Equal(t, 0, info.Segments[0].Index)
}

func TestParseMediaLive(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6,
chunk_001.ts
#EXTINF:6,
chunk_002.ts
`
	info, err := Parse([]byte(playlist), "https://example.com/live/stream.m3u8")
	require.NoError(t, err)
	assert.True(t, info.IsLive, "no EXT-X-ENDLIST means live")
	assert.Len(t, info.Segments, 2)
}

func TestParseMediaEncryption(t *testing.T) {
	t.Run("AES128", func(t *testing.T) {
		playlist := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="keys/key.bin",IV=0x9c7db8778570d29c3fc9eb2d4240a12e
#EXTINF:10,
seg0.ts
#EXT-X-ENDLIST
`
		info, err := Parse([]byte(playlist), "https://example.com/vod/index.m3u8")
		require.NoError(t, err)
		assert.False(t, info.IsDRMProtected)
		assert.Equal(t, "https://example.com/vod/keys/key.bin", info.KeyURL)
		assert.Equal(t, "0x9c7db8778570d29c3fc9eb2d4240a12e", info.KeyIV)
	})

	t.Run("AES128WithoutIV", func(t *testing.T) {
		playlist := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="keys/key.bin"
#EXTINF:10,
seg0.ts
#EXT-X-ENDLIST
`
		info, err := Parse([]byte(playlist), "https://example.com/vod/index.m3u8")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/vod/keys/key.bin", info.KeyURL)
		assert.Empty(t, info.KeyIV)
	})

	t.Run("SampleAESIsDRM", func(t *testing.T) {
		playlist := `#EXTM3U
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://key",KEYFORMAT="com.apple.streamingkeydelivery"
#EXTINF:10,
seg0.ts
#EXT-X-ENDLIST
`
		info, err := Parse([]byte(playlist), "https://example.com/vod/index.m3u8")
		require.NoError(t, err)
		assert.True(t, info.IsDRMProtected)
		assert.Empty(t, info.KeyURL)
	})

	t.Run("WidevineKeyFormatIsDRM", func(t *testing.T) {
		playlist := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="data:...",KEYFORMAT="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"
#EXTINF:10,
seg0.ts
#EXT-X-ENDLIST
`
		info, err := Parse([]byte(playlist), "https://example.com/vod/index.m3u8")
		require.NoError(t, err)
		assert.True(t, info.IsDRMProtected)
	})
}

func TestParseMediaFragmented(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"
#EXTINF:4,
seg_1.m4s
#EXTINF:4,
seg_2.m4s
#EXT-X-ENDLIST
`
	info, err := Parse([]byte(playlist), "https://example.com/cmaf/video.m3u8")
	require.NoError(t, err)

	assert.True(t, info.Fragmented)
	require.NotNil(t, info.InitSegment)
	assert.Equal(t, "https://example.com/cmaf/init.mp4", info.InitSegment.URL)
	assert.Equal(t, "720@0", info.InitSegment.ByteRange)
}

func TestParseFailures(t *testing.T) {
	t.Run("EmptyBody", func(t *testing.T) {
		_, err := Parse(nil, "https://example.com/m.m3u8")
		assert.ErrorIs(t, err, manifest.ErrNoContent)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		_, err := Parse([]byte("not a playlist"), "https://example.com/m.m3u8")
		assert.ErrorIs(t, err, manifest.ErrInvalidManifest)
	})
}

func TestAttrValue(t *testing.T) {
	line := `#EXT-X-STREAM-INF:AVERAGE-BANDWIDTH=4500000,BANDWIDTH=5000000,CODECS="avc1,mp4a",RESOLUTION=1920x1080`

	t.Run("NoSubstringMatch", func(t *testing.T) {
		// BANDWIDTH must not match inside AVERAGE-BANDWIDTH.
		assert.Equal(t, "5000000", attrValue(line, "BANDWIDTH"))
		assert.Equal(t, "4500000", attrValue(line, "AVERAGE-BANDWIDTH"))
	})

	t.Run("QuotedValueWithComma", func(t *testing.T) {
		assert.Equal(t, "avc1,mp4a", attrValue(line, "CODECS"))
	})

	t.Run("LastAttribute", func(t *testing.T) {
		assert.Equal(t, "1920x1080", attrValue(line, "RESOLUTION"))
	})

	t.Run("Missing", func(t *testing.T) {
		assert.Equal(t, "", attrValue(line, "FRAME-RATE"))
	})
}
