package dash

import (
	"testing"

	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vodManifest = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10M34.5S" minBufferTime="PT2S">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/seg_$Number$.m4s" startNumber="1"/>
      <Representation id="v1080" bandwidth="4800000" width="1920" height="1080" codecs="avc1.640028"/>
      <Representation id="v720" bandwidth="2400000" width="1280" height="720" codecs="avc1.64001f"/>
      <Representation id="v480" bandwidth="1200000" width="854" codecs="avc1.64001e"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      <Label>English</Label>
      <Representation id="a128" bandwidth="128000" codecs="mp4a.40.2"/>
      <Representation id="a64" bandwidth="64000" codecs="mp4a.40.2"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseVOD(t *testing.T) {
	info, err := Parse([]byte(vodManifest), "https://example.com/dash/stream.mpd")
	require.NoError(t, err)

	assert.False(t, info.IsLive)
	assert.False(t, info.IsDRMProtected)
	assert.InDelta(t, 634.5, info.TotalDuration, 0.001)
	assert.InDelta(t, 2.0, info.MinBufferTime, 0.001)

	require.Len(t, info.Qualities, 3)
	assert.Equal(t, "1080p", info.Qualities[0].Resolution)
	assert.Equal(t, int64(4800000), info.Qualities[0].Bandwidth)
	assert.Equal(t, "https://example.com/dash/v1080/init.mp4", info.Qualities[0].URL)

	// Height estimated from width at 16:9 when absent.
	assert.Equal(t, "480p", info.Qualities[2].Resolution)

	for i := 1; i < len(info.Qualities); i++ {
		assert.GreaterOrEqual(t, info.Qualities[i-1].Bandwidth, info.Qualities[i].Bandwidth)
	}

	// One track per audio AdaptationSet, highest bandwidth wins.
	require.Len(t, info.AudioTracks, 1)
	assert.Equal(t, "en", info.AudioTracks[0].Language)
	assert.Equal(t, "English", info.AudioTracks[0].Label)
	assert.Equal(t, int64(128000), info.AudioTracks[0].Bandwidth)
}

func TestParseDynamicIsLive(t *testing.T) {
	mpd := `<MPD type="dynamic" minimumUpdatePeriod="PT2S"><Period></Period></MPD>`
	info, err := Parse([]byte(mpd), "https://example.com/live.mpd")
	require.NoError(t, err)
	assert.True(t, info.IsLive)
	assert.Zero(t, info.TotalDuration)
}

func TestParseContentProtection(t *testing.T) {
	mpd := `<MPD type="static" mediaPresentationDuration="PT5M">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
      <Representation id="v1" bandwidth="1000000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>`
	info, err := Parse([]byte(mpd), "https://example.com/drm.mpd")
	require.NoError(t, err)
	assert.True(t, info.IsDRMProtected)
}

func TestParseSubtitleAdaptationSet(t *testing.T) {
	mpd := `<MPD type="static" mediaPresentationDuration="PT5M">
  <Period>
    <AdaptationSet contentType="text" mimeType="application/ttml+xml" lang="en">
      <Representation id="t1" bandwidth="2000"/>
    </AdaptationSet>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <BaseURL>video/main.mp4</BaseURL>
      <Representation id="v1" bandwidth="900000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>`
	info, err := Parse([]byte(mpd), "https://example.com/sub/stream.mpd")
	require.NoError(t, err)

	assert.True(t, info.HasSubtitles)
	require.Len(t, info.Qualities, 1)

	// Representation has no own BaseURL or template: the AdaptationSet's
	// BaseURL is next in priority.
	assert.Equal(t, "https://example.com/sub/video/main.mp4", info.Qualities[0].URL)
}

func TestParseRepresentationBaseURLOverrides(t *testing.T) {
	mpd := `<MPD type="static" mediaPresentationDuration="PT5M">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <BaseURL>set/</BaseURL>
      <Representation id="v1" bandwidth="900000" width="1280" height="720">
        <BaseURL>rep/video.mp4</BaseURL>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`
	info, err := Parse([]byte(mpd), "https://example.com/a/stream.mpd")
	require.NoError(t, err)

	require.Len(t, info.Qualities, 1)
	assert.Equal(t, "https://example.com/a/rep/video.mp4", info.Qualities[0].URL)
}

func TestParseFailures(t *testing.T) {
	t.Run("EmptyBody", func(t *testing.T) {
		_, err := Parse([]byte("  \n"), "https://example.com/x.mpd")
		assert.ErrorIs(t, err, manifest.ErrNoContent)
	})

	t.Run("NotXML", func(t *testing.T) {
		_, err := Parse([]byte("<!DOCTYPE html><html>login</html>"), "https://example.com/x.mpd")
		assert.ErrorIs(t, err, manifest.ErrInvalidManifest)
	})

	t.Run("MalformedXML", func(t *testing.T) {
		_, err := Parse([]byte(`<MPD type="static"><Period><AdaptationSet></Period>`), "https://example.com/x.mpd")
		assert.ErrorIs(t, err, manifest.ErrXMLParsing)
	})
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"PT2H15M30S", 8130, true},
		{"PT45.5S", 45.5, true},
		{"PT1H", 3600, true},
		{"PT30M", 1800, true},
		{"PT0S", 0, false},
		{"invalid", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDuration(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}
