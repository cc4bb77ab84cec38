package detector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/transport"
	"github.com/streamvault/streamvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	bodies map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ transport.Options) ([]byte, error) {
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("no response configured for " + url)
	}
	return body, nil
}

func testConfig() config.DetectorConfig {
	return config.DetectorConfig{
		MinDuration:           300,
		MergeTolerance:        0.15,
		PruneRatio:            0.7,
		RejectUnknownDuration: true,
	}
}

func newTestDetector(t *testing.T, cfg config.DetectorConfig, bodies map[string][]byte) *Detector {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)
	return New(cfg, &fakeFetcher{bodies: bodies}, logger)
}

// vodMPD builds a static manifest with the given duration and one video
// representation at the given bandwidth and height.
func vodMPD(duration string, bandwidth int64, height int) []byte {
	return []byte(fmt.Sprintf(`<MPD type="static" mediaPresentationDuration="%s">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <BaseURL>video.mp4</BaseURL>
      <Representation id="v1" bandwidth="%d" width="%d" height="%d"/>
    </AdaptationSet>
  </Period>
</MPD>`, duration, bandwidth, height*16/9, height))
}

func TestObserveMergesNearDuplicates(t *testing.T) {
	bodies := map[string][]byte{
		"https://cdn-a.example.com/movie.mpd": vodMPD("PT10M0S", 4_800_000, 1080),
		"https://cdn-b.example.com/movie.mpd": vodMPD("PT10M5S", 2_400_000, 720),
		"https://cdn-c.example.com/movie.mpd": vodMPD("PT10M2S", 1_200_000, 480),
	}
	d := newTestDetector(t, testConfig(), bodies)

	first, reason, err := d.Observe(context.Background(), "https://cdn-a.example.com/movie.mpd", "dash", "period-0")
	require.NoError(t, err)
	require.Empty(t, reason)

	for _, url := range []string{"https://cdn-b.example.com/movie.mpd", "https://cdn-c.example.com/movie.mpd"} {
		merged, reason, err := d.Observe(context.Background(), url, "dash", "period-0")
		require.NoError(t, err)
		require.Empty(t, reason)
		assert.Equal(t, first.ID, merged.ID)
	}

	streams := d.Streams()
	require.Len(t, streams, 1)
	assert.InDelta(t, 600, streams[0].Duration, 0.001)

	// The three single-quality detections merged into one three-entry
	// list, sorted by descending bandwidth.
	require.Len(t, streams[0].Qualities, 3)
	assert.Equal(t, "1080p", streams[0].Qualities[0].Resolution)
	assert.Equal(t, "480p", streams[0].Qualities[2].Resolution)
}

func TestObserveDistinctDurationsStaySeparate(t *testing.T) {
	bodies := map[string][]byte{
		"https://example.com/a.mpd": vodMPD("PT10M", 4_800_000, 1080),
		"https://example.com/b.mpd": vodMPD("PT14M", 4_800_000, 1080),
	}
	d := newTestDetector(t, testConfig(), bodies)

	_, reason, err := d.Observe(context.Background(), "https://example.com/a.mpd", "dash", "")
	require.NoError(t, err)
	require.Empty(t, reason)

	// 840s is outside the 600s +/- 15% window.
	_, reason, err = d.Observe(context.Background(), "https://example.com/b.mpd", "dash", "")
	require.NoError(t, err)
	require.Empty(t, reason)

	assert.Len(t, d.Streams(), 2)
}

func TestObserveRejections(t *testing.T) {
	t.Run("DRM", func(t *testing.T) {
		mpd := `<MPD type="static" mediaPresentationDuration="PT10M">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
      <Representation id="v1" bandwidth="1000000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>`
		d := newTestDetector(t, testConfig(), map[string][]byte{"https://example.com/drm.mpd": []byte(mpd)})

		stream, reason, err := d.Observe(context.Background(), "https://example.com/drm.mpd", "dash", "")
		require.NoError(t, err)
		assert.Equal(t, RejectDRM, reason)
		assert.Nil(t, stream)
		assert.Empty(t, d.Streams())
	})

	t.Run("Live", func(t *testing.T) {
		playlist := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg0.ts\n#EXTINF:6.0,\nseg1.ts\n"
		d := newTestDetector(t, testConfig(), map[string][]byte{"https://example.com/live.m3u8": []byte(playlist)})

		_, reason, err := d.Observe(context.Background(), "https://example.com/live.m3u8", "hls", "")
		require.NoError(t, err)
		assert.Equal(t, RejectLive, reason)
	})

	t.Run("TooShort", func(t *testing.T) {
		d := newTestDetector(t, testConfig(), map[string][]byte{"https://example.com/ad.mpd": vodMPD("PT30S", 1_000_000, 720)})

		_, reason, err := d.Observe(context.Background(), "https://example.com/ad.mpd", "dash", "")
		require.NoError(t, err)
		assert.Equal(t, RejectTooShort, reason)
	})

	t.Run("UnknownDuration", func(t *testing.T) {
		mpd := `<MPD type="static"><Period></Period></MPD>`
		d := newTestDetector(t, testConfig(), map[string][]byte{"https://example.com/x.mpd": []byte(mpd)})

		_, reason, err := d.Observe(context.Background(), "https://example.com/x.mpd", "dash", "")
		require.NoError(t, err)
		assert.Equal(t, RejectUnknownDuration, reason)
	})

	t.Run("UnknownDurationAllowedByConfig", func(t *testing.T) {
		cfg := testConfig()
		cfg.RejectUnknownDuration = false
		d := newTestDetector(t, cfg, nil)

		stream, reason, err := d.Observe(context.Background(), "https://example.com/clip_1080.mp4", "direct", "")
		require.NoError(t, err)
		require.Empty(t, reason)
		require.NotNil(t, stream)

		// No manifest: the quality is synthesized from the URL.
		require.Len(t, stream.Qualities, 1)
		assert.Equal(t, "1080p", stream.Qualities[0].Resolution)
		assert.Zero(t, stream.Qualities[0].Bandwidth)
	})

	t.Run("Unparseable", func(t *testing.T) {
		d := newTestDetector(t, testConfig(), map[string][]byte{"https://example.com/login": []byte("<!DOCTYPE html><html>sign in</html>")})

		_, reason, err := d.Observe(context.Background(), "https://example.com/login", "", "")
		assert.Error(t, err)
		assert.Equal(t, RejectUnparseable, reason)
	})
}

func TestPruneShortStreams(t *testing.T) {
	cfg := testConfig()
	cfg.MinDuration = 100
	bodies := map[string][]byte{
		"https://example.com/trailer.mpd": vodMPD("PT3M20S", 1_000_000, 720), // 200s
		"https://example.com/movie.mpd":   vodMPD("PT16M40S", 4_800_000, 1080), // 1000s
	}
	d := newTestDetector(t, cfg, bodies)

	// The trailer alone survives: pruning never applies to a pool of one.
	_, reason, err := d.Observe(context.Background(), "https://example.com/trailer.mpd", "dash", "")
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Len(t, d.Streams(), 1)

	// The feature arrives and the trailer falls below 70% of the new max.
	movie, reason, err := d.Observe(context.Background(), "https://example.com/movie.mpd", "dash", "")
	require.NoError(t, err)
	require.Empty(t, reason)

	streams := d.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, movie.ID, streams[0].ID)
	assert.InDelta(t, 1000, streams[0].Duration, 0.001)

	// Pruning is idempotent: re-observing the feature merges, no change.
	_, reason, err = d.Observe(context.Background(), "https://example.com/movie.mpd", "dash", "")
	require.NoError(t, err)
	require.Empty(t, reason)
	assert.Len(t, d.Streams(), 1)
}

func TestPruneRejectsLateShortCandidate(t *testing.T) {
	cfg := testConfig()
	cfg.MinDuration = 100
	bodies := map[string][]byte{
		"https://example.com/movie.mpd":   vodMPD("PT16M40S", 4_800_000, 1080),
		"https://example.com/trailer.mpd": vodMPD("PT3M20S", 1_000_000, 720),
	}
	d := newTestDetector(t, cfg, bodies)

	_, reason, err := d.Observe(context.Background(), "https://example.com/movie.mpd", "dash", "")
	require.NoError(t, err)
	require.Empty(t, reason)

	stream, reason, err := d.Observe(context.Background(), "https://example.com/trailer.mpd", "dash", "")
	require.NoError(t, err)
	assert.Equal(t, RejectTooShort, reason)
	assert.Nil(t, stream)
	assert.Len(t, d.Streams(), 1)
}

func TestMergeQualities(t *testing.T) {
	existing := models.QualityList{
		{Resolution: "1080p", Bandwidth: 4_800_000, URL: "https://a/1080.m3u8"},
		{Resolution: "720p", Bandwidth: 2_400_000, URL: "https://a/720.m3u8"},
	}
	incoming := models.QualityList{
		// Same bucket as the existing 1080p entry: first seen wins.
		{Resolution: "1080p", Bandwidth: 4_850_000, URL: "https://b/1080.m3u8"},
		{Resolution: "480p", Bandwidth: 1_200_000, URL: "https://b/480.m3u8"},
	}

	merged := mergeQualities(existing, incoming)
	require.Len(t, merged, 3)
	assert.Equal(t, "https://a/1080.m3u8", merged[0].URL)
	assert.Equal(t, "720p", merged[1].Resolution)
	assert.Equal(t, "480p", merged[2].Resolution)
}

func TestHLSMasterDurationFromMediaPlaylist(t *testing.T) {
	master := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=4800000,RESOLUTION=1920x1080
1080/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720
720/index.m3u8
`
	media := "#EXTM3U\n#EXTINF:300.0,\nseg0.ts\n#EXTINF:300.0,\nseg1.ts\n#EXT-X-ENDLIST\n"
	bodies := map[string][]byte{
		"https://example.com/hls/master.m3u8":     []byte(master),
		"https://example.com/hls/1080/index.m3u8": []byte(media),
	}
	d := newTestDetector(t, testConfig(), bodies)

	stream, reason, err := d.Observe(context.Background(), "https://example.com/hls/master.m3u8", "hls", "")
	require.NoError(t, err)
	require.Empty(t, reason)

	assert.Equal(t, models.StreamTypeHLS, stream.Type)
	assert.InDelta(t, 600, stream.Duration, 0.001)
	assert.Len(t, stream.Qualities, 2)
}

func TestClear(t *testing.T) {
	d := newTestDetector(t, testConfig(), map[string][]byte{"https://example.com/a.mpd": vodMPD("PT10M", 4_800_000, 1080)})

	_, _, err := d.Observe(context.Background(), "https://example.com/a.mpd", "dash", "")
	require.NoError(t, err)
	require.Len(t, d.Streams(), 1)

	d.Clear()
	assert.Empty(t, d.Streams())

	_, ok := d.Get("anything")
	assert.False(t, ok)
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, models.StreamTypeHLS, normalizeType("https://x/playlist.m3u8?tok=1", ""))
	assert.Equal(t, models.StreamTypeDASH, normalizeType("https://x/stream.mpd", ""))
	assert.Equal(t, models.StreamTypeDirect, normalizeType("https://x/video.mp4", ""))
	assert.Equal(t, models.StreamTypeUnknown, normalizeType("https://x/watch", ""))
	assert.Equal(t, models.StreamTypeHLS, normalizeType("https://x/whatever", models.StreamTypeHLS))
}
