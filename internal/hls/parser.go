// Package hls parses HLS (.m3u8) playlists into the shared rendition model.
//
// The parser is line-oriented and tolerant: real-world playlists are full of
// vendor tags, stray blank lines and attribute lists in arbitrary order, so
// unknown tags are skipped rather than rejected.
package hls

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/streamvault/streamvault/pkg/models"
)

const (
	tagHeader        = "#EXTM3U"
	tagStreamInf     = "#EXT-X-STREAM-INF"
	tagMedia         = "#EXT-X-MEDIA"
	tagMediaSequence = "#EXT-X-MEDIA-SEQUENCE"
	tagKey           = "#EXT-X-KEY"
	tagMap           = "#EXT-X-MAP"
	tagInf           = "#EXTINF"
	tagEndList       = "#EXT-X-ENDLIST"
)

// Parse parses raw playlist text fetched from manifestURL. The URL is
// needed to resolve relative segment and rendition references.
//
// Presence of any EXT-X-STREAM-INF tag selects master-playlist parsing;
// otherwise the input is treated as a media playlist. A playlist is never
// both.
func Parse(body []byte, manifestURL string) (*models.RenditionInfo, error) {
	text := string(body)
	if strings.TrimSpace(text) == "" {
		return nil, manifest.ErrNoContent
	}
	if !strings.Contains(text, tagHeader) {
		return nil, fmt.Errorf("%w: missing %s tag", manifest.ErrInvalidManifest, tagHeader)
	}

	lines := splitLines(text)

	if containsTag(lines, tagStreamInf) {
		return parseMaster(lines, manifestURL)
	}
	return parseMedia(lines, manifestURL)
}

// parseMaster walks a master playlist: each EXT-X-STREAM-INF line describes
// one rendition and the following non-comment line is its playlist URL.
func parseMaster(lines []string, manifestURL string) (*models.RenditionInfo, error) {
	info := &models.RenditionInfo{}

	var pending *models.Quality
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, tagStreamInf):
			pending = &models.Quality{
				Resolution: resolutionLabel(attrValue(line, "RESOLUTION")),
				Bandwidth:  parseBandwidth(attrValue(line, "BANDWIDTH")),
				Codecs:     attrValue(line, "CODECS"),
			}

		case strings.HasPrefix(line, tagMedia):
			if strings.EqualFold(attrValue(line, "TYPE"), "SUBTITLES") {
				info.HasSubtitles = true
			}

		case strings.HasPrefix(line, tagKey):
			if keyIsDRM(line) {
				info.IsDRMProtected = true
			}

		case strings.HasPrefix(line, "#"):
			// Unrelated tag.

		default:
			if pending != nil {
				pending.URL = manifest.ResolveURL(manifestURL, line)
				info.Qualities = append(info.Qualities, *pending)
				pending = nil
			}
		}
	}

	sort.SliceStable(info.Qualities, func(i, j int) bool {
		return info.Qualities[i].Bandwidth > info.Qualities[j].Bandwidth
	})

	return info, nil
}

// parseMedia walks a media playlist and collects the segment list. The
// stream is live unless EXT-X-ENDLIST is present.
func parseMedia(lines []string, manifestURL string) (*models.RenditionInfo, error) {
	info := &models.RenditionInfo{IsLive: true}

	pendingDuration := 0.0
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, tagInf):
			pendingDuration = parseExtInf(line)

		case line == tagEndList:
			info.IsLive = false

		case strings.HasPrefix(line, tagMediaSequence):
			info.MediaSequence = parseMediaSequence(line)

		case strings.HasPrefix(line, tagKey):
			method := attrValue(line, "METHOD")
			switch {
			case keyIsDRM(line):
				info.IsDRMProtected = true
			case strings.EqualFold(method, "AES-128"):
				info.KeyURL = manifest.ResolveURL(manifestURL, attrValue(line, "URI"))
				info.KeyIV = attrValue(line, "IV")
			}

		case strings.HasPrefix(line, tagMap):
			info.Fragmented = true
			info.InitSegment = &models.InitSegment{
				URL:       manifest.ResolveURL(manifestURL, attrValue(line, "URI")),
				ByteRange: attrValue(line, "BYTERANGE"),
			}

		case strings.HasPrefix(line, "#"):
			// Unrelated tag.

		case strings.Contains(line, "."):
			info.Segments = append(info.Segments, models.Segment{
				URL:      manifest.ResolveURL(manifestURL, line),
				Duration: pendingDuration,
				Index:    len(info.Segments),
			})
			info.TotalDuration += pendingDuration
			pendingDuration = 0
		}
	}

	return info, nil
}

// keyIsDRM reports whether an EXT-X-KEY tag describes platform DRM rather
// than plain AES-128. Sample-AES and any non-identity KEYFORMAT (FairPlay,
// Widevine urn schemes) mean the rendition cannot be decrypted locally.
func keyIsDRM(line string) bool {
	if strings.Contains(strings.ToUpper(attrValue(line, "METHOD")), "SAMPLE-AES") {
		return true
	}
	keyFormat := attrValue(line, "KEYFORMAT")
	return keyFormat != "" && !strings.EqualFold(keyFormat, "identity")
}

// parseMediaSequence extracts the starting sequence number from
// "#EXT-X-MEDIA-SEQUENCE:<number>", defaulting to 0.
func parseMediaSequence(line string) int {
	v := strings.TrimPrefix(line, tagMediaSequence+":")
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseExtInf extracts the duration from "#EXTINF:<duration>,<title>".
func parseExtInf(line string) float64 {
	v := strings.TrimPrefix(line, tagInf+":")
	if i := strings.Index(v, ","); i >= 0 {
		v = v[:i]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// parseBandwidth parses a BANDWIDTH attribute, defaulting to 0 when the
// attribute is absent or unparseable.
func parseBandwidth(v string) int64 {
	b, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return b
}

// resolutionLabel converts a RESOLUTION attribute ("1920x1080") into the
// "<height>p" label, or "Unknown" when absent or malformed.
func resolutionLabel(v string) string {
	_, heightStr, ok := strings.Cut(v, "x")
	if !ok {
		return models.FormatResolution(0)
	}
	height, err := strconv.Atoi(strings.TrimSpace(heightStr))
	if err != nil {
		return models.FormatResolution(0)
	}
	return models.FormatResolution(height)
}

// attrValue extracts the value of key from an attribute-list tag line,
// handling both KEY=value and KEY="quoted value" forms. Matches are
// anchored on attribute boundaries so BANDWIDTH never matches inside
// AVERAGE-BANDWIDTH. Returns "" when the key is not present.
func attrValue(line, key string) string {
	search := key + "="
	from := 0
	for {
		i := strings.Index(line[from:], search)
		if i < 0 {
			return ""
		}
		i += from

		if i > 0 {
			switch line[i-1] {
			case ',', ':', ' ', '\t':
				// Attribute boundary.
			default:
				from = i + len(search)
				continue
			}
		}

		v := line[i+len(search):]
		if strings.HasPrefix(v, `"`) {
			if j := strings.Index(v[1:], `"`); j >= 0 {
				return v[1 : j+1]
			}
			return v[1:]
		}
		if j := strings.Index(v, ","); j >= 0 {
			return v[:j]
		}
		return v
	}
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func containsTag(lines []string, tag string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, tag) {
			return true
		}
	}
	return false
}
