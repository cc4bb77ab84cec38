// Package dash parses DASH (.mpd) manifests into the shared rendition
// model using a streaming XML walk, so a large manifest never needs a full
// DOM in memory.
package dash

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/streamvault/streamvault/pkg/models"
)

// segmentTemplate carries the URL templates of a SegmentTemplate element.
// $Number$ and $Time$ are runtime indexing tokens; at detection time only
// the initialization template is resolvable.
type segmentTemplate struct {
	initialization string
	media          string
}

// representation accumulates the attributes of one Representation element.
// Its own BaseURL and SegmentTemplate override the parent AdaptationSet's.
type representation struct {
	id        string
	bandwidth int64
	width     int
	height    int
	codecs    string
	baseURL   string
	template  *segmentTemplate
}

// adaptationSet accumulates one AdaptationSet and its representations.
type adaptationSet struct {
	contentType string
	mimeType    string
	lang        string
	label       string
	baseURL     string
	template    *segmentTemplate
	protected   bool
	reps        []representation
}

// Parse parses MPD XML fetched from manifestURL.
//
// Non-XML input is rejected cheaply by an <MPD substring check before the
// decoder runs; genuinely malformed XML surfaces as ErrXMLParsing wrapping
// the decoder's own error.
func Parse(body []byte, manifestURL string) (*models.RenditionInfo, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, manifest.ErrNoContent
	}
	if !bytes.Contains(body, []byte("<MPD")) {
		return nil, fmt.Errorf("%w: no MPD root element", manifest.ErrInvalidManifest)
	}

	info := &models.RenditionInfo{}

	var (
		videoSets []adaptationSet
		audioSets []adaptationSet
		curSet    *adaptationSet
		curRep    *representation
	)

	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", manifest.ErrXMLParsing, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "MPD":
				info.IsLive = attr(el, "type") == "dynamic"
				if d, ok := ParseDuration(attr(el, "mediaPresentationDuration")); ok {
					info.TotalDuration = d
				}
				if d, ok := ParseDuration(attr(el, "minBufferTime")); ok {
					info.MinBufferTime = d
				}

			case "AdaptationSet":
				curSet = &adaptationSet{
					contentType: attr(el, "contentType"),
					mimeType:    attr(el, "mimeType"),
					lang:        attr(el, "lang"),
					label:       attr(el, "label"),
				}

			case "Representation":
				curRep = &representation{
					id:        attr(el, "id"),
					bandwidth: parseInt64(attr(el, "bandwidth")),
					width:     parseInt(attr(el, "width")),
					height:    parseInt(attr(el, "height")),
					codecs:    attr(el, "codecs"),
				}

			case "SegmentTemplate":
				tmpl := &segmentTemplate{
					initialization: attr(el, "initialization"),
					media:          attr(el, "media"),
				}
				if curRep != nil {
					curRep.template = tmpl
				} else if curSet != nil {
					curSet.template = tmpl
				}

			case "ContentProtection":
				// Any protection scheme anywhere rejects the whole
				// manifest; DASH has no locally decryptable path here.
				info.IsDRMProtected = true
				if curSet != nil {
					curSet.protected = true
				}

			case "BaseURL":
				var text string
				if err := dec.DecodeElement(&text, &el); err != nil {
					return nil, fmt.Errorf("%w: %v", manifest.ErrXMLParsing, err)
				}
				text = strings.TrimSpace(text)
				if curRep != nil {
					curRep.baseURL = text
				} else if curSet != nil {
					curSet.baseURL = text
				}

			case "Label":
				if curSet != nil && curRep == nil {
					var text string
					if err := dec.DecodeElement(&text, &el); err != nil {
						return nil, fmt.Errorf("%w: %v", manifest.ErrXMLParsing, err)
					}
					curSet.label = strings.TrimSpace(text)
				}
			}

		case xml.EndElement:
			switch el.Name.Local {
			case "Representation":
				if curRep != nil {
					if curRep.template == nil && curSet != nil {
						curRep.template = curSet.template
					}
					if curSet != nil {
						curSet.reps = append(curSet.reps, *curRep)
					}
					curRep = nil
				}

			case "AdaptationSet":
				if curSet == nil {
					continue
				}
				switch classify(curSet) {
				case "video":
					videoSets = append(videoSets, *curSet)
				case "audio":
					audioSets = append(audioSets, *curSet)
				case "text":
					info.HasSubtitles = true
				}
				curSet = nil
			}
		}
	}

	assemble(info, videoSets, audioSets, manifestURL)
	return info, nil
}

// classify buckets an AdaptationSet by contentType, falling back to the
// mimeType prefix.
func classify(set *adaptationSet) string {
	switch set.contentType {
	case "video", "audio", "text":
		return set.contentType
	}
	switch {
	case strings.HasPrefix(set.mimeType, "video/"):
		return "video"
	case strings.HasPrefix(set.mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(set.mimeType, "text/"),
		strings.HasPrefix(set.mimeType, "application/ttml"),
		strings.Contains(set.mimeType, "vtt"):
		return "text"
	}
	return ""
}

// assemble turns the collected buckets into sorted qualities and audio
// tracks once the document has been fully walked.
func assemble(info *models.RenditionInfo, videoSets, audioSets []adaptationSet, manifestURL string) {
	for _, set := range videoSets {
		for _, rep := range set.reps {
			info.Qualities = append(info.Qualities, models.Quality{
				Resolution: resolutionLabel(rep.width, rep.height),
				Bandwidth:  rep.bandwidth,
				Codecs:     rep.codecs,
				URL:        playableURL(set, rep, manifestURL),
			})
		}
	}

	sort.SliceStable(info.Qualities, func(i, j int) bool {
		return info.Qualities[i].Bandwidth > info.Qualities[j].Bandwidth
	})

	// One track per audio AdaptationSet: its highest-bandwidth
	// representation speaks for the set.
	for _, set := range audioSets {
		var best *representation
		for i := range set.reps {
			if best == nil || set.reps[i].bandwidth > best.bandwidth {
				best = &set.reps[i]
			}
		}
		if best == nil {
			continue
		}
		info.AudioTracks = append(info.AudioTracks, models.AudioTrack{
			Language:  set.lang,
			Label:     set.label,
			Codecs:    best.codecs,
			Bandwidth: best.bandwidth,
		})
	}
}

// playableURL resolves the URL for one representation with the priority
// own BaseURL > template initialization > AdaptationSet BaseURL > the
// manifest URL itself.
func playableURL(set adaptationSet, rep representation, manifestURL string) string {
	if rep.baseURL != "" {
		return manifest.ResolveURL(manifestURL, rep.baseURL)
	}
	if rep.template != nil && rep.template.initialization != "" {
		return manifest.ResolveURL(manifestURL, expandTemplate(rep.template.initialization, rep))
	}
	if set.baseURL != "" {
		return manifest.ResolveURL(manifestURL, set.baseURL)
	}
	return manifestURL
}

// expandTemplate substitutes identity tokens in a segment template URL.
// $Number$ and $Time$ cannot be known at detection time and get placeholder
// values good enough for sizing and identification.
func expandTemplate(tmpl string, rep representation) string {
	r := strings.NewReplacer(
		"$RepresentationID$", rep.id,
		"$Bandwidth$", strconv.FormatInt(rep.bandwidth, 10),
		"$Number$", "1",
		"$Time$", "0",
	)
	return r.Replace(tmpl)
}

// resolutionLabel prefers the declared height and otherwise estimates it
// from the width assuming 16:9.
func resolutionLabel(width, height int) string {
	if height > 0 {
		return models.FormatResolution(height)
	}
	if width > 0 {
		return models.FormatResolution(width * 9 / 16)
	}
	return models.FormatResolution(0)
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseInt(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func parseInt64(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
