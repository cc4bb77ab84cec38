package dash

import (
	"regexp"
	"strconv"
)

// PT[nH][nM][n(.f)S]: every component is independently optional and the
// seconds may carry a fraction.
var durationRe = regexp.MustCompile(`^PT(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// ParseDuration parses an ISO-8601 duration as used by MPD attributes
// (mediaPresentationDuration, minBufferTime) into seconds.
//
// The second return value is false when nothing parsed or the total is
// zero: a literal PT0S is indistinguishable from "no duration" for our
// purposes, so both are reported as absent.
func ParseDuration(v string) (float64, bool) {
	m := durationRe.FindStringSubmatch(v)
	if m == nil {
		return 0, false
	}

	var total float64
	for i, mult := range []float64{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, false
		}
		total += f * mult
	}

	if total == 0 {
		return 0, false
	}
	return total, true
}
