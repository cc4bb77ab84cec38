package manifest

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a segment, rendition or key reference against the
// manifest URL it was found in.
//
// This deliberately avoids url.URL.ResolveReference: segment references
// routinely carry ?token=... query strings that must survive byte for byte,
// and ResolveReference re-encodes them. Absolute references pass through
// unchanged; a leading "/" resolves against the manifest host root;
// anything else is joined to the manifest's own directory with the base
// query stripped first.
func ResolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.Contains(ref, "://") {
		return ref
	}

	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ref
	}

	// Protocol-relative references inherit the manifest scheme.
	if strings.HasPrefix(ref, "//") {
		return u.Scheme + ":" + ref
	}

	if strings.HasPrefix(ref, "/") {
		return u.Scheme + "://" + u.Host + ref
	}

	dir := u.EscapedPath()
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}

	return u.Scheme + "://" + u.Host + dir + ref
}
