// Package manifest holds what the HLS and DASH parsers share: the typed
// parse failures and the query-preserving URL resolution used for segment
// and key URLs.
package manifest

import "errors"

// Typed parse failures. Malformed input (ErrInvalidManifest, ErrXMLParsing,
// ErrNoSegments) is never retried; empty bodies and transport failures are
// retried under the downloader's normal policy.
var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrNoContent       = errors.New("manifest body is empty")
	ErrXMLParsing      = errors.New("xml parsing error")
	ErrNoSegments      = errors.New("manifest contains no usable segments")
	ErrNetwork         = errors.New("network error")
)

// IsRetryable reports whether a failure may succeed on a later attempt.
// Structurally broken manifests stay broken; anything else, including
// errors this package never classified, is treated as transient.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrInvalidManifest) &&
		!errors.Is(err, ErrXMLParsing) &&
		!errors.Is(err, ErrNoSegments)
}
