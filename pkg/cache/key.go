package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// keyPrefix namespaces every fingerprint.
const keyPrefix = "api"

// CacheKey is the fingerprint of a request. Two requests whose keys render to
// the same string are served from the same cache record.
type CacheKey struct {
	// Method is the HTTP method (e.g., "GET")
	Method string

	// Path is the API path (e.g., "/videos/12345")
	Path string

	// Params are the request parameters (e.g., {"per_page": "10"})
	Params map[string]string

	// ResultType identifies the model the response is mapped to
	ResultType string
}

// String generates a deterministic cache key string. Every component is
// always present and query-escaped, so no component can contain the ':'
// separator and distinct requests never render the same string.
// Format: api:METHOD:path:params:ResultType
//
// Example:
//
//	api:GET:videos/12345:fields=name&per_page=10:model.Video
func (k CacheKey) String() string {
	// Add params (url.Values encodes them sorted by key)
	params := make(url.Values, len(k.Params))
	for key, value := range k.Params {
		params.Set(key, value)
	}

	parts := []string{
		keyPrefix,
		escapeComponent(strings.ToUpper(k.Method)),
		escapeComponent(strings.Trim(k.Path, "/")),
		params.Encode(),
		escapeComponent(k.ResultType),
	}
	return strings.Join(parts, ":")
}

// escapeComponent query-escapes s but keeps slashes readable. A literal
// "%2F" in s escapes to "%252F", so the mapping stays injective.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%2F", "/")
}

// FileName returns the name of the disk record for this key. Paths and
// parameter values may contain characters that are not legal in file names,
// so the name is the hex SHA-256 of the fingerprint.
func (k CacheKey) FileName() string {
	return fileNameFor(k.String())
}

func fileNameFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + recordExt
}
