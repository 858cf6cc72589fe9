// Package querystring turns URL query strings into request parameters.
package querystring

import (
	"net/url"
	"strings"
)

// Parse splits s into name=value pairs separated by '&' and percent-decodes
// both sides. A leading '?' is ignored. Pairs without exactly one '=' or with
// invalid escapes are skipped; '+' is kept as is. Parse returns nil when no
// pair was found. For repeated names the last value wins.
func Parse(s string) map[string]string {
	s = strings.TrimPrefix(s, "?")

	var params map[string]string
	for _, pair := range strings.Split(s, "&") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.Contains(value, "=") {
			continue
		}

		name, err := url.PathUnescape(name)
		if err != nil || name == "" {
			continue
		}
		value, err = url.PathUnescape(value)
		if err != nil {
			continue
		}

		if params == nil {
			params = make(map[string]string)
		}
		params[name] = value
	}
	return params
}

// FromValues flattens url.Values, keeping the last value of each name.
// It returns nil for empty input.
func FromValues(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]string, len(values))
	for name, vs := range values {
		if len(vs) > 0 {
			params[name] = vs[len(vs)-1]
		}
	}
	return params
}
