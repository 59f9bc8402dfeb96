package common

import (
	"net/url"
	"strings"
)

// RedactedValue replaces secret query parameter values.
const RedactedValue = "***"

var secretParamHints = []string{"appid", "key", "token", "secret", "password"}

// HasAny returns true if s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RedactParams flattens query values into a map, masking anything that looks like a credential.
func RedactParams(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		if HasAny(strings.ToLower(k), secretParamHints...) {
			out[k] = RedactedValue
			continue
		}
		out[k] = values.Get(k)
	}
	return out
}
