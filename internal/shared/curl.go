// Rendering of planned requests as cURL commands.
package shared

import (
	"net/url"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// RedactedKey replaces api_key values in rendered commands.
const RedactedKey = "REDACTED"

// CurlRequest is a request rendered by [FormatCurl].
type CurlRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// FormatCurl renders req as a single-line cURL command with shell-quoted arguments.
//
// When redact is set the api_key query parameter is replaced with [RedactedKey].
func FormatCurl(req CurlRequest, redact bool) string {
	target := req.URL
	if redact {
		target = redactAPIKey(target)
	}

	args := []string{"curl", "-X", strings.ToUpper(req.Method)}
	for _, k := range sortedKeys(req.Headers) {
		args = append(args, "-H", shellescape.Quote(k+": "+req.Headers[k]))
	}
	if len(req.Body) > 0 {
		args = append(args, "--data", shellescape.Quote(string(req.Body)))
	}
	args = append(args, shellescape.Quote(target))

	return strings.Join(args, " ")
}

func redactAPIKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if !q.Has("api_key") {
		return raw
	}
	q.Set("api_key", RedactedKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
