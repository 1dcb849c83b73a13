package providers

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractText pulls the generated text out of a successful provider
// response using the spec's declared field path. Returns false when the
// path is missing or yields only whitespace — a 200 response with no
// usable text is not a success.
func ExtractText(spec Spec, body []byte) (string, bool) {
	result := gjson.GetBytes(body, spec.TextPath)
	if !result.Exists() {
		return "", false
	}
	text := strings.TrimSpace(result.String())
	if text == "" {
		return "", false
	}
	return text, true
}
