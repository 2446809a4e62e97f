// Package security masks credentials before they reach logs or output.
package security

import (
	"regexp"
	"strings"
)

// secretPatterns match credentials embedded in free text such as provider
// error messages.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|access[_-]?token|enctoken|authorization)([=:\s]+)["']?(?:token\s+|bearer\s+)?([^\s"',]+)`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), // OpenAI keys
}

// MaskCredential keeps the first and last four characters of long values
// and masks the rest.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSecrets masks every credential found in input.
func MaskSecrets(input string) string {
	out := secretPatterns[0].ReplaceAllStringFunc(input, func(match string) string {
		m := secretPatterns[0].FindStringSubmatch(match)
		return strings.TrimSuffix(match, m[3]) + MaskCredential(m[3])
	})
	return secretPatterns[1].ReplaceAllStringFunc(out, MaskCredential)
}
