package validators

import (
	"strings"
	"unicode/utf8"
)

// maxFieldLen caps top-level string fields of collection documents.
const maxFieldLen = 4096

// SanitizeString trims input and cuts it to maxLen bytes without splitting a
// UTF-8 sequence. maxLen <= 0 disables the cap.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 || len(trimmed) <= maxLen {
		return trimmed
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut]
}

// SanitizeDocument applies SanitizeString to the top-level string fields of
// doc in place. Nested values are left as sent.
func SanitizeDocument(doc map[string]any) map[string]any {
	for k, v := range doc {
		if s, ok := v.(string); ok {
			doc[k] = SanitizeString(s, maxFieldLen)
		}
	}
	return doc
}
