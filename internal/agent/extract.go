package agent

import (
	"regexp"
	"strings"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

var fencePattern = regexp.MustCompile("(?s)```\\s*([a-zA-Z0-9_+-]*)\\n(.*?)```")

var aliasesByLanguage = map[domain.Language][]string{
	domain.LangPython:     {"python", "python3", "py", ""},
	domain.LangJavaScript: {"javascript", "js", "node", ""},
}

// ExtractCode implements spec §4.2's normalisation: the first fenced code
// block of a permitted language is extracted; if no fence is present, the
// entire trimmed text is used.
func ExtractCode(raw string, language domain.Language) string {
	allowed := aliasesByLanguage[language]
	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		tag := strings.ToLower(strings.TrimSpace(m[1]))
		if containsTag(allowed, tag) {
			return strings.TrimSpace(m[2])
		}
	}
	return strings.TrimSpace(raw)
}

func containsTag(allowed []string, tag string) bool {
	for _, a := range allowed {
		if a == tag {
			return true
		}
	}
	return false
}
