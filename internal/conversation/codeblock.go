package conversation

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("```([A-Za-z0-9_+-]+)[ \\t]*\\r?\\n([\\s\\S]*?)\\r?\\n[ \\t]*```")

// ExtractCode returns the body of the first language-tagged fenced block in a
// model reply. Untagged fences are ignored. ok is false when the reply offers no
// new transformation.
func ExtractCode(text string) (code string, ok bool) {
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	code = strings.TrimRight(m[2], " \t\r\n")
	if strings.TrimSpace(code) == "" {
		return "", false
	}
	return code, true
}
