package openai

import "strings"

// maxTitleRunes caps each title sent to the summarizer.
const maxTitleRunes = 200

// cleanTitle collapses whitespace and truncates overly long titles.
func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes])
	}
	return s
}
