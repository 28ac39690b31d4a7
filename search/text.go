package search

import (
	"strings"
	"unicode"
)

// headlineStopWords are dropped from both sides of a verbatim comparison.
// Besides common function words it holds the filler that wire copy and
// headlines lean on, so "says" or "new" in a query never blocks a match.
var headlineStopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an the and or but nor of to in on at by for from with without into onto
		about over under after before as is are was were be been being it its this
		that these those you he she they we his her their our not no do does did
		has have had will would can could may might should than then so
		says said say new report reports update updates live latest just how why what
		`) {
		headlineStopWords[w] = struct{}{}
	}
}

// terms lowercases text and splits it on anything that is not a letter or
// digit. Possessive suffixes are dropped so "NASA's" matches "nasa".
func terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSuffix(w, "'s")
		w = strings.TrimSuffix(w, "’s")
		w = strings.Trim(w, "'’")
		if w == "" {
			continue
		}
		if _, stop := headlineStopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// matchesVerbatim reports whether every significant query term occurs in
// document. A query made only of stop words never matches.
func matchesVerbatim(document, query string) bool {
	want := terms(query)
	if len(want) == 0 {
		return false
	}
	have := make(map[string]struct{})
	for _, w := range terms(document) {
		have[w] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}
