package syncer

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector returns an ISO 639-1 code for text, or "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}

// linguaDetector wraps lingua with the languages common in news feeds.
type linguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLanguageDetector builds a lingua-backed detector. Building loads
// language models, so it should be done once per process.
func NewLanguageDetector() LanguageDetector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(
			lingua.English, lingua.German, lingua.French, lingua.Spanish,
			lingua.Italian, lingua.Portuguese, lingua.Dutch, lingua.Russian,
			lingua.Chinese, lingua.Japanese, lingua.Polish, lingua.Swedish,
		).
		WithMinimumRelativeDistance(0.1).
		Build()
	return &linguaDetector{detector: detector}
}

func (d *linguaDetector) Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	language, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(language.IsoCode639_1().String())
}
