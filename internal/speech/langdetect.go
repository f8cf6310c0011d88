package speech

import (
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// minDetectConfidence below which the detected language is reported as undetermined.
const minDetectConfidence = 0.5

// DetectLanguage guesses the language of recognized text. Short or mixed
// utterances often come back as language.Und.
func DetectLanguage(text string) language.Tag {
	info := whatlanggo.Detect(text)
	if info.Confidence < minDetectConfidence {
		return language.Und
	}
	tag, err := language.Parse(info.Lang.Iso6391())
	if err != nil {
		return language.Und
	}
	return tag
}
