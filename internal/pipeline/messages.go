package pipeline

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key and the fallback.
const (
	msgWaiting       = "Subtitles will appear here..."
	msgNotUnderstood = "Sorry, I did not understand."
	msgError         = "Error: %s"
	msgEnded         = "Session ended."
)

var (
	messageLanguages = []language.Tag{language.English, language.Hindi}
	messageMatcher   = language.NewMatcher(messageLanguages)
	messageCatalog   = buildCatalog()
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	entries := map[language.Tag]map[string]string{
		language.English: {
			msgWaiting:       msgWaiting,
			msgNotUnderstood: msgNotUnderstood,
			msgError:         msgError,
			msgEnded:         msgEnded,
		},
		language.Hindi: {
			msgWaiting:       "उपशीर्षक यहाँ दिखाई देंगे...",
			msgNotUnderstood: "क्षमा करें, समझ में नहीं आया।",
			msgError:         "त्रुटि: %s",
			msgEnded:         "सत्र समाप्त हुआ।",
		},
	}
	for tag, msgs := range entries {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic("pipeline: invalid message " + key + ": " + err.Error())
			}
		}
	}
	return b
}

func printer(tag language.Tag) *message.Printer {
	_, idx, conf := messageMatcher.Match(tag)
	if conf == language.No {
		idx = 0
	}
	return message.NewPrinter(messageLanguages[idx], message.Catalog(messageCatalog))
}

// WaitingText is shown before anything has been said.
func WaitingText(tag language.Tag) string {
	return printer(tag).Sprintf(msgWaiting)
}

// NotUnderstoodText replaces the subtitle when a segment held no speech.
func NotUnderstoodText(tag language.Tag) string {
	return printer(tag).Sprintf(msgNotUnderstood)
}

// ErrorText shows a recognition failure with its detail.
func ErrorText(tag language.Tag, detail string) string {
	return printer(tag).Sprintf(msgError, detail)
}

func EndedText(tag language.Tag) string {
	return printer(tag).Sprintf(msgEnded)
}
