package pipeline

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// PlainTextExtractor treats the fetched document as UTF-8 text, scrubbing
// anything that is not printable. Registry PDFs are converted upstream;
// this covers the text form they arrive in.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(data []byte) (string, error) {
	text := strings.ToValidUTF8(string(data), " ")
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return ' '
		}
		return r
	}, text)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", eris.New("document contains no extractable text")
	}
	return text, nil
}
