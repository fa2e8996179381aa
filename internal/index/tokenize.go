package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokenize splits text into index terms. Latin, digit and other
// space-delimited scripts produce whole words; Han runs produce every single
// character plus every adjacent pair, since the text carries no word
// boundaries.
func Tokenize(text string) []string {
	text = cases.Fold().String(norm.NFKC.String(text))

	var tokens []string
	var word strings.Builder
	var han []rune

	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	flushHan := func() {
		for i, r := range han {
			tokens = append(tokens, string(r))
			if i+1 < len(han) {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			flushHan()
			word.WriteRune(r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()

	return tokens
}
