package habit

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize canonicalizes an activity title into a grouping key: lower-cased,
// punctuation stripped, gerunds folded toward their base form, whitespace collapsed.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(title string) string {
	words := foldWords(title)
	for i, w := range words {
		words[i] = baseForm(w)
	}
	return strings.Join(words, " ")
}

// foldWords splits s into lower-cased words with punctuation stripped.
func foldWords(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// baseForm strips "-ing" while at least three runes of stem remain, undoing the
// consonant doubling of forms like "running". It runs to a fixed point.
func baseForm(word string) string {
	for strings.HasSuffix(word, "ing") && utf8.RuneCountInString(word) >= 6 {
		word = strings.TrimSuffix(word, "ing")
		if n := len(word); n >= 4 && word[n-1] == word[n-2] && strings.IndexByte("bdgmnprt", word[n-1]) >= 0 {
			word = word[:n-1]
		}
	}
	return word
}
