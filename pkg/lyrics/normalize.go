package lyrics

import (
	"strings"
	"unicode"
)

// strippedRunes is the fixed punctuation set removed during normalization:
// ASCII punctuation plus the CJK full-width variants that show up in caption
// and ASR output for Chinese worship songs.
const strippedRunes = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" +
	"！＂＃＄％＆＇（）＊＋，－．／：；＜＝＞？＠［＼］＾＿｀｛｜｝～" +
	"。、；：“”‘’「」『』【】《》〈〉（）…—·・　"

// Normalized is the canonical matching form of a piece of text along with a
// reverse index back to the original. OffsetMap[i] is the rune offset in the
// original string of the i-th rune of Text.
type Normalized struct {
	Text      string
	OffsetMap []int
}

// Runes returns the normalized text as a rune slice.
func (n Normalized) Runes() []rune {
	return []rune(n.Text)
}

// Normalize canonicalizes text for matching: whitespace and the fixed
// punctuation set are dropped, letters are lowercased, and character order
// is preserved. The result is pure and deterministic.
func Normalize(text string) Normalized {
	var b strings.Builder
	offsets := make([]int, 0, len(text))

	for i, r := range []rune(text) {
		if unicode.IsSpace(r) || strings.ContainsRune(strippedRunes, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
		offsets = append(offsets, i)
	}

	return Normalized{Text: b.String(), OffsetMap: offsets}
}
