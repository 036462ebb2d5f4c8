package lyrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/worshiptools/lyricsync/internal/models"
)

// sectionPattern matches explicit section markers like [Verse 2], [Chorus],
// (Bridge), intro/outro labels, in English or bracketed CJK.
var sectionPattern = regexp.MustCompile(`(?i)^[\[(（【]?\s*(verse|chorus|bridge|intro|outro|pre-chorus|interlude|refrain|tag|副歌|主歌|间奏|前奏|尾奏)\s*(\d+)?\s*[\])）】]?\s*[:：]?$`)

// IsSectionHeader reports whether a lyric line is a structural marker rather
// than singable text.
func IsSectionHeader(line string) bool {
	return sectionPattern.MatchString(strings.TrimSpace(line))
}

// ParseLines splits canonical lyrics text into physical lines. Blank lines
// are kept (they separate stanzas and are passed through to the LRC output);
// section headers are blanked so the mapper treats them like separators.
// The original line order and count are preserved exactly.
func ParseLines(rawLyrics string) ([]models.LyricLine, error) {
	if strings.TrimSpace(rawLyrics) == "" {
		return nil, fmt.Errorf("empty lyrics")
	}

	raw := strings.ReplaceAll(rawLyrics, "\r\n", "\n")
	raw = strings.Trim(raw, "\n")

	var lines []models.LyricLine
	singable := 0
	for i, text := range strings.Split(raw, "\n") {
		text = strings.TrimSpace(text)
		if IsSectionHeader(text) {
			text = ""
		}
		if text != "" {
			singable++
		}
		lines = append(lines, models.LyricLine{Index: i, Text: text})
	}

	if singable == 0 {
		return nil, fmt.Errorf("no singable lyrics lines found")
	}
	return lines, nil
}
