package lyrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/worshiptools/lyricsync/internal/models"
)

// FormatTimestamp renders seconds as the LRC tag body mm:ss.xx, minutes
// zero-padded to two digits, seconds to two integer and two fractional.
// Rounding happens on whole centiseconds so a value just under a minute
// carries into the minutes field instead of rendering ss as 60.
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	cs := int(sec*100 + 0.5)
	m := cs / 6000
	s := cs % 6000
	return fmt.Sprintf("%02d:%02d.%02d", m, s/100, s%100)
}

// FormatDocument renders a mapped document as LRC text: one line per lyric
// line, in order, blank lines carried through with their own tag.
func FormatDocument(doc *models.LRCDocument) string {
	var b strings.Builder
	for _, ml := range doc.Lines {
		b.WriteString(strings.TrimRight(fmt.Sprintf("[%s] %s", FormatTimestamp(ml.StartSec), ml.Line.Text), " "))
		b.WriteString("\n")
	}
	return b.String()
}

var lrcLinePattern = regexp.MustCompile(`^\[(\d+):(\d+(?:\.\d+)?)\]\s?(.*)$`)

// ParseLRC parses LRC text into timestamped fragments. Each cue's end time
// is the next cue's start; the last cue keeps a zero-length span. Lines
// without a timestamp tag (metadata tags, garbage) are skipped.
func ParseLRC(text string) ([]models.TimestampedFragment, error) {
	var frags []models.TimestampedFragment
	for _, line := range strings.Split(text, "\n") {
		m := lrcLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		minutes, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seconds, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		frags = append(frags, models.TimestampedFragment{
			StartSec: float64(minutes)*60 + seconds,
			EndSec:   float64(minutes)*60 + seconds,
			Text:     m[3],
		})
	}
	if len(frags) == 0 {
		return nil, fmt.Errorf("no timestamped lines in LRC text")
	}
	for i := 0; i < len(frags)-1; i++ {
		frags[i].EndSec = frags[i+1].StartSec
	}
	return frags, nil
}
