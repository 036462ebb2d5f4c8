package lyrics

import (
	"github.com/worshiptools/lyricsync/internal/models"
)

// streamChar is one normalized character of the spoken stream, tagged with
// the fragment it came from.
type streamChar struct {
	r    rune
	frag int
}

// MapLines converts a time-ordered fragment stream into exactly one
// MappedLine per lyric line, in the same order and with the text unchanged.
//
// Matching walks the lyrics top to bottom against a single concatenated
// "spoken stream" of all fragment text, searching forward-only from a cursor
// that advances past each successful match. The forward-only cursor is what
// makes repeated choruses resolve to their own occurrences instead of all
// matching the first one. Lines that never appear in the stream are marked
// unmatched and given interpolated timestamps afterward, so the mapper never
// fails: every input line comes back with a timestamp.
func MapLines(lines []models.LyricLine, fragments []models.TimestampedFragment, durationSec float64) []models.MappedLine {
	stream := buildStream(fragments)
	out := make([]models.MappedLine, len(lines))

	cursor := 0
	for i, line := range lines {
		out[i] = models.MappedLine{Line: line}

		norm := Normalize(line.Text).Runes()
		if len(norm) == 0 {
			// Blank separators and section headers resolve after the
			// singable lines around them are placed.
			continue
		}

		p := indexFrom(stream, norm, cursor)
		if p < 0 {
			// Dropped or mis-transcribed line: cursor stays put so the
			// following lines still search from the same position.
			continue
		}

		out[i].StartSec = fragments[stream[p].frag].StartSec
		out[i].EndSec = fragments[stream[p+len(norm)-1].frag].EndSec
		out[i].Matched = true
		cursor = p + len(norm)
	}

	interpolateUnmatched(out, durationSec)
	fillEmptyLines(out)
	return out
}

// buildStream concatenates the normalized text of every fragment, tagging
// each character with its originating fragment index.
func buildStream(fragments []models.TimestampedFragment) []streamChar {
	var stream []streamChar
	for fi, f := range fragments {
		for _, r := range Normalize(f.Text).Runes() {
			stream = append(stream, streamChar{r: r, frag: fi})
		}
	}
	return stream
}

// indexFrom returns the first position at or after from where pattern occurs
// in the stream, or -1.
func indexFrom(stream []streamChar, pattern []rune, from int) int {
	if len(pattern) == 0 {
		return -1
	}
	for p := from; p+len(pattern) <= len(stream); p++ {
		match := true
		for k, r := range pattern {
			if stream[p+k].r != r {
				match = false
				break
			}
		}
		if match {
			return p
		}
	}
	return -1
}

// interpolateUnmatched assigns timestamps to every unmatched non-empty line
// by spreading each run of unmatched lines evenly across the gap between its
// nearest matched neighbors, clamped to file start/end at the boundaries.
// When nothing matched at all the lines are spaced evenly across the audio.
func interpolateUnmatched(out []models.MappedLine, durationSec float64) {
	i := 0
	for i < len(out) {
		if out[i].Matched || out[i].Line.IsEmpty() {
			i++
			continue
		}

		// Collect the run of consecutive unmatched singable lines; blank
		// lines inside the run don't split it, they resolve later.
		j := i
		n := 0
		for j < len(out) && !out[j].Matched {
			if !out[j].Line.IsEmpty() {
				n++
			}
			j++
		}

		lo, hi := gapWindow(out, i, j, durationSec)
		slice := (hi - lo) / float64(n)
		pos := lo
		for k := i; k < j; k++ {
			if out[k].Line.IsEmpty() {
				continue
			}
			out[k].StartSec = pos
			pos += slice
			out[k].EndSec = pos
		}
		i = j
	}
}

// gapWindow returns the time window available to the unmatched run [i, j):
// from the end of the nearest preceding matched line (or 0.0) to the start
// of the nearest following matched line (or the audio duration).
func gapWindow(out []models.MappedLine, i, j int, durationSec float64) (float64, float64) {
	lo := 0.0
	for k := i - 1; k >= 0; k-- {
		if out[k].Matched && !out[k].Line.IsEmpty() {
			lo = out[k].EndSec
			break
		}
	}
	hi := durationSec
	for k := j; k < len(out); k++ {
		if out[k].Matched && !out[k].Line.IsEmpty() {
			hi = out[k].StartSec
			break
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// fillEmptyLines gives blank lines the start time of the following singable
// line, or the preceding line's end when nothing follows. They count as
// matched: pass-through is the expected behavior, not a quality problem.
func fillEmptyLines(out []models.MappedLine) {
	for i := range out {
		if !out[i].Line.IsEmpty() {
			continue
		}
		placed := false
		for k := i + 1; k < len(out); k++ {
			if !out[k].Line.IsEmpty() {
				out[i].StartSec = out[k].StartSec
				out[i].EndSec = out[k].StartSec
				placed = true
				break
			}
		}
		if !placed {
			for k := i - 1; k >= 0; k-- {
				if !out[k].Line.IsEmpty() {
					out[i].StartSec = out[k].EndSec
					out[i].EndSec = out[k].EndSec
					break
				}
			}
		}
		out[i].Matched = true
	}
}
