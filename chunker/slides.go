package chunker

import "strings"

// SlideMarker is the line a converter puts between the slides of a deck.
const SlideMarker = "<!-- slide -->"

// splitSlides groups consecutive slides into windows of at least
// slideMinChars characters. A group closes early rather than grow past
// chunkSize, and a single slide longer than that is split like any other
// text. Slides are separated by SlideMarker lines or, when the text has none,
// start at each top-level heading.
func (c *Chunker) splitSlides(text string) []Window {
	runes, lo, hi := trimmed(text)
	if lo == hi {
		return nil
	}
	d := scan(runes, lo, hi)

	var (
		marked, titled []int
		sawMarker      bool
		opening        = true
	)
	for ls := lo; ls < hi; {
		le := lineEnd(runes, ls, hi)
		line := strings.TrimSpace(string(runes[ls:le]))
		_, fenced := d.fenceContaining(ls)
		switch {
		case line == "" || fenced:
		case line == SlideMarker:
			sawMarker, opening = true, true
			// a marker line is never a slide start, even with no slide behind it
			ls = le + 1
			continue
		case opening:
			marked = append(marked, ls)
		}
		if line != "" && !fenced {
			opening = false
			if isTitle(line) {
				titled = append(titled, ls)
			}
		}
		ls = le + 1
	}

	starts := titled
	if sawMarker {
		starts = marked
		if len(starts) > 0 {
			starts[0] = lo
		}
	}
	if len(starts) == 0 || starts[0] != lo {
		starts = append([]int{lo}, starts...)
	}
	ends := make([]int, len(starts))
	for i := range starts {
		ends[i] = hi
		if i+1 < len(starts) {
			ends[i] = starts[i+1]
		}
	}

	var windows []Window
	first := 0
	for i := range starts {
		if i > first && ends[i]-starts[first] > c.chunkSize {
			windows = c.emit(runes, starts[first], ends[i-1], d.headingIn(starts[first], ends[i-1]), windows)
			first = i
		}
		if ends[i]-starts[first] >= c.slideMinChars {
			windows = c.emit(runes, starts[first], ends[i], d.headingIn(starts[first], ends[i]), windows)
			first = i + 1
		}
	}
	if first < len(starts) {
		windows = c.emit(runes, starts[first], hi, d.headingIn(starts[first], hi), windows)
	}
	return windows
}

func isTitle(line string) bool {
	return line == "#" || strings.HasPrefix(line, "# ")
}
