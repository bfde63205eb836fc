package chunker

import "strings"

// row is one non-blank line of tabular text. It owns the text up to the next
// row, so the rows partition the text.
type row struct {
	start, end int
	sheet      int
	title      bool // "# Name" line opening a sheet
	piped      bool // markdown table line
}

// splitRows groups the lines of tabular text into windows of at most
// rowsPerChunk rows and chunkSize characters. A "---" line separates sheets,
// which never share a window, and a "# Name" line opening a sheet becomes the
// heading of its windows. Markdown table lines do not count against
// rowsPerChunk, so a table stays whole while it fits chunkSize.
func (c *Chunker) splitRows(text string) []Window {
	runes, lo, hi := trimmed(text)
	if lo == hi {
		return nil
	}

	var (
		rows  []row
		names = make(map[int]string)
		sheet int
	)
	for ls := lo; ls < hi; {
		le := lineEnd(runes, ls, hi)
		line := strings.TrimSpace(string(runes[ls:le]))
		opening := len(rows) == 0 || rows[len(rows)-1].sheet != sheet
		switch {
		case line == "":
		case isRule(line):
			if !opening {
				sheet++
			}
		default:
			r := row{start: ls, sheet: sheet, piped: strings.HasPrefix(line, "|")}
			if opening && isHeading(line) {
				r.title = true
				names[sheet] = strings.TrimSpace(strings.TrimLeft(line, "#"))
			}
			rows = append(rows, r)
		}
		ls = le + 1
	}
	if len(rows) == 0 {
		return c.splitRange(scan(runes, lo, hi), lo, hi, "", nil)
	}
	rows[0].start = lo
	for i := range rows {
		rows[i].end = hi
		if i+1 < len(rows) {
			rows[i].end = rows[i+1].start
		}
	}

	var windows []Window
	first, counted := 0, 0
	for i, r := range rows {
		if i > first {
			head := rows[first]
			if r.sheet != head.sheet || (!r.piped && counted >= c.rowsPerChunk) || r.end-head.start > c.chunkSize {
				windows = c.emit(runes, head.start, rows[i-1].end, names[head.sheet], windows)
				first, counted = i, 0
			}
		}
		if !r.title && !r.piped {
			counted++
		}
	}
	return c.emit(runes, rows[first].start, hi, names[rows[first].sheet], windows)
}

// emit appends [start, end) as one window, or splits it like any other text
// when it is longer than chunkSize.
func (c *Chunker) emit(runes []rune, start, end int, heading string, windows []Window) []Window {
	if end-start > c.chunkSize {
		return c.splitRange(scan(runes, start, end), start, end, heading, windows)
	}
	return append(windows, Window{
		Index:     len(windows),
		Content:   string(runes[start:end]),
		CharStart: start,
		CharEnd:   end,
		Heading:   heading,
	})
}

func lineEnd(runes []rune, ls, hi int) int {
	le := ls
	for le < hi && runes[le] != '\n' {
		le++
	}
	return le
}

func isRule(s string) bool {
	return len(s) >= 3 && strings.Trim(s, "-") == ""
}
