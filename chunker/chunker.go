package chunker

import (
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultRowsPerChunk  = 20
	DefaultSlideMinChars = 200
)

// Kind names a splitting strategy.
type Kind string

const (
	KindDocument     Kind = "document"
	KindTabular      Kind = "tabular"
	KindPresentation Kind = "presentation"
)

// Window is one chunk of the input. CharStart and CharEnd are rune offsets
// into the text passed to Split, and Content is exactly that slice.
type Window struct {
	Index     int
	Content   string
	CharStart int
	CharEnd   int
	Heading   string
}

type Chunker struct {
	chunkSize     int
	overlap       int
	tolerance     int
	rowsPerChunk  int
	slideMinChars int
}

type Option func(*Chunker)

// WithChunkSize sets the target window size in characters. Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets how many characters consecutive windows share. Negative values are ignored.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithRowsPerChunk caps how many table rows share a window. Non-positive values are ignored.
func WithRowsPerChunk(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.rowsPerChunk = n
		}
	}
}

// WithSlideMinChars sets how much text slides are grouped up to before a
// window is closed. Negative values are ignored.
func WithSlideMinChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.slideMinChars = n
		}
	}
}

// New builds a Chunker. An overlap that is not smaller than the chunk size
// is replaced by a fifth of the chunk size.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:     DefaultChunkSize,
		overlap:       DefaultChunkOverlap,
		rowsPerChunk:  DefaultRowsPerChunk,
		slideMinChars: DefaultSlideMinChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 5
	}
	c.tolerance = max(c.chunkSize/10, 1)
	return c
}

func (c *Chunker) ChunkSize() int    { return c.chunkSize }
func (c *Chunker) Overlap() int      { return c.overlap }
func (c *Chunker) RowsPerChunk() int { return c.rowsPerChunk }

type span struct{ start, end int }

type heading struct {
	offset int
	text   string
}

// Split cuts text into overlapping windows covering its trimmed extent.
// Fenced code blocks are never cut, so a window holding one may exceed the
// chunk size.
func (c *Chunker) Split(text string) []Window {
	runes, lo, hi := trimmed(text)
	if lo == hi {
		return nil
	}
	return c.splitRange(scan(runes, lo, hi), lo, hi, "", nil)
}

// SplitAs splits text with the strategy for kind. Unknown kinds use Split.
func (c *Chunker) SplitAs(kind Kind, text string) []Window {
	switch kind {
	case KindTabular:
		return c.splitRows(text)
	case KindPresentation:
		return c.splitSlides(text)
	}
	return c.Split(text)
}

func trimmed(text string) ([]rune, int, int) {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi && unicode.IsSpace(runes[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(runes[hi-1]) {
		hi--
	}
	return runes, lo, hi
}

// splitRange appends windows covering [lo, hi) of d. Windows with no heading
// before them in d get base.
func (c *Chunker) splitRange(d *doc, lo, hi int, base string, windows []Window) []Window {
	start, prevEnd := lo, lo
	for {
		end := hi
		if hi-start > c.chunkSize {
			end = c.cut(d, start, prevEnd)
		}
		h := d.headingAt(start)
		if h == "" {
			h = base
		}
		windows = append(windows, Window{
			Index:     len(windows),
			Content:   string(d.runes[start:end]),
			CharStart: start,
			CharEnd:   end,
			Heading:   h,
		})
		if end >= hi {
			return windows
		}
		start = c.nextStart(d, start, end)
		prevEnd = end
	}
}

// cut picks the end of the window that starts at start.
func (c *Chunker) cut(d *doc, start, prevEnd int) int {
	target := start + c.chunkSize
	if f, ok := d.fenceContaining(target); ok {
		if f.start > start && f.start > prevEnd {
			return f.start
		}
		return max(f.end, start+1)
	}

	lowest := max(target-c.tolerance, start+1, prevEnd+1)
	best, bestRank := target, rankNone
	for p := target; p >= lowest; p-- {
		if _, inside := d.fenceContaining(p); inside {
			continue
		}
		if r := d.rank(p); r > bestRank {
			best, bestRank = p, r
			if r == rankParagraph {
				break
			}
		}
	}
	return best
}

// nextStart backs off from end by the overlap, leaves any fence it lands in,
// and moves forward to the start of a word. When a fence opens at end the
// overlap shrinks so that overlap and fence together still fit in chunkSize.
func (c *Chunker) nextStart(d *doc, start, end int) int {
	next := max(end-c.overlap, start+1)
	if f, ok := d.fenceAt(end); ok && f.end-next > c.chunkSize {
		next = min(f.end-c.chunkSize, end)
	}
	if f, ok := d.fenceContaining(next); ok {
		return min(f.end, end)
	}
	snapped := next
	for snapped < end && !unicode.IsSpace(d.runes[snapped-1]) {
		snapped++
	}
	for snapped < end && unicode.IsSpace(d.runes[snapped]) {
		snapped++
	}
	if snapped < end {
		return snapped
	}
	return next
}

const (
	rankNone = iota
	rankWord
	rankSentence
	rankLine
	rankParagraph
)

type doc struct {
	runes    []rune
	fences   []span
	headings []heading
}

func scan(runes []rune, lo, hi int) *doc {
	d := &doc{runes: runes}

	var (
		inFence    bool
		fenceStart int
		fenceMark  rune
		fenceLen   int
	)
	for ls := lo; ls < hi; {
		le := ls
		for le < hi && runes[le] != '\n' {
			le++
		}
		line := string(runes[ls:le])
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)

		if mark, n := fenceMarker(trimmed); n >= 3 && indent <= 3 {
			switch {
			case !inFence:
				inFence, fenceStart, fenceMark, fenceLen = true, ls, mark, n
			case mark == fenceMark && n >= fenceLen && strings.TrimSpace(trimmed[n:]) == "":
				d.fences = append(d.fences, span{fenceStart, le})
				inFence = false
			}
		} else if !inFence && indent <= 3 && isHeading(trimmed) {
			d.headings = append(d.headings, heading{
				offset: ls,
				text:   strings.TrimSpace(strings.TrimLeft(trimmed, "#")),
			})
		}
		ls = le + 1
	}
	if inFence {
		d.fences = append(d.fences, span{fenceStart, hi})
	}
	return d
}

func fenceMarker(s string) (rune, int) {
	if s == "" || (s[0] != '`' && s[0] != '~') {
		return 0, 0
	}
	n := 0
	for n < len(s) && s[n] == s[0] {
		n++
	}
	return rune(s[0]), n
}

func isHeading(s string) bool {
	n := 0
	for n < len(s) && s[n] == '#' {
		n++
	}
	return n >= 1 && n <= 6 && (n == len(s) || s[n] == ' ' || s[n] == '\t')
}

// fenceContaining reports the fence that p falls strictly inside of.
func (d *doc) fenceContaining(p int) (span, bool) {
	i := sort.Search(len(d.fences), func(i int) bool { return d.fences[i].end > p })
	if i < len(d.fences) && d.fences[i].start < p {
		return d.fences[i], true
	}
	return span{}, false
}

// fenceAt reports the fence that opens exactly at p.
func (d *doc) fenceAt(p int) (span, bool) {
	i := sort.Search(len(d.fences), func(i int) bool { return d.fences[i].start >= p })
	if i < len(d.fences) && d.fences[i].start == p {
		return d.fences[i], true
	}
	return span{}, false
}

func (d *doc) isHeadingAt(p int) bool {
	i := sort.Search(len(d.headings), func(i int) bool { return d.headings[i].offset >= p })
	return i < len(d.headings) && d.headings[i].offset == p
}

func (d *doc) headingAt(p int) string {
	i := sort.Search(len(d.headings), func(i int) bool { return d.headings[i].offset > p })
	if i == 0 {
		return ""
	}
	return d.headings[i-1].text
}

// headingIn returns the first heading in [lo, hi), or the one in force at lo.
func (d *doc) headingIn(lo, hi int) string {
	i := sort.Search(len(d.headings), func(i int) bool { return d.headings[i].offset >= lo })
	if i < len(d.headings) && d.headings[i].offset < hi {
		return d.headings[i].text
	}
	return d.headingAt(lo)
}

// rank scores cutting the text right before position p.
func (d *doc) rank(p int) int {
	prev := d.runes[p-1]
	switch {
	case prev == '\n' && (d.isHeadingAt(p) || (p >= 2 && d.runes[p-2] == '\n')):
		return rankParagraph
	case prev == '\n':
		return rankLine
	case unicode.IsSpace(prev) && p >= 2 && strings.ContainsRune(".!?", d.runes[p-2]):
		return rankSentence
	case unicode.IsSpace(prev):
		return rankWord
	}
	return rankNone
}
