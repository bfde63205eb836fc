package content

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"ragbase/types"
)

// Sanitize normalizes text before it is gated and chunked: NFC form, LF line
// endings, no BOM, no control characters other than tab and newline, and no
// trailing blanks on any line.
func Sanitize(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = norm.NFC.String(text)

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// ExtractText turns a direct-lane payload into plain text.
func ExtractText(format types.Format, raw []byte) (string, error) {
	if LaneFor(format) != types.LaneDirect {
		return "", fmt.Errorf("%w: %s needs the extraction worker", types.ErrUnsupportedFormat, format)
	}
	if !utf8.Valid(raw) {
		return "", types.NewValidationError(map[string]string{"file": "content is not valid UTF-8"})
	}

	text := Sanitize(string(raw))
	switch format {
	case types.FormatJSON:
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(text), "", "  "); err == nil {
			return buf.String(), nil
		}
	case types.FormatCSV:
		if rendered, ok := renderCSV(text); ok {
			return rendered, nil
		}
	}
	return text, nil
}

// renderCSV writes each record as "header: value; ..." on its own line so the
// column names travel with every chunk.
func renderCSV(text string) (string, bool) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		return "", false
	}

	header := records[0]
	var sb strings.Builder
	for i, rec := range records[1:] {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, value := range rec {
			if j > 0 {
				sb.WriteString("; ")
			}
			name := fmt.Sprintf("column%d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				name = strings.TrimSpace(header[j])
			}
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(strings.TrimSpace(value))
		}
	}
	return sb.String(), true
}
