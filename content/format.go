package content

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"ragbase/chunker"
	"ragbase/types"
)

var mediaTypes = map[string]types.Format{
	"text/plain":       types.FormatTXT,
	"text/markdown":    types.FormatMD,
	"text/x-markdown":  types.FormatMD,
	"application/json": types.FormatJSON,
	"text/json":        types.FormatJSON,
	"text/csv":         types.FormatCSV,
	"application/csv":  types.FormatCSV,
	"application/pdf":  types.FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   types.FormatDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": types.FormatPPTX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         types.FormatXLSX,
	"application/epub+zip": types.FormatEPUB,
	"text/html":            types.FormatHTML,
}

var extensions = map[string]types.Format{
	".txt":      types.FormatTXT,
	".text":     types.FormatTXT,
	".md":       types.FormatMD,
	".markdown": types.FormatMD,
	".json":     types.FormatJSON,
	".csv":      types.FormatCSV,
	".pdf":      types.FormatPDF,
	".docx":     types.FormatDOCX,
	".pptx":     types.FormatPPTX,
	".xlsx":     types.FormatXLSX,
	".epub":     types.FormatEPUB,
	".html":     types.FormatHTML,
	".htm":      types.FormatHTML,
}

// lanes is the only place that ties a format to a processing lane.
var lanes = map[types.Format]types.Lane{
	types.FormatTXT:  types.LaneDirect,
	types.FormatMD:   types.LaneDirect,
	types.FormatJSON: types.LaneDirect,
	types.FormatCSV:  types.LaneDirect,
	types.FormatPDF:  types.LaneDeferred,
	types.FormatDOCX: types.LaneDeferred,
	types.FormatPPTX: types.LaneDeferred,
	types.FormatXLSX: types.LaneDeferred,
	types.FormatEPUB: types.LaneDeferred,
	types.FormatHTML: types.LaneDeferred,
}

// chunkKinds ties formats to the chunker strategy for their extracted text.
var chunkKinds = map[types.Format]chunker.Kind{
	types.FormatCSV:  chunker.KindTabular,
	types.FormatXLSX: chunker.KindTabular,
	types.FormatPPTX: chunker.KindPresentation,
}

// Classify maps a declared media type, falling back to the filename extension,
// onto a known format.
func Classify(mediaType, filename string) (types.Format, error) {
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		if f, ok := mediaTypes[strings.ToLower(mt)]; ok {
			return f, nil
		}
	}
	if f, ok := extensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: media type %q, file %q", types.ErrUnsupportedFormat, mediaType, filename)
}

// LaneFor returns the processing lane of f. Unknown formats go to the deferred lane.
func LaneFor(f types.Format) types.Lane {
	if lane, ok := lanes[f]; ok {
		return lane
	}
	return types.LaneDeferred
}

// ChunkKind returns how text extracted from f is split. Formats without a
// layout of their own are split as prose.
func ChunkKind(f types.Format) chunker.Kind {
	if kind, ok := chunkKinds[f]; ok {
		return kind
	}
	return chunker.KindDocument
}

// Extension returns the canonical file extension for f, with the leading dot.
func Extension(f types.Format) string {
	return "." + string(f)
}
