package pipeline

import (
	"math"
	"time"
	"unicode/utf8"

	"ragbase/types"
)

// stageClock records when each processing stage of one document ended.
type stageClock struct {
	started, chunked, embedded time.Time
}

// summarize fills the size and quality figures of a processed document.
// Windows longer than chunkSize only occur around unsplittable code fences.
func summarize(doc *types.Document, ex extracted, chunks []types.Chunk, chunkSize int, clock stageClock, done time.Time) *types.ProcessingMetrics {
	m := &types.ProcessingMetrics{
		ExtractionMs: ex.extractionMs,
		ChunkingMs:   clock.chunked.Sub(clock.started).Milliseconds(),
		EmbeddingMs:  clock.embedded.Sub(clock.chunked).Milliseconds(),
		TotalMs:      ex.extractionMs + done.Sub(clock.started).Milliseconds(),
		RawSizeBytes: doc.SizeBytes,
		TextChars:    utf8.RuneCountInString(ex.text),
		TotalChunks:  len(chunks),
	}
	if len(chunks) == 0 {
		return m
	}

	var chars int
	var score float64
	for _, c := range chunks {
		n := c.CharEnd - c.CharStart
		chars += n
		if n > chunkSize {
			m.OversizedChunks++
		}
		score += c.Quality.Score
		m.TotalTokens += c.TokenCount
		for _, f := range c.Quality.Flags {
			if m.QualityFlags == nil {
				m.QualityFlags = make(map[string]int)
			}
			m.QualityFlags[f]++
		}
	}
	m.AvgChunkChars = round2(float64(chars) / float64(len(chunks)))
	m.AvgQualityScore = round2(score / float64(len(chunks)))
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
