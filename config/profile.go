package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ragbase/chunker"
	"ragbase/quality"
	"ragbase/types"
)

// ChunkerProfile sizes the windows. A missing overlap defaults to 200, or a
// fifth of chunk_size when that is smaller. An explicit 0 disables overlap.
// RowsPerChunk applies to spreadsheets and CSV. SlideMinChars applies to decks,
// where 0 puts every slide in its own window.
type ChunkerProfile struct {
	ChunkSize     int    `yaml:"chunk_size"`
	Overlap       int    `yaml:"overlap"`
	TokenEncoding string `yaml:"token_encoding"`
	RowsPerChunk  int    `yaml:"rows_per_chunk"`
	SlideMinChars int    `yaml:"slide_min_chars"`
}

// QualityProfile holds one gate per lane. Direct-lane text is typed by a
// person, so its minimum length defaults to a single character.
type QualityProfile struct {
	Direct   quality.Gate          `yaml:"direct"`
	Deferred quality.Gate          `yaml:"deferred"`
	Chunks   quality.ChunkAnalyzer `yaml:"chunks"`
}

type DispatchProfile struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// Profile is the pipeline tuning file.
type Profile struct {
	Chunker    ChunkerProfile         `yaml:"chunker"`
	Quality    QualityProfile         `yaml:"quality"`
	Dispatch   DispatchProfile        `yaml:"dispatch"`
	Extraction types.ExtractionConfig `yaml:"extraction"`
}

// LoadProfile reads a profile from path. If the file does not exist, returns defaults.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultProfile(), nil
		}
		return nil, err
	}
	p := unsetProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	applyProfileDefaults(p)
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) validate() error {
	c := p.Chunker
	switch {
	case c.ChunkSize < 1:
		return fmt.Errorf("chunker.chunk_size must be positive, got %d", c.ChunkSize)
	case c.Overlap < 0 || c.Overlap >= c.ChunkSize:
		return fmt.Errorf("chunker.overlap must be in [0, %d), got %d", c.ChunkSize, c.Overlap)
	case c.RowsPerChunk < 1:
		return fmt.Errorf("chunker.rows_per_chunk must be positive, got %d", c.RowsPerChunk)
	case c.SlideMinChars < 0:
		return fmt.Errorf("chunker.slide_min_chars must not be negative, got %d", c.SlideMinChars)
	case p.Quality.Chunks.MinChars > p.Quality.Chunks.MaxChars:
		return fmt.Errorf("quality.chunks.min_chars %d is above max_chars %d", p.Quality.Chunks.MinChars, p.Quality.Chunks.MaxChars)
	case p.Dispatch.MaxAttempts < 1:
		return fmt.Errorf("dispatch.max_attempts must be positive, got %d", p.Dispatch.MaxAttempts)
	}
	return nil
}

func defaultProfile() *Profile {
	p := unsetProfile()
	applyProfileDefaults(p)
	return p
}

// unsetProfile marks the fields where 0 is a meaningful setting, so a
// missing key can be told apart from an explicit zero.
func unsetProfile() *Profile {
	return &Profile{Chunker: ChunkerProfile{Overlap: -1, SlideMinChars: -1}}
}

func applyProfileDefaults(p *Profile) {
	if p.Chunker.ChunkSize == 0 {
		p.Chunker.ChunkSize = chunker.DefaultChunkSize
	}
	if p.Chunker.Overlap == -1 {
		p.Chunker.Overlap = min(chunker.DefaultChunkOverlap, p.Chunker.ChunkSize/5)
	}
	if p.Chunker.TokenEncoding == "" {
		p.Chunker.TokenEncoding = chunker.DefaultEncoding
	}
	if p.Chunker.RowsPerChunk == 0 {
		p.Chunker.RowsPerChunk = chunker.DefaultRowsPerChunk
	}
	if p.Chunker.SlideMinChars == -1 {
		p.Chunker.SlideMinChars = chunker.DefaultSlideMinChars
	}

	gateDefaults(&p.Quality.Direct, 1)
	gateDefaults(&p.Quality.Deferred, quality.DefaultMinLength)
	analyzerDefaults(&p.Quality.Chunks)

	if p.Dispatch.MaxAttempts == 0 {
		p.Dispatch.MaxAttempts = 3
	}
	if p.Dispatch.BackoffBase == 0 {
		p.Dispatch.BackoffBase = 500 * time.Millisecond
	}
	if p.Dispatch.BackoffMax == 0 {
		p.Dispatch.BackoffMax = 10 * time.Second
	}

	if p.Extraction.OCRMode == "" {
		p.Extraction.OCRMode = types.OCRAuto
	}
	if len(p.Extraction.OCRLanguages) == 0 {
		p.Extraction.OCRLanguages = []string{"eng"}
	}
	if p.Extraction.TimeoutSeconds == 0 {
		p.Extraction.TimeoutSeconds = 300
	}
}

func analyzerDefaults(a *quality.ChunkAnalyzer) {
	d := quality.DefaultChunkAnalyzer()
	if a.MinChars == 0 {
		a.MinChars = d.MinChars
	}
	if a.MaxChars == 0 {
		a.MaxChars = d.MaxChars
	}
	if a.IdealLength == 0 {
		a.IdealLength = d.IdealLength
	}
	if a.PenaltyPerFlag == 0 {
		a.PenaltyPerFlag = d.PenaltyPerFlag
	}
}

func gateDefaults(g *quality.Gate, minLength int) {
	if g.MinLength == 0 {
		g.MinLength = minLength
	}
	if g.WarnThreshold == 0 {
		g.WarnThreshold = quality.DefaultWarnThreshold
	}
	if g.RejectThreshold == 0 {
		g.RejectThreshold = quality.DefaultRejectThreshold
	}
}
