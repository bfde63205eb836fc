package model

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const DefaultDimension = 384

// HashBackend is a local feature-hashing embedder: every lowercase word and
// word bigram is hashed into a signed bucket. Texts sharing vocabulary land
// close together, which is enough for development and tests without a model server.
type HashBackend struct {
	dim int
}

func NewHashBackend(dim int) *HashBackend {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashBackend{dim: dim}
}

func LoadHash(dim int) Loader {
	return func(context.Context) (Backend, error) {
		return NewHashBackend(dim), nil
	}
}

func (h *HashBackend) Dimension() int {
	return h.dim
}

func (h *HashBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashBackend) vector(text string) []float32 {
	v := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return v
}

func (h *HashBackend) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}
