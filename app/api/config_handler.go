package api

import (
	"github.com/gofiber/fiber/v2"

	"ragbase/config"
)

// ConfigHandler exposes the pipeline profile the server was started with.
type ConfigHandler struct {
	profile *config.Profile
}

func NewConfigHandler(profile *config.Profile) *ConfigHandler {
	return &ConfigHandler{
		profile: profile,
	}
}

func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	p := h.profile
	return c.JSON(fiber.Map{
		"chunker": fiber.Map{
			"chunkSize":     p.Chunker.ChunkSize,
			"overlap":       p.Chunker.Overlap,
			"tokenEncoding": p.Chunker.TokenEncoding,
			"rowsPerChunk":  p.Chunker.RowsPerChunk,
			"slideMinChars": p.Chunker.SlideMinChars,
		},
		"quality": fiber.Map{
			"direct":   gateJSON(p.Quality.Direct.MinLength, p.Quality.Direct.WarnThreshold, p.Quality.Direct.RejectThreshold),
			"deferred": gateJSON(p.Quality.Deferred.MinLength, p.Quality.Deferred.WarnThreshold, p.Quality.Deferred.RejectThreshold),
			"chunks": fiber.Map{
				"minChars":       p.Quality.Chunks.MinChars,
				"maxChars":       p.Quality.Chunks.MaxChars,
				"idealLength":    p.Quality.Chunks.IdealLength,
				"penaltyPerFlag": p.Quality.Chunks.PenaltyPerFlag,
			},
		},
		"dispatch": fiber.Map{
			"maxAttempts":   p.Dispatch.MaxAttempts,
			"backoffBaseMs": p.Dispatch.BackoffBase.Milliseconds(),
			"backoffMaxMs":  p.Dispatch.BackoffMax.Milliseconds(),
		},
		"extraction": p.Extraction,
	})
}

func gateJSON(minLength int, warn, reject float64) fiber.Map {
	return fiber.Map{
		"minLength":       minLength,
		"warnThreshold":   warn,
		"rejectThreshold": reject,
	}
}
