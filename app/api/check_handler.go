package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const checkTimeout = 2 * time.Second

type CheckHandler struct {
	pings map[string]func(context.Context) error
}

// NewCheckHandler takes the named dependency pings reported by HandleReady.
func NewCheckHandler(pings map[string]func(context.Context) error) *CheckHandler {
	return &CheckHandler{pings: pings}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady runs every ping and answers 503 when any of them fails.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	var (
		checks = make(map[string]string, len(h.pings))
		status = fiber.StatusOK
	)
	for name, ping := range h.pings {
		ctx, cancel := context.WithTimeout(c.UserContext(), checkTimeout)
		err := ping(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	result := "ok"
	if status != fiber.StatusOK {
		result = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{"result": result, "checks": checks})
}
