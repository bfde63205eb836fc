package api

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ragbase/pipeline"
	"ragbase/types"
)

// Orchestrator is the part of the pipeline the HTTP layer drives.
type Orchestrator interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*types.Document, error)
	Status(ctx context.Context, id uuid.UUID) (*types.StatusReport, error)
	Query(ctx context.Context, params types.QueryParams) ([]types.SearchResult, error)
	HandleCallback(ctx context.Context, payload *types.CallbackPayload) (pipeline.CallbackOutcome, error)
}

type DocumentHandler struct {
	orch   Orchestrator
	logger *slog.Logger
}

func NewDocumentHandler(orch Orchestrator, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		orch:   orch,
		logger: logger,
	}
}

func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrMissingFile()
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	doc, err := h.orch.Ingest(c.UserContext(), pipeline.Upload{
		Filename:  fileHeader.Filename,
		MediaType: fileHeader.Header.Get(fiber.HeaderContentType),
		Data:      data,
	})
	if err != nil {
		return err
	}
	h.logger.Info("upload accepted", "documentId", doc.ID, "filename", doc.Filename, "status", doc.Status)
	return c.Status(fiber.StatusCreated).JSON(doc.Summary())
}

func (h *DocumentHandler) HandleStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	report, err := h.orch.Status(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return ErrNotFound(id, "document")
		}
		return err
	}
	return c.JSON(report)
}

type QueryHandler struct {
	orch Orchestrator
}

func NewQueryHandler(orch Orchestrator) *QueryHandler {
	return &QueryHandler{
		orch: orch,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	results, err := h.orch.Query(c.UserContext(), params)
	if err != nil {
		return err
	}
	return c.JSON(results)
}

// CallbackHandler receives extraction results on the internal listener.
type CallbackHandler struct {
	orch Orchestrator
}

func NewCallbackHandler(orch Orchestrator) *CallbackHandler {
	return &CallbackHandler{
		orch: orch,
	}
}

func (h *CallbackHandler) HandleCallback(c *fiber.Ctx) error {
	var payload types.CallbackPayload
	if c.BodyParser(&payload) != nil {
		return ErrBadRequest()
	}

	outcome, err := h.orch.HandleCallback(c.UserContext(), &payload)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return ErrNotFound(payload.DocumentID, "document")
		}
		return err
	}
	return c.JSON(fiber.Map{"status": outcome})
}
