package pipeline

import (
	"context"
	"errors"

	"ragbase/types"
)

type CallbackOutcome string

const (
	OutcomeApplied CallbackOutcome = "applied"
	// OutcomeIgnored means the document was already finished; nothing changed.
	OutcomeIgnored CallbackOutcome = "ignored"
)

// HandleCallback applies a worker result. The payload shape is checked before
// any state is read, and a callback for a COMPLETED or FAILED document is a
// successful no-op, so the worker may deliver the same result more than once.
func (o *Orchestrator) HandleCallback(ctx context.Context, payload *types.CallbackPayload) (CallbackOutcome, error) {
	if payload == nil {
		return "", types.NewValidationError(map[string]string{"payload": "required"})
	}
	if errs := types.Validate(payload); len(errs) > 0 {
		return "", types.NewValidationError(errs)
	}

	id := payload.ID()
	logCtx := o.logger.With("documentId", id, "success", *payload.Success)

	doc, err := o.deps.Documents.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.Status.Terminal() {
		logCtx.Info("callback for finished document ignored", "status", doc.Status)
		return OutcomeIgnored, nil
	}

	ctx = context.WithoutCancel(ctx)
	if *payload.Success {
		logCtx.Info("extraction result received",
			"pageCount", payload.Result.PageCount, "ocrApplied", payload.Result.OCRApplied,
			"processingTimeMs", payload.Result.ProcessingTimeMs)
		err = o.process(ctx, doc, fromResult(payload.Result), o.cfg.DeferredGate, logCtx)
	} else {
		err = o.fail(ctx, id, payload.Error.Code, payload.Error.Message, nil, logCtx)
	}

	var pe *types.ProcessingError
	switch {
	case err == nil, errors.As(err, &pe):
		return OutcomeApplied, nil
	case errors.Is(err, types.ErrAlreadyTerminal):
		logCtx.Info("document finished concurrently, callback ignored")
		return OutcomeIgnored, nil
	default:
		return "", err
	}
}
