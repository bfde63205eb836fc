package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragbase/types"
)

var (
	// errNotPending stops dispatch when something else already moved the document on.
	errNotPending = errors.New("document is no longer pending")
	// errDispatchAborted stops dispatch after the document was failed on the spot.
	errDispatchAborted = errors.New("dispatch aborted")
)

// settled reports whether dispatch must stop retrying after err.
func settled(err error) bool {
	return err == nil || errors.Is(err, errNotPending) || errors.Is(err, errDispatchAborted)
}

// dispatch makes the first publish attempt inline, so a healthy queue answers
// the upload with PROCESSING. Retries continue in the background.
func (o *Orchestrator) dispatch(ctx context.Context, doc *types.Document, logCtx *slog.Logger) {
	err := o.attempt(ctx, doc, 1, logCtx)
	if settled(err) {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.retryDispatch(ctx, doc, err, logCtx)
	}()
}

func (o *Orchestrator) retryDispatch(ctx context.Context, doc *types.Document, lastErr error, logCtx *slog.Logger) {
	for attempt := 2; attempt <= o.cfg.MaxAttempts; attempt++ {
		delay := o.backoff(attempt - 1)
		logCtx.Warn("dispatch failed, retrying", "attempt", attempt-1, "delay", delay, "error", lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		lastErr = o.attempt(ctx, doc, attempt, logCtx)
		if settled(lastErr) {
			return
		}
	}

	detail := fmt.Sprintf("%d dispatch attempts failed, last error: %v", o.cfg.MaxAttempts, lastErr)
	o.fail(ctx, doc.ID, types.ReasonRetriesExhausted, detail, lastErr, logCtx)
}

// attempt publishes one job. A failed publish puts the document back to
// PENDING and bumps its retry counter. If that requeue cannot be written the
// document would sit in PROCESSING with no job behind it, so it is failed.
func (o *Orchestrator) attempt(ctx context.Context, doc *types.Document, n int, logCtx *slog.Logger) error {
	ok, err := o.deps.Documents.MarkProcessing(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		return errNotPending
	}

	extraction := o.cfg.Extraction
	extraction.PageCountHint = doc.PageCount
	job := types.ProcessingJob{
		DocumentID:         doc.ID,
		RawContentLocation: doc.StoragePath,
		Format:             doc.Format,
		ExtractionConfig:   extraction,
		AttemptCount:       n,
	}
	if err := o.deps.Queue.Publish(ctx, job); err != nil {
		requeued, rerr := o.deps.Documents.RequeueForRetry(ctx, doc.ID)
		switch {
		case rerr != nil:
			logCtx.Error("could not requeue document", "error", rerr)
			detail := fmt.Sprintf("requeue after failed publish: %v (publish error: %v)", rerr, err)
			o.fail(ctx, doc.ID, types.ReasonInternalError, detail, rerr, logCtx)
			return errDispatchAborted
		case !requeued:
			return errNotPending
		}
		return err
	}
	logCtx.Info("processing job published", "attempt", n)
	return nil
}

func (o *Orchestrator) backoff(retry int) time.Duration {
	if retry > 30 {
		return o.cfg.BackoffMax
	}
	delay := o.cfg.BackoffBase << (retry - 1)
	if delay <= 0 || (o.cfg.BackoffMax > 0 && delay > o.cfg.BackoffMax) {
		delay = o.cfg.BackoffMax
	}
	return delay
}
