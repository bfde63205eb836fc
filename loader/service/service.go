package service

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ragbase/loader/internal"
	"ragbase/pipeline"
	"ragbase/types"
)

const shutdownTimeout = 5 * time.Second

type Ingester interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*types.Document, error)
}

// Service feeds files dropped into the source folder through the same
// ingestion path as HTTP uploads.
type Service struct {
	logger   *slog.Logger
	ingester Ingester
	watcher  *internal.Watcher
}

func New(ingester Ingester, watcher *internal.Watcher, logger *slog.Logger) *Service {
	return &Service{
		logger:   logger,
		ingester: ingester,
		watcher:  watcher,
	}
}

// Run watches and ingests until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.watcher.WatchFile(ctx, fileChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range fileChan {
			s.ProcessFile(ctx, path)
		}
	}()

	<-ctx.Done()
	s.logger.Info("received shutdown signal, shutting down gracefully")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("loader service stopped")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("timeout waiting for goroutines to stop, forcing shutdown")
	}
}

// ProcessFile ingests one file and moves it out of the source folder. Files
// that were accepted, or whose content is already stored, go to the archive.
// Everything else goes to the bad folder.
func (s *Service) ProcessFile(ctx context.Context, path string) {
	logCtx := s.logger.With("path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		logCtx.Error("error reading file", "error", err)
		s.move(logCtx, path, internal.Bad)
		return
	}

	doc, err := s.ingester.Ingest(ctx, pipeline.Upload{
		Filename:  filepath.Base(path),
		MediaType: mime.TypeByExtension(filepath.Ext(path)),
		Data:      data,
	})

	var pe *types.ProcessingError
	switch {
	case err == nil:
		logCtx.Info("file ingested", "documentId", doc.ID, "status", doc.Status)
		s.move(logCtx, path, internal.Archived)
	case errors.Is(err, types.ErrDuplicateContent):
		logCtx.Info("file content already stored")
		s.move(logCtx, path, internal.Archived)
	case errors.As(err, &pe):
		logCtx.Warn("file failed processing", "reason", pe.Reason, "detail", pe.Detail)
		s.move(logCtx, path, internal.Bad)
	default:
		logCtx.Error("file rejected", "error", err)
		s.move(logCtx, path, internal.Bad)
	}
}

func (s *Service) move(logCtx *slog.Logger, path string, state internal.FileState) {
	dest, err := s.watcher.MoveToArchive(path, state)
	if err != nil {
		logCtx.Error("error moving file", "error", err)
		return
	}
	logCtx.Info("file moved", "dest", dest)
}
