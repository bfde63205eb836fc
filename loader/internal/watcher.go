package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Folders struct {
	SourceDir  string
	ArchiveDir string
	BadDir     string
}

type FileState int

const (
	Archived FileState = iota
	Bad
)

type fileMark struct {
	since   time.Time
	size    int64
	modTime time.Time
}

// Watcher polls the source folder and hands out files that stayed unchanged
// for the monitoring time, so half-copied files are never picked up.
type Watcher struct {
	folders        Folders
	monitoringTime time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger

	mu         sync.Mutex
	firstSeen  map[string]fileMark
	processing map[string]bool
}

func NewWatcher(folders Folders, monitoringTime time.Duration, logger *slog.Logger) (*Watcher, error) {
	if err := createDirectories(folders.SourceDir, folders.ArchiveDir, folders.BadDir); err != nil {
		return nil, err
	}
	poll := time.Second
	if half := monitoringTime / 2; half < poll {
		poll = max(half, 10*time.Millisecond)
	}
	return &Watcher{
		folders:        folders,
		monitoringTime: monitoringTime,
		pollInterval:   poll,
		logger:         logger,
		firstSeen:      make(map[string]fileMark),
		processing:     make(map[string]bool),
	}, nil
}

func (w *Watcher) WatchFile(ctx context.Context, fileChan chan<- string) {
	w.logger.Info("start monitoring folder", "dir", w.folders.SourceDir)
	defer w.logger.Info("file watcher stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.scan() {
				select {
				case fileChan <- path:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// scan returns the files that became ready since the previous poll.
func (w *Watcher) scan() []string {
	entries, err := os.ReadDir(w.folders.SourceDir)
	if err != nil {
		w.logger.Error("error while reading source directory", "error", err)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	current := make(map[string]bool, len(entries))
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.folders.SourceDir, entry.Name())
		current[path] = true
		if w.processing[path] {
			continue
		}

		mark, seen := w.firstSeen[path]
		if !seen || mark.size != info.Size() || !mark.modTime.Equal(info.ModTime()) {
			if !seen {
				w.logger.Info("new file detected", "path", path)
			}
			w.firstSeen[path] = fileMark{since: now, size: info.Size(), modTime: info.ModTime()}
			continue
		}
		if now.Sub(mark.since) >= w.monitoringTime {
			w.processing[path] = true
			ready = append(ready, path)
		}
	}

	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
			delete(w.processing, path)
		}
	}
	return ready
}

// MoveToArchive moves a handled file into a dated subfolder of the archive or
// bad folder and returns its new path. Name clashes get a _N suffix.
func (w *Watcher) MoveToArchive(filePath string, state FileState) (string, error) {
	root := w.folders.ArchiveDir
	if state == Bad {
		root = w.folders.BadDir
	}
	destDir := filepath.Join(root, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}

	ext := filepath.Ext(filePath)
	base := strings.TrimSuffix(filepath.Base(filePath), ext)
	destPath := filepath.Join(destDir, base+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}

	if err := os.Rename(filePath, destPath); err != nil {
		// archive may live on another volume
		if err := copyFile(filePath, destPath); err != nil {
			return "", err
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
	}

	w.mu.Lock()
	delete(w.firstSeen, filePath)
	delete(w.processing, filePath)
	w.mu.Unlock()
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
