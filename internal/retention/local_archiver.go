// Package retention implements the optional history-snapshot archiver
// hygiene can call before pruning: rather than discard compacted
// breadcrumb history outright, write it to JSONL first.
package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/rs/zerolog/log"
)

// HistoryArchiver persists history rows before hygiene deletes them.
type HistoryArchiver interface {
	Kind() string
	ArchiveHistory(ctx context.Context, owner string, entries []models.HistoryEntry) (string, error)
}

// LocalFileArchiver writes pruned history entries as gzipped JSONL files
// to a local directory. This is the default archive driver — OSS and
// development deployments have no durable object store to reach for.
//
// Directory structure:
//
//	{basePath}/{owner}/history/2026-02-20T15-04-05Z.jsonl.gz
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty, it defaults to "~/.breadcrumb/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/breadcrumb/archive"
		} else {
			basePath = filepath.Join(home, ".breadcrumb", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

// ArchiveHistory writes entries to a single timestamped file and returns
// its path. A no-op (empty path, nil error) when entries is empty.
func (a *LocalFileArchiver) ArchiveHistory(_ context.Context, owner string, entries []models.HistoryEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	dir := filepath.Join(a.basePath, owner, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("retention: create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("retention: create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer gw.Close()
		enc = json.NewEncoder(gw)
	}

	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return "", fmt.Errorf("retention: encode history entry %s@%d: %w", e.BreadcrumbID, e.Version, err)
		}
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(entries)).
		Str("owner", owner).
		Msg("archived pruned history")

	return fpath, nil
}

// HealthCheck verifies basePath is writable.
func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("retention: archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("retention: archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
