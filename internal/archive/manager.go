// Package archive preserves the result tables of completed runs: each
// results.csv is copied into a local archive directory under a
// run-stamped name, optionally uploaded to S3, with old local copies
// pruned.
package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/parse"
)

const defaultKeepLast = 24

// Config controls run artifact archiving.
type Config struct {
	Enabled   bool
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Uploader uploads one archived artifact.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// Manager copies run artifacts into the archive and prunes old copies.
type Manager struct {
	cfg      Config
	uploader Uploader
}

// NewManager initializes the archive manager. It returns nil when
// archiving is disabled.
func NewManager(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, fmt.Errorf("archive: local-dir is required when archiving is enabled")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create local-dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			UseSSL:       cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: init s3 uploader: %w", err)
		}
		uploader = s3u
	}

	return &Manager{cfg: cfg, uploader: uploader}, nil
}

// RecordRun archives the run's CSV artifact. Runs without one (scans,
// runs with no output directory) are skipped.
func (m *Manager) RecordRun(ctx context.Context, rec model.RunRecord, _ []parse.Result) error {
	if rec.CSVPath == "" {
		return nil
	}

	shortID := rec.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fileName := fmt.Sprintf("run-%s-%s.csv", rec.FinishedAt.UTC().Format("20060102-150405"), shortID)
	localPath := filepath.Join(m.cfg.LocalDir, fileName)

	if err := copyFile(rec.CSVPath, localPath); err != nil {
		return fmt.Errorf("archive: copy artifact: %w", err)
	}
	log.Printf("archive: stored %s", localPath)

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("archive: upload: %w", err)
		}
		log.Printf("archive: uploaded %s", fileName)
	}

	if err := pruneLocalArchives(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("archive: prune: %w", err)
	}
	return nil
}

func pruneLocalArchives(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(localDir, "run-*.csv"))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		// timestamp is embedded in filename and lexical sort matches chronology
		return matches[i] > matches[j]
	})

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
