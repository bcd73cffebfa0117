// Package interactionlog implements the append-only interaction log
// (§4.K): one models.InteractionRecord is appended per turn to a
// daily-named JSONL file. The writer is thread-safe, rotates onto a
// freshly named file at the next write after a UTC date boundary, and
// a cron-scheduled sweep prunes files older than the configured
// retention window.
package interactionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

const filePrefix = "interactions-"
const fileSuffix = ".jsonl"

// Config configures a Writer. A zero Config with Enabled=false yields
// a no-op writer (§4.K "disabled mode is a no-op that accepts records
// silently").
type Config struct {
	Enabled bool
	// Dir is the directory daily log files are written into.
	Dir string
	// RetentionDays is how long a daily file is kept before the sweep
	// deletes it. Zero disables the sweep.
	RetentionDays int
	// MaxSizeMB caps an individual day's file before lumberjack starts
	// a size-based backup of it (independent of the daily rotation).
	MaxSizeMB int
	Compress  bool
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 100
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	return c
}

// Writer is the concrete agent.InteractionLogger implementation.
type Writer struct {
	cfg Config

	mu          sync.Mutex
	currentDate string
	rotator     *lumberjack.Logger

	sweep *cron.Cron
}

var _ agent.InteractionLogger = (*Writer)(nil)

// NewWriter constructs a Writer from cfg. When disabled, it still
// satisfies agent.InteractionLogger but every Log call is a no-op.
// When enabled, it runs an immediate retention sweep and schedules a
// daily one via robfig/cron rather than a hand-rolled ticker.
func NewWriter(cfg Config) (*Writer, error) {
	if !cfg.Enabled {
		return &Writer{cfg: cfg}, nil
	}
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("interactionlog: dir is required when enabled")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("interactionlog: create dir: %w", err)
	}

	w := &Writer{cfg: cfg}
	w.sweepOldFiles()

	w.sweep = cron.New(cron.WithLocation(time.UTC))
	if _, err := w.sweep.AddFunc("@daily", w.sweepOldFiles); err != nil {
		return nil, fmt.Errorf("interactionlog: schedule retention sweep: %w", err)
	}
	w.sweep.Start()

	return w, nil
}

// Close stops the retention sweep and the current day's file handle.
func (w *Writer) Close() error {
	if w.sweep != nil {
		ctx := w.sweep.Stop()
		<-ctx.Done()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rotator != nil {
		return w.rotator.Close()
	}
	return nil
}

// Log appends record as one JSON line to today's file, rotating onto
// a new file first if the UTC date has advanced since the last write.
func (w *Writer) Log(ctx context.Context, record *models.InteractionRecord) error {
	if !w.cfg.Enabled {
		return nil
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("interactionlog: marshal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if w.rotator == nil || today != w.currentDate {
		if w.rotator != nil {
			if cerr := w.rotator.Close(); cerr != nil {
				slog.Warn("interactionlog: close previous day's file", "error", cerr)
			}
		}
		w.currentDate = today
		w.rotator = &lumberjack.Logger{
			Filename:   filepath.Join(w.cfg.Dir, filePrefix+today+fileSuffix),
			MaxSize:    w.cfg.MaxSizeMB,
			Compress:   w.cfg.Compress,
			LocalTime:  false,
		}
	}

	if _, err := w.rotator.Write(line); err != nil {
		return fmt.Errorf("interactionlog: write record: %w", err)
	}
	return nil
}

// sweepOldFiles deletes daily log files older than RetentionDays.
// Failures deleting an individual file are logged, never fatal — a
// stuck sweep must not take down the writer.
func (w *Writer) sweepOldFiles() {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.cfg.RetentionDays)

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		slog.Warn("interactionlog: retention sweep read dir", "dir", w.cfg.Dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			path := filepath.Join(w.cfg.Dir, name)
			if err := os.Remove(path); err != nil {
				slog.Warn("interactionlog: retention sweep remove file", "path", path, "error", err)
			}
		}
	}
}
