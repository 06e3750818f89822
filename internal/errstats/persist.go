package errstats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
)

// PersisterConfig holds persistence settings.
type PersisterConfig struct {
	// SnapshotPath is where the JSON statistics snapshot is rewritten.
	SnapshotPath string

	// SnapshotInterval is the periodic flush cadence.
	SnapshotInterval time.Duration

	// LogPath is the append-only error log.
	LogPath string

	// LogMaxBytes triggers rotation once the log grows past it.
	LogMaxBytes int64

	// LogMaxRotations is how many rotated files are kept.
	LogMaxRotations int
}

// Persister writes the stats snapshot and the append-only error log.
// Rotation is done by rename so it never holds things up rewriting data.
type Persister struct {
	cfg    PersisterConfig
	stats  *Stats
	logger *observability.Logger

	mu      sync.Mutex
	logFile *os.File
	logSize int64
}

// NewPersister creates a persister. Parent directories are created eagerly
// so the first flush cannot fail on a missing path.
func NewPersister(cfg PersisterConfig, stats *Stats, logger *observability.Logger) (*Persister, error) {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	if cfg.LogMaxBytes <= 0 {
		cfg.LogMaxBytes = 5 * 1024 * 1024
	}
	if cfg.LogMaxRotations <= 0 {
		cfg.LogMaxRotations = 3
	}

	for _, path := range []string{cfg.SnapshotPath, cfg.LogPath} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	p := &Persister{cfg: cfg, stats: stats, logger: logger}
	if cfg.LogPath != "" {
		if err := p.openLog(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run flushes the snapshot on every tick until ctx is cancelled, then
// flushes once more on the way out.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.FlushSnapshot(); err != nil && p.logger != nil {
				p.logger.LogError(context.Background(), "final stats flush failed", err)
			}
			return
		case <-ticker.C:
			if err := p.FlushSnapshot(); err != nil && p.logger != nil {
				p.logger.LogError(ctx, "stats flush failed", err)
			}
		}
	}
}

// FlushSnapshot rewrites the JSON snapshot atomically (temp file + rename).
func (p *Persister) FlushSnapshot() error {
	if p.cfg.SnapshotPath == "" {
		return nil
	}

	snap := p.stats.Snapshot(true)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats snapshot: %w", err)
	}

	tmp := p.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.cfg.SnapshotPath); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// AppendLog appends one record to the error log, rotating first when the
// file has outgrown its cap.
func (p *Persister) AppendLog(rec Record) error {
	if p.cfg.LogPath == "" {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.logSize+int64(len(line)) > p.cfg.LogMaxBytes {
		if err := p.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := p.logFile.Write(line)
	p.logSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append error log: %w", err)
	}
	return nil
}

// Close flushes the snapshot and closes the log file.
func (p *Persister) Close() error {
	flushErr := p.FlushSnapshot()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logFile != nil {
		if err := p.logFile.Close(); err != nil {
			return err
		}
		p.logFile = nil
	}
	return flushErr
}

func (p *Persister) openLog() error {
	f, err := os.OpenFile(p.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat error log: %w", err)
	}
	p.logFile = f
	p.logSize = info.Size()
	return nil
}

// rotateLocked shifts errors.log -> errors.log.1 -> ... -> errors.log.N,
// dropping the oldest. Rename-based, so rotation cost is independent of
// log size. Caller must hold the lock.
func (p *Persister) rotateLocked() error {
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}

	oldest := fmt.Sprintf("%s.%d", p.cfg.LogPath, p.cfg.LogMaxRotations)
	_ = os.Remove(oldest)
	for i := p.cfg.LogMaxRotations - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", p.cfg.LogPath, i)
		to := fmt.Sprintf("%s.%d", p.cfg.LogPath, i+1)
		_ = os.Rename(from, to)
	}
	_ = os.Rename(p.cfg.LogPath, p.cfg.LogPath+".1")

	return p.openLog()
}
