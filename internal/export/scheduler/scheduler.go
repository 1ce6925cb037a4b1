// Package scheduler writes backup archives on a fixed interval and prunes
// old ones.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nabhalearn/edusync/internal/export"
	"github.com/nabhalearn/edusync/internal/logging"
)

const (
	archivePrefix = "edusync_"
	archiveSuffix = ".tar.gz"
	// Millisecond precision keeps names unique and sortable by time.
	archiveTimeLayout = "20060102_150405.000"
)

// SchedulerConfig holds the backup scheduler configuration.
type SchedulerConfig struct {
	Interval       time.Duration // How often to back up (0 = manual only)
	RetentionCount int           // Number of archives to keep (0 = unlimited)
	ExportDir      string        // Directory to store archives (default: "backups")
}

// Scheduler manages automatic backups.
type Scheduler struct {
	archiver export.Archiver
	config   SchedulerConfig
	log      *logging.Logger
	now      func() time.Time

	// runMu serializes archive runs.
	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	lastRun time.Time
	lastErr error
}

// NewScheduler creates a new backup scheduler.
func NewScheduler(archiver export.Archiver, config SchedulerConfig, log *logging.Logger) *Scheduler {
	if config.ExportDir == "" {
		config.ExportDir = "backups"
	}
	if config.RetentionCount < 0 {
		config.RetentionCount = 0
	}
	if log == nil {
		log = logging.Get()
	}
	return &Scheduler{
		archiver: archiver,
		config:   config,
		log:      log.Named("backup"),
		now:      time.Now,
	}
}

// Start begins periodic backups, the first one immediately. A zero
// interval leaves the scheduler in manual mode.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		s.log.Info("Backup scheduler in manual mode")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.log.Info("Backup scheduler started", map[string]interface{}{
		"interval":  s.config.Interval.String(),
		"retention": s.config.RetentionCount,
		"dir":       s.config.ExportDir,
	})

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("Scheduled backup failed", err)
		}
		select {
		case <-ticker.C:
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts periodic backups and waits for a running one to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Backup scheduler stopped")
}

// RunOnce writes one archive and applies the retention policy. A failed
// retention pass is logged, not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (*export.ExportResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result, err := s.runExport(ctx)

	s.mu.Lock()
	s.lastRun = s.now()
	s.lastErr = err
	s.mu.Unlock()
	return result, err
}

func (s *Scheduler) runExport(ctx context.Context) (*export.ExportResult, error) {
	if err := os.MkdirAll(s.config.ExportDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	name := archivePrefix + s.now().UTC().Format(archiveTimeLayout) + archiveSuffix
	result, err := s.archiver.WriteArchive(ctx, filepath.Join(s.config.ExportDir, name))
	if err != nil {
		return nil, fmt.Errorf("backup failed: %w", err)
	}

	s.log.Info("Backup completed", map[string]interface{}{
		"file":       result.FilePath,
		"size_bytes": result.SizeBytes,
		"item_count": result.ItemCount,
		"duration":   result.Duration.String(),
	})

	if s.config.RetentionCount > 0 {
		if err := s.applyRetentionPolicy(); err != nil {
			s.log.Error("Backup retention failed", err)
		}
	}
	return result, nil
}

// LastRun returns when the last backup ran and its error.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// applyRetentionPolicy removes the oldest archives beyond the retention count.
func (s *Scheduler) applyRetentionPolicy() error {
	archives, err := ListArchives(s.config.ExportDir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	if len(archives) <= s.config.RetentionCount {
		return nil
	}

	for _, archive := range archives[:len(archives)-s.config.RetentionCount] {
		if err := os.Remove(archive.Path); err != nil {
			s.log.Warn("Failed to delete old backup", map[string]interface{}{
				"path":  archive.Path,
				"error": err.Error(),
			})
			continue
		}
		s.log.Debug("Deleted old backup", map[string]interface{}{"path": archive.Path})
	}
	return nil
}

// ArchiveInfo describes a backup archive on disk.
type ArchiveInfo struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}

// ListArchives returns the backup archives in dir, oldest first. A missing
// directory holds no archives.
func ListArchives(dir string) ([]*ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var archives []*ArchiveInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
		created, err := time.Parse(archiveTimeLayout, stamp)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		archives = append(archives, &ArchiveInfo{
			Path:      filepath.Join(dir, name),
			SizeBytes: info.Size(),
			CreatedAt: created,
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt.Before(archives[j].CreatedAt)
	})
	return archives, nil
}
