// Package scheduler decides when the sync engine drains: on reconnect, on
// regained visibility, on a periodic timer and on explicit request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nabhalearn/edusync/internal/connectivity"
	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	syncpkg "github.com/nabhalearn/edusync/internal/sync"
)

// Scheduler manages background drain triggering.
type Scheduler struct {
	engine         syncpkg.SyncEngineInterface
	monitor        *connectivity.Monitor
	syncInterval   time.Duration
	statusInterval time.Duration
	drainTimeout   time.Duration
	onStatus       func(syncpkg.Status)
	log            *logging.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	drainWG sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	syncInProgress bool
	lastSyncTime   time.Time
	lastStatus     syncpkg.Status
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval   time.Duration // How often to drain while online (default: 15 minutes)
	StatusInterval time.Duration // How often to recompute backlog counts (default: 5 seconds)
	DrainTimeout   time.Duration // Upper bound for one drain (default: 5 minutes)

	// OnStatus, when set, receives every recomputed status.
	OnStatus func(syncpkg.Status)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:   15 * time.Minute,
		StatusInterval: 5 * time.Second,
		DrainTimeout:   5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, monitor *connectivity.Monitor, config *SchedulerConfig, log *logging.Logger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	if log == nil {
		log = logging.Get()
	}

	s := &Scheduler{
		engine:         engine,
		monitor:        monitor,
		syncInterval:   config.SyncInterval,
		statusInterval: config.StatusInterval,
		drainTimeout:   config.DrainTimeout,
		onStatus:       config.OnStatus,
		log:            log.Named("scheduler"),
		stopCh:         make(chan struct{}),
	}
	if s.syncInterval <= 0 {
		s.syncInterval = defaults.SyncInterval
	}
	if s.statusInterval <= 0 {
		s.statusInterval = defaults.StatusInterval
	}
	if s.drainTimeout <= 0 {
		s.drainTimeout = defaults.DrainTimeout
	}
	return s
}

// Start starts the background loops. Calling Start on a running or stopped
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return
	default:
	}
	s.isRunning = true
	s.mu.Unlock()

	events, unsubscribe := s.monitor.Subscribe()

	s.wg.Add(3)
	go s.eventLoop(ctx, events, unsubscribe)
	go s.periodicSyncLoop(ctx)
	go s.statusLoop(ctx)

	s.log.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":   s.syncInterval.String(),
		"status_interval": s.statusInterval.String(),
	})
}

// Stop stops the loops and waits for an in-flight drain to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.drainWG.Wait()

	s.log.Info("Background sync scheduler stopped")
}

// eventLoop turns connectivity transitions into drains.
func (s *Scheduler) eventLoop(ctx context.Context, events <-chan connectivity.Event, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Scheduler) handleEvent(ctx context.Context, ev connectivity.Event) {
	switch ev.Type {
	case connectivity.BecameOnline:
		pending, err := s.engine.PendingCount(ctx)
		if err != nil {
			s.log.Error("Failed to count pending items", err)
			return
		}
		if pending == 0 {
			return
		}
		s.log.Info("Back online, draining", map[string]interface{}{"pending": pending})
		s.TriggerSync(ctx)
	case connectivity.BecameVisible:
		if s.monitor.Online() {
			s.TriggerSync(ctx)
		}
	case connectivity.BecameOffline:
		// An in-flight drain fails against the remote on its own.
		s.log.Info("Offline, drains suspended")
	}
}

// periodicSyncLoop drains on the sync interval while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.Online() {
				continue
			}
			s.TriggerSync(ctx)
		}
	}
}

// statusLoop recomputes displayed counts. It never drains.
func (s *Scheduler) statusLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	s.refreshStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refreshStatus(ctx)
		}
	}
}

func (s *Scheduler) refreshStatus(ctx context.Context) {
	st, err := s.engine.RefreshStatus(ctx)
	if err != nil {
		s.log.Warn("Status refresh failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.lastStatus = st
	s.mu.Unlock()
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

// TriggerSync starts a drain in the background.
// Returns true if a drain was started, false if offline or one is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.monitor.Online() {
		return false
	}
	s.mu.Lock()
	if s.syncInProgress || s.engine.InProgress() {
		s.mu.Unlock()
		return false
	}
	s.syncInProgress = true
	s.drainWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.drainWG.Done()
		s.runSync(ctx, false)
	}()
	return true
}

// SyncNow runs a forced drain and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.DrainResult, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "drain already in progress")
	}
	s.syncInProgress = true
	s.mu.Unlock()

	return s.runSync(ctx, true)
}

// runSync executes one drain. syncInProgress must already be set.
func (s *Scheduler) runSync(ctx context.Context, force bool) (*syncpkg.DrainResult, error) {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	result, err := s.engine.Drain(syncCtx, force)
	switch {
	case errors.Is(err, errors.ErrSyncOffline), errors.Is(err, errors.ErrSyncInProgress):
		s.log.Debug("Drain skipped", map[string]interface{}{"reason": string(errors.CodeOf(err))})
		return result, err
	case err != nil:
		s.log.ErrorWithCode("Drain failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"forced": force})
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = result.EndTime
	s.mu.Unlock()
	return result, nil
}

// SchedulerStatus is the scheduler's view for status displays.
type SchedulerStatus struct {
	IsRunning      bool
	IsOnline       bool
	LastSyncTime   *time.Time
	SyncInProgress bool
	Engine         syncpkg.Status
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.monitor.Online(),
		SyncInProgress: s.syncInProgress || s.engine.InProgress(),
		Engine:         s.lastStatus,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
