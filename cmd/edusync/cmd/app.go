package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nabhalearn/edusync/internal/config"
	"github.com/nabhalearn/edusync/internal/connectivity"
	"github.com/nabhalearn/edusync/internal/export"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/remote"
	"github.com/nabhalearn/edusync/internal/remote/httpstore"
	"github.com/nabhalearn/edusync/internal/remote/redisstore"
	"github.com/nabhalearn/edusync/internal/schema"
	"github.com/nabhalearn/edusync/internal/services"
	syncpkg "github.com/nabhalearn/edusync/internal/sync"
	"github.com/nabhalearn/edusync/internal/sync/queue"
)

const (
	stateFileName = "sync_state.json"

	// recentErrors is how many engine failures the state file keeps.
	recentErrors = 5
)

// app is the wired set of components one command works with.
type app struct {
	cfg *config.Config
	log *logging.Logger

	cat      *schema.Catalog
	queue    *queue.Queue
	remote   remote.Store
	monitor  *connectivity.Monitor
	prober   *connectivity.Prober
	engine   *syncpkg.Engine
	teacher  *services.TeacherService
	learning *services.LearningService
	exporter *export.ExportService
	state    *stateFile

	closeRemote func() error
}

func openApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	cat, err := schema.Open(ctx, cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	q, err := queue.New(ctx, cat.SyncQueue, queue.Options{
		BackoffBase:   cfg.Sync.BackoffBase,
		BackoffMax:    cfg.Sync.BackoffMax,
		RetainSettled: cfg.Sync.RetainSettled,
		Logger:        log,
	})
	if err != nil {
		cat.Close()
		return nil, err
	}

	store, closeRemote, err := newRemote(cfg, log)
	if err != nil {
		cat.Close()
		return nil, err
	}

	teacher, err := services.NewTeacherService(cat, q, services.Options{TeacherID: cfg.TeacherID, Logger: log})
	if err != nil {
		closeRemote()
		cat.Close()
		return nil, err
	}

	learning, err := services.NewLearningService(cat, q, services.Options{Logger: log})
	if err != nil {
		closeRemote()
		cat.Close()
		return nil, err
	}

	monitor := connectivity.NewMonitor(false, log)
	a := &app{
		cfg:         cfg,
		log:         log,
		cat:         cat,
		queue:       q,
		remote:      store,
		monitor:     monitor,
		prober:      connectivity.NewProber(store, monitor, cfg.Sync.ProbeInterval, cfg.Remote.Timeout, log),
		teacher:     teacher,
		learning:    learning,
		exporter:    export.NewExportService(cat, log),
		state:       &stateFile{path: filepath.Join(cfg.DataDir, stateFileName)},
		closeRemote: closeRemote,
	}
	a.engine = syncpkg.NewEngine(q, store, monitor, cat, syncpkg.Options{
		SettledRetention: cfg.Sync.SettledRetention,
		Logger:           log,
		Handler:          syncpkg.SyncEventHandlerFunc(a.onSyncEvent),
	})
	return a, nil
}

func (a *app) onSyncEvent(ev syncpkg.SyncEvent) {
	if ev.Type != syncpkg.SyncEventCompleted || ev.Result == nil {
		return
	}
	if err := a.state.save(ev.Result, a.engine.GetErrorHistory()); err != nil {
		a.log.Warn("Failed to record sync state", map[string]interface{}{"error": err.Error()})
	}
}

// Close releases the remote client and both stores.
func (a *app) Close() error {
	errRemote := a.closeRemote()
	errCat := a.cat.Close()
	if errCat != nil {
		return errCat
	}
	return errRemote
}

// newRemote builds the configured remote store, wrapped with random fault
// injection when sync.fault_rate is set.
func newRemote(cfg *config.Config, log *logging.Logger) (remote.Store, func() error, error) {
	var (
		store   remote.Store
		closeFn = func() error { return nil }
	)

	switch cfg.Remote.Kind {
	case config.RemoteHTTP:
		client, err := httpstore.NewClient(httpstore.Config{BaseURL: cfg.Remote.URL, Timeout: cfg.Remote.Timeout})
		if err != nil {
			return nil, nil, err
		}
		store = client
	case config.RemoteRedis:
		rs := redisstore.New(redisstore.Config{
			Addr:     cfg.Remote.RedisAddr,
			Password: cfg.Remote.RedisPassword,
			DB:       cfg.Remote.RedisDB,
		})
		store, closeFn = rs, rs.Close
	case config.RemoteMemory:
		store = remote.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}

	if cfg.Sync.FaultRate > 0 {
		log.Warn("Injecting remote faults", map[string]interface{}{"rate": cfg.Sync.FaultRate})
		store = remote.WithFaults(store, remote.RandomFaults(cfg.Sync.FaultRate, time.Now().UnixNano()))
	}
	return store, closeFn, nil
}

// remoteLabel describes the configured remote for humans.
func remoteLabel(cfg *config.Config) string {
	switch cfg.Remote.Kind {
	case config.RemoteHTTP:
		return cfg.Remote.URL
	case config.RemoteRedis:
		return "redis://" + cfg.Remote.RedisAddr
	default:
		return cfg.Remote.Kind
	}
}

// =====================================================
// Persisted sync state
// =====================================================

// syncState survives between processes so "status" can report the last
// completed drain.
type syncState struct {
	LastSync     time.Time                `json:"lastSync"`
	LastResult   *syncpkg.DrainResult     `json:"lastResult,omitempty"`
	RecentErrors []syncpkg.SyncErrorEntry `json:"recentErrors,omitempty"`
}

type stateFile struct {
	path string
}

func (f *stateFile) save(result *syncpkg.DrainResult, history []syncpkg.SyncErrorEntry) error {
	if n := len(history); n > recentErrors {
		history = history[n-recentErrors:]
	}
	st := syncState{LastSync: result.EndTime, LastResult: result, RecentErrors: history}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// load returns nil when no drain has completed yet.
func (f *stateFile) load() (*syncState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st syncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return &st, nil
}
