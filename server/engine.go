package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IMQS/log"
	"github.com/dockyard-archive/dockyard/config"
	"github.com/dockyard-archive/dockyard/web"
)

var (
	errUnknownCollection = errors.New("Unknown collection")
	errNotLoaded         = web.NewServiceUnavailableError("Service unavailable", "Database is still loading. Please try again in a moment.")
	errNoMailer          = web.NewServiceUnavailableError("Email unavailable", "Email delivery is not configured")
)

// Engine for the search service
type Engine struct {
	// The config is never modified in place. To change it, build a new one and call SetConfig.
	Config     *config.Config
	ConfigLock sync.RWMutex

	Source    Source
	Mailer    Mailer
	ErrorLog  *log.Logger
	AccessLog *log.Logger

	// The current snapshot. Nil until the first load succeeds, and never nil after that.
	snapshot atomic.Pointer[Snapshot]

	// Only one reload runs at a time. Searches never take this lock.
	reloadLock sync.Mutex

	// Tracks the number of find operations currently in progress, and the high water mark.
	numFindOpsInProgress int32
	maxFindOpsInProgress int32
}

// Initialize sets up logging and mail. Source must be set before calling Initialize.
// Loggers and Mailer that are already set (eg by unit tests) are left alone.
func (e *Engine) Initialize() error {
	cfg := e.GetConfig()
	if cfg == nil {
		return errors.New("Engine has no config")
	}
	if e.Source == nil {
		return errors.New("Engine has no record source")
	}
	if e.ErrorLog == nil || e.AccessLog == nil {
		e.ErrorLog, e.AccessLog = cfg.NewLoggers()
	}
	if e.Mailer == nil && cfg.Mail.IsConfigured() {
		e.Mailer = NewSMTPMailer(cfg.Mail)
	}
	if e.Mailer == nil {
		e.ErrorLog.Warnf("Mail is not configured. Requests to send results by email will fail.")
	}
	return nil
}

func (e *Engine) Close() {
	if e.ErrorLog != nil {
		e.ErrorLog.Close()
		e.ErrorLog = nil
	}
	if e.AccessLog != nil {
		e.AccessLog.Close()
		e.AccessLog = nil
	}
}

func (e *Engine) GetConfig() *config.Config {
	e.ConfigLock.RLock()
	c := e.Config
	e.ConfigLock.RUnlock()
	return c
}

func (e *Engine) SetConfig(c *config.Config) {
	e.ConfigLock.Lock()
	e.Config = c
	e.ConfigLock.Unlock()
}

// Snapshot returns the current snapshot, or nil if nothing has been loaded yet.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

func (e *Engine) IsDataLoaded() bool {
	return e.snapshot.Load() != nil
}

// SetSnapshot publishes s. Readers that already hold the previous snapshot keep using it until
// their request completes.
func (e *Engine) SetSnapshot(s *Snapshot) {
	e.snapshot.Store(s)
}

// Reload builds a complete new snapshot from the source, and swaps it in. If the load fails, the
// previous snapshot (if any) stays in service. Failures are not retried.
func (e *Engine) Reload(ctx context.Context) (*Snapshot, error) {
	e.reloadLock.Lock()
	defer e.reloadLock.Unlock()

	start := time.Now()
	snap, err := e.loadSnapshot(ctx)
	if err != nil {
		if e.IsDataLoaded() {
			e.ErrorLog.Errorf("Reload failed, keeping previous snapshot: %v", err)
		} else {
			e.ErrorLog.Errorf("Failed to load data. Search is unavailable until a reload succeeds: %v", err)
		}
		return nil, err
	}

	prev := e.snapshot.Swap(snap)
	if prev != nil && prev.fingerprint == snap.fingerprint {
		e.ErrorLog.Infof("Reloaded snapshot %v (unchanged) in %.2f seconds", snap.Fingerprint(), time.Since(start).Seconds())
	} else {
		e.ErrorLog.Infof("Loaded snapshot %v in %.2f seconds", snap.Fingerprint(), time.Since(start).Seconds())
	}
	e.ErrorLog.Infof("Loaded records: Docking(%v), Trident(%v), Ratebook(%v). Total %v",
		snap.Count(DockingRegister), snap.Count(TridentNewspaper), snap.Count(RatebookRecords), snap.Len())
	return snap, nil
}

// requireSnapshot is the gate in front of every search operation
func (e *Engine) requireSnapshot() (*Snapshot, error) {
	snap := e.snapshot.Load()
	if snap == nil {
		return nil, errNotLoaded
	}
	return snap, nil
}

// Atomically set *value to max(*value, newPossibleMax)
// Returns true if we raised the max value
func atomicMaxInt32(value *int32, newPossibleMax int32) bool {
	for {
		old := atomic.LoadInt32(value)
		if old >= newPossibleMax {
			return false
		}
		if atomic.CompareAndSwapInt32(value, old, newPossibleMax) {
			return true
		}
	}
}
