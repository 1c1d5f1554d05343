package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Manager holds the active Config and swaps in LiveConfig changes as the
// underlying file is edited, without disturbing Server/Storage/Auth
// (which require a restart to change).
type Manager struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current *Config
}

// NewManager loads path once and returns a Manager ready to serve the
// current config and watch for live-reloadable edits.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, logger: logger, current: cfg}, nil
}

// Current returns the active configuration. Callers should treat the
// returned value as a snapshot, not a live pointer.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.current
}

// Watch blocks, reloading path's Live section into the active config on
// every write event, until stop is closed. Parse errors are logged and
// the previous config is kept; a malformed edit never takes the broker
// down.
func (m *Manager) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(m.path); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	reloaded, err := Load(m.path)
	if err != nil {
		m.logger.Warn("reloading config, keeping previous values", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Live = reloaded.Live
	m.logger.Info("applied live config reload",
		zap.Duration("retention_interval", m.current.Live.RetentionInterval),
		zap.Duration("retention_period", m.current.Live.RetentionPeriod),
		zap.Uint32("max_segment_size", m.current.Live.MaxSegmentSize))
}
