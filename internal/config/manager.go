package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Manager holds the live configuration and republishes it when the file
// changes. Subscribers receive each validated config; only the dispatch
// tuning and the log level are meant to be applied at runtime.
type Manager struct {
	path string
	env  func(string) (string, bool)
	log  zerolog.Logger

	mu  sync.RWMutex
	cfg *Config

	subsMu sync.Mutex
	subs   []chan *Config

	// Debounce collapses the burst of events an editor save produces.
	Debounce time.Duration
}

func NewManager(path string, log zerolog.Logger) *Manager {
	return &Manager{
		path:     path,
		env:      os.LookupEnv,
		log:      log.With().Str("component", "config").Logger(),
		Debounce: 250 * time.Millisecond,
	}
}

// Load parses the file, applies the environment and commits the result.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(m.path, b)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(m.env)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) <-chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// publish delivers cfg to every subscriber, replacing a stale pending
// value when a subscriber's buffer is full.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug().Msg("config update dropped (subscriber slow)")
		}
	}
}

// reload re-reads the file and publishes it when it parses, validates and
// differs from the current config.
func (m *Manager) reload() {
	cfg, err := m.parse()
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("config rejected")
		return
	}
	if reflect.DeepEqual(cfg, m.Get()) {
		m.log.Debug().Str("path", m.path).Msg("config unchanged; skipping publish")
		return
	}
	m.commit(cfg)
	m.publish(cfg)
	m.log.Info().Str("path", m.path).Msg("config reloaded")
}

// Watch follows the config file until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.Debounce, m.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Str("dir", dir).Msg("config watch error")
		}
	}
}
