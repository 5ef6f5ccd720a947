package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	logx "sitewatch/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ConfigManager owns the committed config. Every candidate, initial or
// reloaded, passes Validate and the optional validator before it replaces
// the committed one and reaches subscribers.
type ConfigManager struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	info Info

	// subsMu is held while publishing so Unsubscribe never closes a channel
	// that is being sent on.
	subsMu sync.Mutex
	subs   []chan *Config

	validator func(ctx context.Context, cfg *Config) error
}

// Info describes the committed config and the latest rejected reload.
type Info struct {
	Path     string    `json:"path"`
	Revision uint64    `json:"revision"`
	Checksum string    `json:"checksum"`
	LoadedAt time.Time `json:"loaded_at"`

	Rejected   string    `json:"rejected,omitempty"`
	RejectedAt time.Time `json:"rejected_at,omitzero"`
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, info: Info{Path: path}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a check run after Validate on every reload.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the file. Unknown keys and trailing data
// are errors.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b)
}

func decode(path string, b []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, fmt.Errorf("%s config: trailing data", format)
	case !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	return &cfg, nil
}

// Load parses, validates and commits the file. It is used once at startup,
// before any validator is installed.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, checksum(cfg))
	return cfg, nil
}

// checksum fingerprints the decoded config, so edits that only touch
// comments or formatting do not count as changes.
func checksum(cfg *Config) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

func (m *ConfigManager) commit(cfg *Config, sum string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.info.Revision++
	m.info.Checksum = sum
	m.info.LoadedAt = time.Now()
	m.info.Rejected, m.info.RejectedAt = "", time.Time{}
}

func (m *ConfigManager) reject(err error) {
	m.mu.Lock()
	m.info.Rejected, m.info.RejectedAt = err.Error(), time.Now()
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Reload parses the file and, when its content changed and passes
// validation, commits and publishes it. It reports whether it published.
func (m *ConfigManager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		m.reject(err)
		return false, err
	}
	sum := checksum(cfg)
	if cur := m.Info(); sum != "" && sum == cur.Checksum {
		return false, nil
	}
	if err := m.check(ctx, cfg); err != nil {
		m.reject(err)
		return false, err
	}
	m.commit(cfg, sum)
	m.publish(cfg)
	return true, nil
}

func (m *ConfigManager) check(ctx context.Context, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.validator == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return m.validator(vctx, cfg)
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish delivers cfg to every subscriber. A full subscriber has its
// pending configs replaced, so it always ends up with the newest.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for delivered := false; !delivered; {
			select {
			case ch <- cfg:
				delivered = true
			case <-ch:
			default:
				// unbuffered with no reader
				m.log.Debug("config update dropped (subscriber not ready)")
				delivered = true
			}
		}
	}
}
