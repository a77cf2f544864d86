package config

import (
	"sync"

	"hangulkey/internal/keycode"
)

// Preferences persists user choices back to the configuration file. Only
// the preference keys are written; the rest of the file is left as stored.
type Preferences struct {
	mu   sync.Mutex
	cfg  *Config
	path string
}

// NewPreferences returns a Preferences writing cfg to path.
func NewPreferences(cfg *Config, path string) *Preferences {
	if path == "" {
		path = ConfigPath()
	}
	return &Preferences{cfg: cfg, path: path}
}

// Path returns the preferences file.
func (p *Preferences) Path() string { return p.path }

// SaveSource records the source key and writes the file.
func (p *Preferences) SaveSource(src keycode.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.SetSource(src)
	return Update(p.path, func(c *Config) { c.SetSource(src) })
}

// SaveLaunchAtLogin records the login item state and writes the file.
func (p *Preferences) SaveLaunchAtLogin(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.SetLaunchAtLogin(enabled)
	return Update(p.path, func(c *Config) { c.SetLaunchAtLogin(enabled) })
}
