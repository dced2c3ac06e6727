// Package config persists the server's authorized-key list and
// settings and the client's known-host book under $HOME/.punch, TOML
// encoded.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/cestef/punch/internal/identity"
)

const (
	DirName          = ".punch"
	PrivateKeyFile   = "private_key"
	ServerConfigFile = "server.toml"
	ClientConfigFile = "client.toml"

	DefaultMaxConnections = 100
	DefaultMinPort        = 1024
	DefaultMaxPort        = 65535
)

// Dir returns $HOME/.punch, creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory not found: %w", err)
	}
	dir := filepath.Join(home, DirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// PrivateKeyPath returns the path identity.Load should read/write,
// honoring an explicit override (the CLI's --private-key flag).
func PrivateKeyPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PrivateKeyFile), nil
}

// Settings holds the server's tunable limits; zero values are
// replaced by their defaults when missing from disk.
type Settings struct {
	MaxConnections int    `toml:"max_connections"`
	AllowedPorts   [2]int `toml:"allowed_ports"`
}

// ServerConfig is the authorized-key allowlist plus settings, loaded
// fresh on every authorization check so admin edits take effect
// without a restart.
type ServerConfig struct {
	AuthorizedKeys []string `toml:"authorized_keys"`
	Settings       Settings `toml:"settings"`
}

// Validate enforces 1024 <= min <= max <= 65535 on the port range and
// fills in defaults for missing settings.
func (c *ServerConfig) Validate() error {
	if c.Settings.MaxConnections <= 0 {
		c.Settings.MaxConnections = DefaultMaxConnections
	}
	if c.Settings.AllowedPorts == [2]int{0, 0} {
		c.Settings.AllowedPorts = [2]int{DefaultMinPort, DefaultMaxPort}
	}
	min, max := c.Settings.AllowedPorts[0], c.Settings.AllowedPorts[1]
	if min < DefaultMinPort {
		return fmt.Errorf("allowed_ports.min must be >= %d, got %d", DefaultMinPort, min)
	}
	if max > DefaultMaxPort {
		return fmt.Errorf("allowed_ports.max must be <= %d, got %d", DefaultMaxPort, max)
	}
	if min > max {
		return fmt.Errorf("allowed_ports.min (%d) must be <= allowed_ports.max (%d)", min, max)
	}
	return nil
}

// AuthorizedIdentities decodes the hex-encoded authorized_keys list.
func (c *ServerConfig) AuthorizedIdentities() (map[identity.NodeIdentity]struct{}, error) {
	out := make(map[identity.NodeIdentity]struct{}, len(c.AuthorizedKeys))
	for _, k := range c.AuthorizedKeys {
		id, err := identity.ParseNodeIdentity(k)
		if err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, nil
}

// Host is a named, previously-seen peer in the client's book.
type Host struct {
	Name          string `toml:"name"`
	ID            string `toml:"id"`
	Description   string `toml:"description,omitempty"`
	AddedAt       int64  `toml:"added_at"`
	LastConnected int64  `toml:"last_connected,omitempty"`
}

// ClientSettings holds dial tunables.
type ClientSettings struct {
	ConnectionTimeout int `toml:"connection_timeout"`
	MaxRetries        int `toml:"max_retries"`
}

// ClientConfig is the known-host book.
type ClientConfig struct {
	Hosts    []Host         `toml:"hosts"`
	Settings ClientSettings `toml:"settings"`
}

// FindByName returns the host registered under name, if any.
func (c *ClientConfig) FindByName(name string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}

// FindByID returns the host registered under id, if any.
func (c *ClientConfig) FindByID(id identity.NodeIdentity) (Host, bool) {
	s := id.String()
	for _, h := range c.Hosts {
		if h.ID == s {
			return h, true
		}
	}
	return Host{}, false
}

// AddHost appends h to the book. Names and identities must each be
// unique within the book.
func (c *ClientConfig) AddHost(h Host) error {
	if _, ok := c.FindByName(h.Name); ok {
		return fmt.Errorf("a host named %q already exists", h.Name)
	}
	id, err := identity.ParseNodeIdentity(h.ID)
	if err != nil {
		return err
	}
	if _, ok := c.FindByID(id); ok {
		return fmt.Errorf("host %s is already known", id.Short())
	}
	c.Hosts = append(c.Hosts, h)
	return nil
}

// TouchHost stamps LastConnected on the host registered under id,
// reporting whether a host was found.
func (c *ClientConfig) TouchHost(id identity.NodeIdentity, when int64) bool {
	s := id.String()
	for i := range c.Hosts {
		if c.Hosts[i].ID == s {
			c.Hosts[i].LastConnected = when
			return true
		}
	}
	return false
}

// RemoveHost deletes the host matching name or hex identity, returning
// it. The empty Host, false is returned when nothing matched.
func (c *ClientConfig) RemoveHost(identifier string) (Host, bool) {
	for i, h := range c.Hosts {
		if h.Name == identifier || h.ID == identifier {
			c.Hosts = append(c.Hosts[:i], c.Hosts[i+1:]...)
			return h, true
		}
	}
	return Host{}, false
}

func loadTOML[T any](path string, out *T) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func saveTOML[T any](path string, in *T) error {
	raw, err := toml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Manager resolves config paths and loads/saves the two config files.
// A fresh Manager is cheap to construct; callers reload per operation
// rather than caching.
type Manager struct {
	dir string
}

func NewManager() (*Manager, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Manager{dir: dir}, nil
}

// NewManagerForDir builds a Manager rooted at an arbitrary directory,
// bypassing $HOME/.punch. Used by tests that need an isolated config
// root.
func NewManagerForDir(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) ServerConfigPath() string { return filepath.Join(m.dir, ServerConfigFile) }
func (m *Manager) ClientConfigPath() string { return filepath.Join(m.dir, ClientConfigFile) }

// LoadServerConfig loads server.toml, defaulting to an empty
// allowlist (which the caller should warn loudly about) if the file
// does not exist yet.
func (m *Manager) LoadServerConfig() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := loadTOML(m.ServerConfigPath(), &cfg); err != nil {
		if os.IsNotExist(err) || isNotExist(err) {
			cfg.Settings.MaxConnections = DefaultMaxConnections
			cfg.Settings.AllowedPorts = [2]int{DefaultMinPort, DefaultMaxPort}
			return &cfg, nil
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) SaveServerConfig(cfg *ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return saveTOML(m.ServerConfigPath(), cfg)
}

// LoadClientConfig loads client.toml, defaulting to an empty host
// book if the file does not exist yet.
func (m *Manager) LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := loadTOML(m.ClientConfigPath(), &cfg); err != nil {
		if isNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) SaveClientConfig(cfg *ClientConfig) error {
	return saveTOML(m.ClientConfigPath(), cfg)
}

func isNotExist(err error) bool {
	return os.IsNotExist(unwrapPathErr(err))
}

func unwrapPathErr(err error) error {
	for err != nil {
		if os.IsNotExist(err) {
			return err
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
	return err
}
