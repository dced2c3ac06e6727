// Package authz implements the server's authorization decisions:
// whether a peer identity may connect at all, and whether a requested
// port falls inside the configured range. Mutations (Authorize/Revoke)
// are idempotent on the persisted set.
package authz

import (
	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
)

// Authorizer answers pure yes/no questions against a loaded
// ServerConfig. Config.Manager reloads from disk per call site, so a
// fresh Authorizer is built for each check rather than cached.
type Authorizer struct {
	cfg *config.ServerConfig
	ids map[identity.NodeIdentity]struct{}
}

func New(cfg *config.ServerConfig) (*Authorizer, error) {
	ids, err := cfg.AuthorizedIdentities()
	if err != nil {
		return nil, err
	}
	return &Authorizer{cfg: cfg, ids: ids}, nil
}

func (a *Authorizer) IsAuthorized(id identity.NodeIdentity) bool {
	_, ok := a.ids[id]
	return ok
}

func (a *Authorizer) IsPortAllowed(port uint16) bool {
	min, max := a.cfg.Settings.AllowedPorts[0], a.cfg.Settings.AllowedPorts[1]
	return int(port) >= min && int(port) <= max
}

func (a *Authorizer) MaxConnections() int {
	return a.cfg.Settings.MaxConnections
}

// Authorize adds id to the server's config, returning whether the set
// changed (false if id was already authorized).
func Authorize(cfg *config.ServerConfig, id identity.NodeIdentity) bool {
	s := id.String()
	for _, k := range cfg.AuthorizedKeys {
		if k == s {
			return false
		}
	}
	cfg.AuthorizedKeys = append(cfg.AuthorizedKeys, s)
	return true
}

// Revoke removes id from the server's config, returning whether it
// was present.
func Revoke(cfg *config.ServerConfig, id identity.NodeIdentity) bool {
	s := id.String()
	for i, k := range cfg.AuthorizedKeys {
		if k == s {
			cfg.AuthorizedKeys = append(cfg.AuthorizedKeys[:i], cfg.AuthorizedKeys[i+1:]...)
			return true
		}
	}
	return false
}
