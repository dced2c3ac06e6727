package client

import (
	"errors"

	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/puncherr"
)

// ResolveTarget resolves a user-supplied target string: a known-host
// name wins first, then a syntactically valid NodeIdentity (already
// in the book or not), else
// ErrInvalidTarget. known reports whether the identity is already in
// the book; callers use it to decide whether to offer the interactive
// add-host prompt.
func ResolveTarget(book *config.ClientConfig, target string) (id identity.NodeIdentity, known bool, err error) {
	if h, ok := book.FindByName(target); ok {
		id, err := identity.ParseNodeIdentity(h.ID)
		if err != nil {
			return identity.NodeIdentity{}, false, err
		}
		return id, true, nil
	}

	id, parseErr := identity.ParseNodeIdentity(target)
	if parseErr != nil {
		return identity.NodeIdentity{}, false, puncherr.ErrInvalidTarget
	}
	if _, ok := book.FindByID(id); ok {
		return id, true, nil
	}
	return id, false, nil
}

// AddHostAdder is satisfied by *config.Manager; declared here so tests
// can supply a fake persister.
type AddHostAdder interface {
	SaveClientConfig(cfg *config.ClientConfig) error
}

// AddHost records a freshly resolved, not-yet-known identity under
// name, persists the book, and returns the new entry.
func AddHost(mgr AddHostAdder, book *config.ClientConfig, name, description string, id identity.NodeIdentity, addedAt int64) (config.Host, error) {
	if name == "" {
		return config.Host{}, errors.New("host name must not be empty")
	}
	h := config.Host{
		Name:        name,
		ID:          id.String(),
		Description: description,
		AddedAt:     addedAt,
	}
	if err := book.AddHost(h); err != nil {
		return config.Host{}, err
	}
	if err := mgr.SaveClientConfig(book); err != nil {
		return config.Host{}, err
	}
	return h, nil
}
