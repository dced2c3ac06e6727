package client

import (
	"testing"

	"github.com/cestef/punch/internal/config"
	"github.com/cestef/punch/internal/identity"
)

func genID(t *testing.T) identity.NodeIdentity {
	t.Helper()
	sk, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return sk.Public()
}

func TestResolveTargetByKnownName(t *testing.T) {
	id := genID(t)
	book := &config.ClientConfig{Hosts: []config.Host{{Name: "alice", ID: id.String()}}}

	got, known, err := ResolveTarget(book, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("expected a known-host match to report known=true")
	}
	if got != id {
		t.Fatalf("resolved wrong identity: %s", got)
	}
}

func TestResolveTargetByKnownIdentity(t *testing.T) {
	id := genID(t)
	book := &config.ClientConfig{Hosts: []config.Host{{Name: "alice", ID: id.String()}}}

	got, known, err := ResolveTarget(book, id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("expected already-known identity to report known=true")
	}
	if got != id {
		t.Fatalf("resolved wrong identity: %s", got)
	}
}

func TestResolveTargetByUnknownIdentity(t *testing.T) {
	id := genID(t)
	book := &config.ClientConfig{}

	got, known, err := ResolveTarget(book, id.String())
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("expected unknown identity to report known=false")
	}
	if got != id {
		t.Fatalf("resolved wrong identity: %s", got)
	}
}

func TestResolveTargetInvalid(t *testing.T) {
	book := &config.ClientConfig{}
	_, _, err := ResolveTarget(book, "not-a-valid-target")
	if err == nil {
		t.Fatal("expected an invalid target to fail resolution")
	}
}

type fakeAdder struct {
	saved *config.ClientConfig
}

func (f *fakeAdder) SaveClientConfig(cfg *config.ClientConfig) error {
	f.saved = cfg
	return nil
}

func TestAddHostPersistsAndRejectsDuplicateNames(t *testing.T) {
	book := &config.ClientConfig{}
	adder := &fakeAdder{}
	id := genID(t)

	h, err := AddHost(adder, book, "bob", "my server", id, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if h.Name != "bob" || h.ID != id.String() {
		t.Fatalf("unexpected host: %+v", h)
	}
	if adder.saved != book {
		t.Fatal("expected the book to be persisted")
	}

	if _, err := AddHost(adder, book, "bob", "", genID(t), 2000); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}
