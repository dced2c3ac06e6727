package identity

import (
	"path/filepath"
	"testing"
)

func TestGenerateProducesDistinctKeys(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if a.Public() == b.Public() {
		t.Fatal("two generated keys produced the same identity")
	}
}

func TestSeedRoundTrip(t *testing.T) {
	sk, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	seed := sk.Seed()
	restored, err := FromSeed(seed)
	if err != nil {
		t.Fatal(err)
	}
	if sk.Public() != restored.Public() {
		t.Fatal("restoring from seed changed the public identity")
	}
}

func TestFromSeedRejectsWrongLength(t *testing.T) {
	if _, err := FromSeed([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short seed")
	}
}

func TestLoadGeneratesOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "private_key")

	first, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.Public() != second.Public() {
		t.Fatal("Load did not persist the generated key across calls")
	}
}

func TestNodeIdentityShortAndParse(t *testing.T) {
	sk, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	id := sk.Public()
	short := id.Short()
	if len(short) != 6+3+6 {
		t.Fatalf("unexpected short form length: %q", short)
	}
	parsed, err := ParseNodeIdentity(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatal("parsed identity does not match original")
	}
}

func TestParseNodeIdentityRejectsGarbage(t *testing.T) {
	if _, err := ParseNodeIdentity("not-hex"); err == nil {
		t.Fatal("expected error for non-hex identity")
	}
	if _, err := ParseNodeIdentity("ab"); err == nil {
		t.Fatal("expected error for short identity")
	}
}
