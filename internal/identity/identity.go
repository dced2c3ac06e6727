// Package identity loads or generates the long-term Ed25519 key pair
// that names a node on the tunnel mesh. Ed25519 rather than a plain
// DH key because the QUIC transport backend needs a key it can sign a
// self-signed host certificate with.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// SecretKey is the 32-byte Ed25519 seed. It is never transmitted.
type SecretKey struct {
	seed ed25519.PrivateKey // 64 bytes: seed + public key, per crypto/ed25519
}

// NodeIdentity is the 32-byte public half, the mesh-wide peer
// identifier.
type NodeIdentity [ed25519.PublicKeySize]byte

func (s SecretKey) Public() NodeIdentity {
	var id NodeIdentity
	copy(id[:], s.seed.Public().(ed25519.PublicKey))
	return id
}

// Ed25519 returns the full private key, for signing TLS certificates
// or handshake challenges.
func (s SecretKey) Ed25519() ed25519.PrivateKey {
	return s.seed
}

// Seed returns the raw 32 bytes persisted to disk.
func (s SecretKey) Seed() []byte {
	return []byte(s.seed.Seed())
}

// Generate creates a fresh key pair, ephemeral unless later persisted
// by Write.
func Generate() (SecretKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SecretKey{}, fmt.Errorf("generate key: %w", err)
	}
	return SecretKey{seed: priv}, nil
}

// FromSeed reconstructs a SecretKey from its persisted 32-byte seed.
func FromSeed(seed []byte) (SecretKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SecretKey{}, fmt.Errorf("invalid key length: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return SecretKey{seed: ed25519.NewKeyFromSeed(seed)}, nil
}

// Load reads a persisted key from path, or generates and writes a new
// one if it doesn't exist yet.
func Load(path string) (SecretKey, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		sk, genErr := Generate()
		if genErr != nil {
			return SecretKey{}, genErr
		}
		if writeErr := Write(path, sk); writeErr != nil {
			return SecretKey{}, writeErr
		}
		return sk, nil
	}
	if err != nil {
		return SecretKey{}, fmt.Errorf("read private key: %w", err)
	}
	return FromSeed(raw)
}

// Write persists the 32-byte seed to path, creating parent directories
// as needed.
func Write(path string, sk SecretKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, sk.Seed(), 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

func (id NodeIdentity) String() string {
	return hex.EncodeToString(id[:])
}

// Short renders the first 6 and last 6 hex characters, the display
// form used everywhere a NodeIdentity is printed to a terminal.
func (id NodeIdentity) Short() string {
	s := id.String()
	if len(s) < 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-6:]
}

// ParseNodeIdentity parses the hex form back into a NodeIdentity.
func ParseNodeIdentity(s string) (NodeIdentity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeIdentity{}, fmt.Errorf("invalid node identity %q: %w", s, err)
	}
	if len(b) != len(NodeIdentity{}) {
		return NodeIdentity{}, fmt.Errorf("invalid node identity %q: expected %d bytes, got %d", s, len(NodeIdentity{}), len(b))
	}
	var id NodeIdentity
	copy(id[:], b)
	return id, nil
}
