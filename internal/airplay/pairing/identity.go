package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
)

// Identity is the process-scoped long-lived Ed25519 signing identity,
// loaded from (or generated into) a key file at startup. Its public key is
// handed to the mDNS/DNS-SD advertiser.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// LoadOrGenerate reads a 32-byte Ed25519 seed from keyfile, or generates a
// fresh one and persists it (mode 0600) if the file doesn't exist yet.
func LoadOrGenerate(keyfile string) (*Identity, error) {
	seed, err := os.ReadFile(keyfile)
	switch {
	case err == nil:
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("pairing: key file %s has bad length %d", keyfile, len(seed))
		}
	case os.IsNotExist(err):
		seed = make([]byte, ed25519.SeedSize)
		if _, rerr := rand.Read(seed); rerr != nil {
			return nil, fmt.Errorf("pairing: generating key seed: %w", rerr)
		}
		if werr := os.WriteFile(keyfile, seed, 0o600); werr != nil {
			return nil, fmt.Errorf("pairing: writing key file %s: %w", keyfile, werr)
		}
	default:
		return nil, fmt.Errorf("pairing: reading key file %s: %w", keyfile, err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the 32-byte raw Ed25519 public key.
func (id *Identity) PublicKey() []byte {
	out := make([]byte, ed25519.PublicKeySize)
	copy(out, id.pub)
	return out
}
