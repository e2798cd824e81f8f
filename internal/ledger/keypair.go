package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing keypair. Addresses and secrets are exchanged
// in base58, the encoding the ledger uses for account keys.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

// KeypairFromBase58 decodes a base58 secret. Both the 64-byte expanded
// private key and the 32-byte seed forms are accepted.
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidKey, len(raw))
	}

	return &Keypair{
		public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// Address returns the base58 public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.public)
}

// Secret returns the base58 encoding of the 64-byte private key.
func (k *Keypair) Secret() string {
	return base58.Encode(k.private)
}

// Sign signs msg with the private key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify reports whether sig is a valid signature of msg by the base58 address.
func Verify(address string, msg, sig []byte) bool {
	pub, err := base58.Decode(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
