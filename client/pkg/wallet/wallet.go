package wallet

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet exposes an address and signs transactions for it.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Keypair is a Wallet over a local ed25519 secret. The secret stays sealed in a memguard
// enclave and is only decrypted into locked memory for the duration of a signature.
type Keypair struct {
	pub     solana.PublicKey
	enclave *memguard.Enclave
}

// NewKeypair seals key. The caller's slice is left untouched.
func NewKeypair(key solana.PrivateKey) (*Keypair, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d, want %d", len(key), ed25519.PrivateKeySize)
	}
	pub := key.PublicKey()
	derived, ok := ed25519.PrivateKey(key).Public().(ed25519.PublicKey)
	if !ok || !pub.Equals(solana.PublicKeyFromBytes(derived)) {
		return nil, errors.New("private key does not match its embedded public key")
	}

	secret := make([]byte, len(key))
	copy(secret, key)
	return &Keypair{
		pub:     pub,
		enclave: memguard.NewEnclave(secret),
	}, nil
}

// LoadKeypairFile reads a solana-keygen JSON keypair file.
func LoadKeypairFile(path string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file %s: %w", path, err)
	}
	defer wipe(key)
	return NewKeypair(key)
}

// KeypairFromBase58 decodes a base58 encoded 64 byte secret key.
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	defer wipe(raw)
	return NewKeypair(solana.PrivateKey(raw))
}

func (k *Keypair) PublicKey() solana.PublicKey {
	return k.pub
}

func (k *Keypair) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	key := solana.PrivateKey(buf.Bytes())
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(k.pub) {
			return &key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ParseAddress parses a base58 account address.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, errors.New("address is empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: decoded to %d bytes, want %d", s, len(raw), solana.PublicKeyLength)
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// Ellipsify shortens s to its first and last n characters.
func Ellipsify(s string, n int) string {
	if n <= 0 || len(s) <= 2*n+3 {
		return s
	}
	return s[:n] + ".." + s[len(s)-n:]
}
