package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

const (
	// accessKeyVersion is the Base58Check version byte stamped into every
	// issued key. Decoding rejects keys minted with any other version.
	accessKeyVersion byte = 0x67

	// accessKeyEntropy is the number of random bytes behind each key.
	accessKeyEntropy = 32
)

// ErrMalformedKey reports a credential that is not a well-formed access key:
// wrong alphabet, wrong version, or a checksum mismatch.
var ErrMalformedKey = errors.New("malformed access key")

// GenerateAccessKey mints a new API access key. The key string is
// Base58Check encoded (version byte + 32 random bytes + 4-byte checksum), so
// transcription errors are caught before any registry lookup.
//
// Returns the plaintext key (shown to the operator exactly once) and its
// SHA-256 hex digest (the only form ever stored).
func GenerateAccessKey() (key string, keyHash string, err error) {
	payload := make([]byte, accessKeyEntropy)
	if _, err := rand.Read(payload); err != nil {
		return "", "", fmt.Errorf("generate key material: %w", err)
	}

	key = base58.CheckEncode(payload, accessKeyVersion)
	return key, HashAccessKey(key), nil
}

// HashAccessKey hashes a key for storage and lookup. SHA-256 keeps the
// lookup cheap enough to run on every request; keys carry 256 bits of
// entropy, so no per-key salt is needed.
func HashAccessKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DecodeAccessKey validates a presented key's format: Base58Check alphabet,
// version byte, and checksum. It does not consult the registry.
func DecodeAccessKey(key string) error {
	payload, version, err := base58.CheckDecode(key)
	if err != nil {
		switch {
		case errors.Is(err, base58.ErrChecksum):
			return fmt.Errorf("%w: checksum mismatch", ErrMalformedKey)
		case errors.Is(err, base58.ErrInvalidFormat):
			return fmt.Errorf("%w: invalid format", ErrMalformedKey)
		default:
			return fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
	}
	if version != accessKeyVersion {
		return fmt.Errorf("%w: unknown key version 0x%02x", ErrMalformedKey, version)
	}
	if len(payload) != accessKeyEntropy {
		return fmt.Errorf("%w: unexpected key length", ErrMalformedKey)
	}
	return nil
}
