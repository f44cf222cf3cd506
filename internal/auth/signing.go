package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrGenerateSigningKey loads the RSA session signing key and its ID from
// disk, generating and persisting a new 2048-bit key when none exists. The
// key ID lives in a sibling ".kid" file so minted tokens stay verifiable
// across restarts.
//
// An empty keyPath falls back to a stable file under the system temp
// directory: sessions then survive restarts on the same host, but not a host
// move.
func LoadOrGenerateSigningKey(keyPath string) (*rsa.PrivateKey, string, error) {
	if keyPath == "" {
		keyPath = filepath.Join(os.TempDir(), "grid-auth-signing.pem")
	}

	keyIDPath := keyPath + ".kid"

	keyData, err := os.ReadFile(keyPath)
	if err == nil {
		block, _ := pem.Decode(keyData)
		if block == nil || block.Type != "RSA PRIVATE KEY" {
			return nil, "", fmt.Errorf("invalid PEM block in signing key %s", keyPath)
		}
		privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, "", fmt.Errorf("parse signing key: %w", err)
		}

		keyIDData, err := os.ReadFile(keyIDPath)
		if err != nil {
			return nil, "", fmt.Errorf("read key ID file: %w", err)
		}
		keyID := strings.TrimSpace(string(keyIDData))
		if keyID == "" {
			return nil, "", fmt.Errorf("key ID file %s is empty", keyIDPath)
		}

		return privateKey, keyID, nil
	}

	if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("read signing key file: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", fmt.Errorf("generate signing key: %w", err)
	}

	keyID := uuid.NewString()

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, "", fmt.Errorf("save signing key to disk: %w", err)
	}
	if err := os.WriteFile(keyIDPath, []byte(keyID), 0600); err != nil {
		return nil, "", fmt.Errorf("save key ID to disk: %w", err)
	}

	return privateKey, keyID, nil
}
