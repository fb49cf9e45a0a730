// Package keyfile loads the fee payer keypair and the deployed program id from
// the files written by the Solana CLI and the deploy tooling.
package keyfile

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	// DefaultProgramIDPath is relative to the working directory.
	DefaultProgramIDPath = ".program-id"

	// DefaultCredentialPath is the Solana CLI's default keypair location. It
	// is expanded with ExpandPath when read.
	DefaultCredentialPath = "~/.config/solana/id.json"
)

var (
	// ErrPreconditionMissing indicates a required file does not exist.
	ErrPreconditionMissing = errors.New("precondition missing")

	ErrMalformedKeypair = errors.New("malformed keypair file")
	ErrInvalidProgramID = errors.New("invalid program id")
)

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// LoadKeypair reads a keypair stored as a JSON array of the 64 secret key
// bytes: the seed followed by the public key.
func LoadKeypair(path string) (ed25519.PrivateKey, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrapf(ErrMalformedKeypair, "%s: %v", path, err)
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrMalformedKeypair, "%s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(values))
	}

	secret := make([]byte, ed25519.PrivateKeySize)
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(ErrMalformedKeypair, "%s: byte %d out of range", path, i)
		}
		secret[i] = byte(v)
	}

	key := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], secret[ed25519.SeedSize:]) {
		return nil, errors.Wrapf(ErrMalformedKeypair, "%s: public key does not match secret key", path)
	}
	return key, nil
}

// SaveKeypair writes key in the format read by LoadKeypair, readable only by
// the owner.
func SaveKeypair(path string, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return errors.New("invalid private key")
	}

	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

// LoadProgramID reads a base58 encoded program address.
func LoadProgramID(path string) (ed25519.PublicKey, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	encoded := strings.TrimSpace(string(raw))
	decoded, err := base58.Decode(encoded)
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(ErrInvalidProgramID, "%s: %q", path, encoded)
	}
	return decoded, nil
}

func readFile(path string) ([]byte, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrPreconditionMissing, "%s does not exist", path)
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return raw, nil
}
