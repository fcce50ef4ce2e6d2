// Package gpg signs and verifies repository metadata with OpenPGP.
package gpg

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// Signer produces detached and clear-signed OpenPGP signatures using
// ProtonMail's maintained fork of golang.org/x/crypto/openpgp.
type Signer struct {
	entity  *openpgp.Entity
	keyring openpgp.EntityList
}

// NewSignerFromFile loads an armored (or binary) private key and unlocks it with passphrase
func NewSignerFromFile(keyPath string, passphrase []byte) (*Signer, error) {
	//nolint:gosec // G304: keyPath is the operator-provided signing key
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer f.Close()

	return NewSigner(f, passphrase)
}

// NewSigner reads a private key from r and unlocks it with passphrase
func NewSigner(r io.ReadSeeker, passphrase []byte) (*Signer, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		// Try reading as binary
		if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil {
			return nil, fmt.Errorf("failed to reset key reader: %w", seekErr)
		}
		keyring, err = openpgp.ReadKeyRing(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
	}

	var entity *openpgp.Entity
	for _, e := range keyring {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, fmt.Errorf("no private key found")
	}

	if err := unlock(entity, passphrase); err != nil {
		return nil, err
	}

	return &Signer{entity: entity, keyring: openpgp.EntityList{entity}}, nil
}

func unlock(entity *openpgp.Entity, passphrase []byte) error {
	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("failed to unlock private key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
				return fmt.Errorf("failed to unlock subkey: %w", err)
			}
		}
	}
	return nil
}

// Fingerprint returns the primary key fingerprint in upper-case hex
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// DetachSign writes an armored detached signature of message to w
func (s *Signer) DetachSign(w io.Writer, message io.Reader) error {
	if err := openpgp.ArmoredDetachSign(w, s.entity, message, nil); err != nil {
		return fmt.Errorf("failed to create detached signature: %w", err)
	}
	return nil
}

// ClearSign writes message wrapped in a clear-signed envelope to w
func (s *Signer) ClearSign(w io.Writer, message []byte) error {
	key, ok := s.entity.SigningKey(time.Now())
	if !ok {
		return fmt.Errorf("key %s has no valid signing key", s.Fingerprint())
	}

	plaintext, err := clearsign.Encode(w, key.PrivateKey, nil)
	if err != nil {
		return fmt.Errorf("failed to start clear signature: %w", err)
	}
	if _, err := plaintext.Write(message); err != nil {
		return fmt.Errorf("failed to write clear-signed message: %w", err)
	}
	if err := plaintext.Close(); err != nil {
		return fmt.Errorf("failed to finish clear signature: %w", err)
	}
	return nil
}

// VerifyDetached checks an armored detached signature against the signer's own key
func (s *Signer) VerifyDetached(message, signature io.Reader) error {
	if _, err := openpgp.CheckArmoredDetachedSignature(s.keyring, message, signature, nil); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// VerifyClearSigned checks a clear-signed document and returns its plaintext
func (s *Signer) VerifyClearSigned(document []byte) ([]byte, error) {
	block, _ := clearsign.Decode(document)
	if block == nil {
		return nil, fmt.Errorf("no clear-signed block found")
	}
	if _, err := block.VerifySignature(s.keyring, nil); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	return bytes.TrimSuffix(block.Plaintext, []byte("\n")), nil
}
