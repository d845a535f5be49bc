// Package encryption seals content archives with age so a published mod can
// only be opened by holders of the exporter's private key.
package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"modtool-go/internal/config"
	"modtool-go/internal/modtool"
)

// AgeEncryptor seals archives to an X25519 recipient. The recipient is kept
// in plaintext next to the identity, which is itself scrypt-encrypted with
// the user's passphrase.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ modtool.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup creates the key pair. Existing keys are never overwritten, since
// archives sealed to them would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	if e.IsConfigured() {
		return fmt.Errorf("keys already exist at %s", filepath.Dir(e.publicKeyPath))
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := writeKeyFile(e.publicKeyPath, 0644, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, identity.Recipient().String())
		return err
	}); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	scrypt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if err := writeKeyFile(e.privateKeyPath, 0600, func(w io.Writer) error {
		enc, err := age.Encrypt(w, scrypt)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(enc, identity.String()); err != nil {
			return err
		}
		return enc.Close()
	}); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// Encrypt seals r to the stored recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return err
	}

	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("sealing data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing seal: %w", err)
	}
	return nil
}

// Unlock decrypts the identity file with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (modtool.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	dec, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	identities, err := age.ParseIdentities(dec)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("private key file holds no identity")
	}
	return &AgeDecryptionContext{identity: identities[0]}, nil
}

func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Recipient returns the public key string, for display by `keys init`.
func (e *AgeEncryptor) Recipient() (string, error) {
	r, err := e.loadRecipient()
	if err != nil {
		return "", err
	}
	if x, ok := r.(*age.X25519Recipient); ok {
		return x.String(), nil
	}
	return "", errors.New("public key is not an X25519 recipient")
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("public key file holds no recipient")
	}
	return recipients[0], nil
}

// writeKeyFile writes a key through a temp file so a failed Setup never
// leaves a truncated key behind.
func writeKeyFile(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// AgeDecryptionContext opens archives sealed by AgeEncryptor.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ modtool.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	dec, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening sealed data: %w", err)
	}
	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("reading sealed data: %w", err)
	}
	return nil
}
