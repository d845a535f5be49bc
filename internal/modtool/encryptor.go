package modtool

import "io"

// Sealer encrypts finished content archives. Sealing uses the public key
// only, so exports never prompt for a passphrase.
type Sealer interface {
	Encrypt(r io.Reader, w io.Writer) error
}

// Encryptor manages the key pair behind a Sealer.
type Encryptor interface {
	Sealer

	// Setup generates a key pair, stores the public key in plaintext and
	// encrypts the private key with passphrase. Called by `modtool keys init`.
	Setup(passphrase string) error

	// Unlock decrypts the private key and returns a DecryptionContext for
	// opening sealed archives. A wrong passphrase is an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
