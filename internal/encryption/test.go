package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"modtool-go/internal/modtool"
)

// TestHeader prefixes data sealed by TestEncryptor.
var TestHeader = []byte("MODSEAL\x00")

// TestEncryptor seals by prepending TestHeader. Output differs from the
// input so archive checksums change, but no keys are involved.
type TestEncryptor struct {
	configured bool
}

var _ modtool.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{configured: true}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(TestHeader); err != nil {
		return fmt.Errorf("writing seal header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("sealing data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (modtool.DecryptionContext, error) {
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return e.configured }

// TestDecryptionContext strips TestHeader.
type TestDecryptionContext struct{}

var _ modtool.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(TestHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading seal header: %w", err)
	}
	if !bytes.Equal(header, TestHeader) {
		return errors.New("data was not sealed by the test encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
