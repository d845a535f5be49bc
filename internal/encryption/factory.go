package encryption

import (
	"fmt"

	"modtool-go/internal/config"
	"modtool-go/internal/modtool"
)

// NewEncryptorFromConfig returns the configured archive encryptor, or nil
// when archives are not sealed.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (modtool.Encryptor, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
