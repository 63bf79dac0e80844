// Package secrets encrypts configuration backups at rest. Backup snapshots
// embed the active private key, so they are never written to disk in the
// clear. The fernet key is generated on first use and kept in the settings
// table.
package secrets

import (
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/veilnet/realityd/internal/database"
	"gorm.io/gorm"
)

func getKey() (*fernet.Key, error) {
	keyStr, err := database.GetSetting("fernet_key")
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), err == nil && keyStr == "":
		// First use. Only a genuinely missing key may be replaced; existing
		// backups are unreadable under any other key.
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		keyStr = k.Encode()
		if err := database.SetSetting("fernet_key", keyStr); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		return &k, nil
	case err != nil:
		return nil, fmt.Errorf("load fernet key: %w", err)
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

func Encrypt(plaintext []byte) ([]byte, error) {
	key, err := getKey()
	if err != nil {
		return nil, err
	}
	tok, err := fernet.EncryptAndSign(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return tok, nil
}

func Decrypt(ciphertext []byte) ([]byte, error) {
	key, err := getKey()
	if err != nil {
		return nil, err
	}
	msg := fernet.VerifyAndDecrypt(ciphertext, 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return nil, fmt.Errorf("decrypt: invalid token")
	}
	return msg, nil
}
