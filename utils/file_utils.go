package utils

import (
	"crypto/rsa"
	"os"

	"github.com/pkg/errors"
)

// ParseKeyFile loads the authority key from fPath. When createNew is set, a
// fresh key is generated and saved there instead.
func ParseKeyFile(fPath string, createNew bool) (*rsa.PrivateKey, error) {
	if fPath == "" {
		return nil, errors.New("file path is missing")
	}
	if createNew {
		key, _, err := GenerateKeyPair(2048)
		if err != nil {
			return nil, err
		}
		if err := SavePrivateKeyToFile(key, fPath); err != nil {
			return nil, err
		}
		return key, nil
	}
	return ReadKeyFromFile(fPath)
}

// SavePrivateKeyToFile writes the PEM encoded private key to fpath.
func SavePrivateKeyToFile(privkey *rsa.PrivateKey, fpath string) error {
	if err := os.WriteFile(fpath, PrivateKeyToBytes(privkey), 0600); err != nil {
		return errors.Wrapf(err, "save key to %s", fpath)
	}
	return nil
}

// ReadKeyFromFile reads a PEM encoded private key from fpath.
func ReadKeyFromFile(fpath string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, errors.Wrapf(err, "read key from %s", fpath)
	}
	return BytesToPrivateKey(data)
}
