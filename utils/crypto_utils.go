package utils

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

// GenerateKeyPair generates a new RSA key pair for a sealing authority.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privkey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate rsa key")
	}
	return privkey, &privkey.PublicKey, nil
}

// PrivateKeyToBytes encodes a private key as PEM.
func PrivateKeyToBytes(priv *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(priv),
		},
	)
}

// PublicKeyToBytes encodes a public key in PKIX DER form.
func PublicKeyToBytes(pub *rsa.PublicKey) ([]byte, error) {
	pubASN1, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "marshal public key")
	}
	return pubASN1, nil
}

// BytesToPrivateKey decodes a PEM encoded private key.
func BytesToPrivateKey(priv []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(priv)
	if block == nil {
		return nil, errors.New("no PEM block in private key data")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return key, nil
}

// BytesToPublicKey decodes a PKIX DER encoded public key.
func BytesToPublicKey(pub []byte) (*rsa.PublicKey, error) {
	ifc, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key")
	}
	key, ok := ifc.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

// Sign signs the SHA256 digest of msg with the provided private key.
func Sign(msg []byte, sk *rsa.PrivateKey) ([]byte, error) {
	newhash := crypto.SHA256
	pssh := newhash.New()
	pssh.Write(msg)
	digest := pssh.Sum(nil)

	var opts rsa.PSSOptions
	opts.SaltLength = rsa.PSSSaltLengthAuto
	signature, err := rsa.SignPSS(rand.Reader, sk, newhash, digest, &opts)
	if err != nil {
		return nil, errors.Wrap(err, "sign digest")
	}
	return signature, nil
}

// Verify reports whether the given signature matches the message.
func Verify(msg []byte, pk *rsa.PublicKey, signature []byte) bool {
	newhash := crypto.SHA256
	pssh := newhash.New()
	pssh.Write(msg)
	digest := pssh.Sum(nil)

	var opts rsa.PSSOptions
	opts.SaltLength = rsa.PSSSaltLengthAuto

	return rsa.VerifyPSS(pk, newhash, digest, signature, &opts) == nil
}
