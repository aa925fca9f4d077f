/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

const identityKeyBits = 2048

// KeyPair is the node identity. Both halves are PEM encoded; the public half
// is what gets stamped on authored blocks as the provider key.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// GenerateKeyPair creates a new RSA identity key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, identityKeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed generating RSA key")
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed marshalling public key")
	}

	return &KeyPair{
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})),
	}, nil
}

// RSAPrivateKey parses the private half of the key pair.
func (kp *KeyPair) RSAPrivateKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(kp.PrivateKey))
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
