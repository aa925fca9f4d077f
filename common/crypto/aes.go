/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/pkg/errors"
)

// KeySize is the size in bytes of a chain shared key (AES-256).
const KeySize = 32

// GetRandomBytes returns len random looking bytes
func GetRandomBytes(len int) ([]byte, error) {
	if len < 0 {
		return nil, errors.New("Len must be larger than 0")
	}

	buffer := make([]byte, len)

	n, err := rand.Read(buffer)
	if err != nil {
		return nil, err
	}
	if n != len {
		return nil, errors.Errorf("Buffer not filled. Requested [%d], got [%d]", len, n)
	}

	return buffer, nil
}

// GenerateKey returns a fresh 256-bit shared key.
func GenerateKey() ([]byte, error) {
	return GetRandomBytes(KeySize)
}

func pkcs7Padding(src []byte) []byte {
	padding := aes.BlockSize - len(src)%aes.BlockSize
	padtext := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(src, padtext...)
}

func pkcs7UnPadding(src []byte) ([]byte, error) {
	length := len(src)
	unpadding := int(src[length-1])

	if unpadding > aes.BlockSize || unpadding == 0 {
		return nil, errors.New("Invalid pkcs7 padding (unpadding > aes.BlockSize || unpadding == 0)")
	}

	pad := src[len(src)-unpadding:]
	for i := 0; i < unpadding; i++ {
		if pad[i] != byte(unpadding) {
			return nil, errors.New("Invalid pkcs7 padding (pad[i] != unpadding)")
		}
	}

	return src[:(length - unpadding)], nil
}

// aesCBCEncrypt encrypts s under key with a fresh random IV. The IV is
// prepended to the returned ciphertext.
func aesCBCEncrypt(key, s []byte) ([]byte, error) {
	return aesCBCEncryptWithRand(rand.Reader, key, s)
}

func aesCBCEncryptWithRand(prng io.Reader, key, s []byte) ([]byte, error) {
	if len(s)%aes.BlockSize != 0 {
		return nil, errors.New("Invalid plaintext. It must be a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, aes.BlockSize+len(s))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(prng, iv); err != nil {
		return nil, err
	}

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext[aes.BlockSize:], s)

	return ciphertext, nil
}

func aesCBCDecrypt(key, src []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	if len(src) < aes.BlockSize {
		return nil, errors.New("Invalid ciphertext. It must be a multiple of the block size")
	}
	iv := src[:aes.BlockSize]
	src = src[aes.BlockSize:]

	if len(src)%aes.BlockSize != 0 {
		return nil, errors.New("Invalid ciphertext. It must be a multiple of the block size")
	}
	if len(src) == 0 {
		return nil, errors.New("Invalid ciphertext. It carries no blocks")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(src))
	mode.CryptBlocks(plaintext, src)

	return plaintext, nil
}

// AESCBCPKCS7Encrypt combines CBC encryption and PKCS7 padding
func AESCBCPKCS7Encrypt(key, src []byte) ([]byte, error) {
	tmp := pkcs7Padding(append([]byte(nil), src...))
	return aesCBCEncrypt(key, tmp)
}

// AESCBCPKCS7Decrypt combines CBC decryption and PKCS7 unpadding
func AESCBCPKCS7Decrypt(key, src []byte) ([]byte, error) {
	pt, err := aesCBCDecrypt(key, src)
	if err != nil {
		return nil, err
	}
	return pkcs7UnPadding(pt)
}

// Encrypt encrypts plaintext under key and returns the hex encoding of
// IV || ciphertext. Every call draws a new IV, so equal plaintexts produce
// different ciphertexts.
func Encrypt(plaintext, key []byte) (string, error) {
	ct, err := AESCBCPKCS7Encrypt(key, plaintext)
	if err != nil {
		return "", errors.Wrap(err, "failed encrypting payload")
	}
	return hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Malformed input and wrong keys are reported as a
// *errors.DecryptionError from the common/errors package.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return nil, &cerrors.DecryptionError{Reason: "ciphertext is not valid hex: " + err.Error()}
	}
	pt, err := AESCBCPKCS7Decrypt(key, raw)
	if err != nil {
		return nil, &cerrors.DecryptionError{Reason: err.Error()}
	}
	return pt, nil
}
