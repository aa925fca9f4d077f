/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"testing"

	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, k1, KeySize)

	k2, err := GenerateKey()
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey()
	require.NoError(t, err)

	for _, ptext := range [][]byte{
		{},
		[]byte("1"),
		[]byte(`{"action":"genesis","fields":{"date_of_birth":"1815-12-10","first_name":"Ada","last_name":"Lovelace"}}`),
		bytes.Repeat([]byte{'x'}, aes.BlockSize),
		bytes.Repeat([]byte{'y'}, 3*aes.BlockSize+7),
	} {
		ct, err := Encrypt(ptext, key)
		require.NoError(t, err)

		pt, err := Decrypt(ct, key)
		require.NoError(t, err)
		require.Equal(t, ptext, pt)
	}
}

func TestEncryptUsesFreshIVs(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey()
	require.NoError(t, err)

	ptext := []byte("identical plaintext")
	ct1, err := Encrypt(ptext, key)
	require.NoError(t, err)
	ct2, err := Encrypt(ptext, key)
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct2, "equal plaintexts must not produce equal ciphertexts")

	raw1, _ := hex.DecodeString(ct1)
	raw2, _ := hex.DecodeString(ct2)
	require.NotEqual(t, raw1[:aes.BlockSize], raw2[:aes.BlockSize])
}

func TestDecryptFailures(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey()
	require.NoError(t, err)
	ct, err := Encrypt([]byte("a message with arbitrary length (42 bytes)"), key)
	require.NoError(t, err)

	t.Run("not hex", func(t *testing.T) {
		_, err := Decrypt("zz-not-hex", key)
		require.True(t, cerrors.IsDecryption(err))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Decrypt(ct[:16], key)
		require.True(t, cerrors.IsDecryption(err))
	})

	t.Run("only iv", func(t *testing.T) {
		_, err := Decrypt(ct[:2*aes.BlockSize], key)
		require.True(t, cerrors.IsDecryption(err))
	})

	t.Run("misaligned", func(t *testing.T) {
		_, err := Decrypt(ct[:len(ct)-2], key)
		require.True(t, cerrors.IsDecryption(err))
	})

	t.Run("bad key size", func(t *testing.T) {
		_, err := Decrypt(ct, key[:7])
		require.True(t, cerrors.IsDecryption(err))
	})
}

func TestDecryptWithWrongKey(t *testing.T) {
	t.Parallel()

	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	ptext := []byte(`{"action":"add-record","fields":{"subject":"x-ray"}}`)
	ct, err := Encrypt(ptext, k1)
	require.NoError(t, err)

	// CBC is unauthenticated: a wrong key either fails the padding check or
	// yields garbage, never the original plaintext.
	pt, err := Decrypt(ct, k2)
	if err == nil {
		require.NotEqual(t, ptext, pt)
	} else {
		require.True(t, cerrors.IsDecryption(err))
	}
}

func TestPKCS7Padding(t *testing.T) {
	require.Equal(t, bytes.Repeat([]byte{16}, 16), pkcs7Padding([]byte{}))

	padded := pkcs7Padding([]byte("12"))
	require.Len(t, padded, aes.BlockSize)
	require.Equal(t, byte(14), padded[aes.BlockSize-1])

	unpadded, err := pkcs7UnPadding(padded)
	require.NoError(t, err)
	require.Equal(t, []byte("12"), unpadded)

	_, err = pkcs7UnPadding(append(bytes.Repeat([]byte{'a'}, 15), 0))
	require.Error(t, err)
	_, err = pkcs7UnPadding(append(bytes.Repeat([]byte{'a'}, 14), 1, 2))
	require.Error(t, err)
}

func TestHash(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
	require.Equal(t, Hash([]byte("abc")), Hash([]byte("abc")))
	require.NotEqual(t, Hash([]byte("abc")), Hash([]byte("abd")))
}
