// Package oxidefile implements the encrypted-payload primitive used to
// protect exported connection bundles and saved credentials at rest,
// grounded on original_source's oxide_file/crypto.rs (spec §8 "the
// decrypt(encrypt(payload, pw)) round-trip law").
package oxidefile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1
)

// Encrypt derives a key from password via scrypt and seals payload
// with AES-256-GCM. The returned blob is salt || nonce || ciphertext.
func Encrypt(payload []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "generate salt")
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt, returning the original payload or an error
// if the password is wrong or blob is corrupt (GCM auth failure).
func Decrypt(blob []byte, password string) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, errors.New("blob too short")
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt: wrong password or corrupt data")
	}
	return plaintext, nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return key, nil
}
