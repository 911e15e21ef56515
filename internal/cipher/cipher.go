// Package cipher encrypts stored secrets under a caller-supplied master key
// and hashes master keys for later verification.
//
// Ciphertexts use the OpenSSL "Salted__" passphrase format (AES-256-CBC with
// EVP_BytesToKey/MD5 key derivation), which is what existing clients of the
// vault produce. The format carries no authentication tag: decrypting with the
// wrong key yields an empty string rather than an error, and a tampered
// ciphertext may decrypt to garbage. Authenticity of the master key is
// established separately through Verify.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/md5" //nolint:gosec // EVP_BytesToKey is defined over MD5
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt work factor for master-key hashes.
	DefaultCost = 12

	saltHeader = "Salted__"
	saltLen    = 8
	keyLen     = 32
)

// Box is safe for concurrent use.
type Box struct {
	cost int
}

// New returns a Box hashing with the given bcrypt cost. Costs outside
// bcrypt's accepted range fall back to DefaultCost.
func New(cost int) *Box {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Box{cost: cost}
}

// Encrypt seals secret under key. Every call uses a fresh random salt.
func (b *Box) Encrypt(secret, key string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	derivedKey, iv := deriveKeyIV([]byte(key), salt)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}

	plaintext := pad([]byte(secret), aes.BlockSize)
	sealed := make([]byte, len(plaintext))
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, plaintext)

	out := make([]byte, 0, len(saltHeader)+saltLen+len(sealed))
	out = append(out, saltHeader...)
	out = append(out, salt...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens ciphertext with key. It returns "" when the ciphertext is
// malformed or the key is wrong; it never returns an error.
func (b *Box) Decrypt(ciphertext, key string) string {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return ""
	}
	headerLen := len(saltHeader) + saltLen
	if len(raw) <= headerLen || !bytes.HasPrefix(raw, []byte(saltHeader)) {
		return ""
	}
	salt := raw[len(saltHeader):headerLen]
	sealed := raw[headerLen:]
	if len(sealed)%aes.BlockSize != 0 {
		return ""
	}

	derivedKey, iv := deriveKeyIV([]byte(key), salt)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return ""
	}

	plaintext := make([]byte, len(sealed))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, sealed)

	plaintext, ok := unpad(plaintext, aes.BlockSize)
	if !ok || !utf8.Valid(plaintext) {
		return ""
	}
	return string(plaintext)
}

// Hash returns a bcrypt hash of masterKey. Two calls on the same input
// produce different strings.
func (b *Box) Hash(masterKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(masterKey), b.cost)
	if err != nil {
		return "", fmt.Errorf("hash master key: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether masterKey matches hash. Malformed hashes never match.
func (b *Box) Verify(masterKey, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(masterKey)) == nil
}

// deriveKeyIV implements OpenSSL's EVP_BytesToKey with MD5 and one round.
func deriveKeyIV(password, salt []byte) (key, iv []byte) {
	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < keyLen+aes.BlockSize {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+aes.BlockSize]
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, c := range data[len(data)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
