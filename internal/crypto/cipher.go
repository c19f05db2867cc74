// Package crypto encrypts message text at rest with AES-256-CBC.
//
// Tokens are hex(iv) ":" hex(ciphertext), base64-encoded as a whole. The
// bare hex form written by older deployments is accepted on read when
// AcceptLegacy is set.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/vedran77/huddle/pkg/apperr"
)

const (
	keySize = 32
	keyPad  = '0'
)

var (
	errMalformedToken = errors.New("token is not hex(iv):hex(ciphertext)")
	errBadIV          = errors.New("iv must be 16 bytes")
	errBadCiphertext  = errors.New("ciphertext is not a whole number of blocks")
	errBadPadding     = errors.New("invalid padding")
	errNotUTF8        = errors.New("plaintext is not valid utf-8")
)

type Config struct {
	Key          string
	AcceptLegacy bool
}

// Cipher is safe for concurrent use; its key never changes after New.
type Cipher struct {
	block  cipher.Block
	legacy bool
	rand   io.Reader
}

func New(cfg Config) (*Cipher, error) {
	if cfg.Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	block, err := aes.NewCipher(deriveKey(cfg.Key))
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, legacy: cfg.AcceptLegacy, rand: rand.Reader}, nil
}

// deriveKey truncates the secret to 32 bytes and right-pads it with ASCII
// '0'. Stored tokens depend on this exact byte layout.
func deriveKey(secret string) []byte {
	key := []byte(secret)
	if len(key) >= keySize {
		return key[:keySize]
	}
	return append(key, bytes.Repeat([]byte{keyPad}, keySize-len(key))...)
}

// Encrypt returns a token for plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", err
	}

	padded := pad([]byte(plaintext))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ct, padded)

	combined := hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
	return base64.StdEncoding.EncodeToString([]byte(combined)), nil
}

// Decrypt reverses Encrypt. Any malformed token or key mismatch yields an
// apperr Decryption error; the raw token is never handed back.
func (c *Cipher) Decrypt(token string) (string, error) {
	combined, err := c.unwrap(token)
	if err != nil {
		return "", apperr.Decryption("cannot decrypt message", err)
	}

	ivHex, ctHex, ok := strings.Cut(combined, ":")
	if !ok || strings.Contains(ctHex, ":") {
		return "", apperr.Decryption("cannot decrypt message", errMalformedToken)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", apperr.Decryption("cannot decrypt message", errBadIV)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", apperr.Decryption("cannot decrypt message", errBadCiphertext)
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ct)

	plain, err := unpad(out)
	if err != nil {
		return "", apperr.Decryption("cannot decrypt message", err)
	}
	if !utf8.Valid(plain) {
		return "", apperr.Decryption("cannot decrypt message", errNotUTF8)
	}
	return string(plain), nil
}

// unwrap strips the outer base64 layer. A legacy token contains ':' and so
// can never be valid base64, which keeps the two decode paths disjoint.
func (c *Cipher) unwrap(token string) (string, error) {
	if token == "" {
		return "", errMalformedToken
	}
	if raw, err := base64.StdEncoding.DecodeString(token); err == nil {
		return string(raw), nil
	}
	if c.legacy && strings.Contains(token, ":") {
		return token, nil
	}
	return "", errMalformedToken
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
