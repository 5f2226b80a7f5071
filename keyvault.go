package torctl

import (
	"bytes"
	"crypto/rand"
	"os"

	"golang.org/x/crypto/argon2"
)

// vaultMagic marks a key file as passphrase-encrypted at rest. Like the
// host application's own SecureBuffer it protects the bytes with an
// Argon2id-derived key, but it applies a plain XOR stream over the
// plaintext where SecureBuffer uses an AEAD — see DESIGN.md.
var vaultMagic = []byte("TORCTLVAULT1")

const vaultSaltLen = 32

func isVaultFile(raw []byte) bool {
	return bytes.HasPrefix(raw, vaultMagic)
}

// vaultDeriveKey derives a stream-cipher key from passphrase and salt
// using the same Argon2id parameters the host application uses for its
// in-memory SecureBuffer (3 iterations, 64 MiB, 1 thread, 32-byte key).
func vaultDeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 3, 65536, 1, 32)
}

func vaultXOR(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// EncryptKeyFile writes key to path, wrapped in a passphrase-encrypted
// vault envelope. An empty passphrase is rejected: vault files are only
// meaningful when a secret protects them.
func EncryptKeyFile(path string, key CryptoKey, passphrase string) error {
	if passphrase == "" {
		return newError(ErrInvalidConfig, "EncryptKeyFile", "refusing to create a vault file with an empty passphrase", nil)
	}
	salt := make([]byte, vaultSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return newError(ErrIO, "EncryptKeyFile", "failed to generate vault salt", err)
	}
	derived := vaultDeriveKey(passphrase, salt)
	ciphertext := vaultXOR([]byte(key.WireForm()), derived)

	out := make([]byte, 0, len(vaultMagic)+1+len(salt)+len(ciphertext))
	out = append(out, vaultMagic...)
	out = append(out, byte(len(salt)))
	out = append(out, salt...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return newError(ErrIO, "EncryptKeyFile", "failed to write vault file: "+path, err)
	}
	return nil
}

// vaultDecrypt reverses EncryptKeyFile's envelope, returning the
// plaintext wire-form key bytes.
func vaultDecrypt(raw []byte, passphrase string) ([]byte, error) {
	rest := raw[len(vaultMagic):]
	if len(rest) < 1 {
		return nil, newError(ErrVaultDecryptFailed, "vaultDecrypt", "truncated vault header", nil)
	}
	saltLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < saltLen {
		return nil, newError(ErrVaultDecryptFailed, "vaultDecrypt", "truncated vault salt", nil)
	}
	salt := rest[:saltLen]
	ciphertext := rest[saltLen:]

	derived := vaultDeriveKey(passphrase, salt)
	plain := vaultXOR(ciphertext, derived)
	if !looksLikeKeyWireForm(plain) {
		return nil, newError(ErrVaultDecryptFailed, "vaultDecrypt", "wrong passphrase or corrupt vault file", nil)
	}
	return plain, nil
}

// looksLikeKeyWireForm is a cheap sanity check that decryption used the
// right passphrase: a correctly decrypted payload always begins with a
// known key type tag, while a wrong-passphrase XOR result almost never
// will.
func looksLikeKeyWireForm(plain []byte) bool {
	return bytes.HasPrefix(plain, []byte(KeyTypeRSA1024+":")) || bytes.HasPrefix(plain, []byte(KeyTypeED25519V3+":"))
}
