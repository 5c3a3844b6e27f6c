// Package vault seals upstream locations at rest and the stream references
// handed to clients. Both use XChaCha20-Poly1305 with sub-keys derived from
// one master key, so a wrong key or a swapped IV fails authentication.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/url"

	"github.com/RoyXiang/streamgate/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	KeyCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	infoRecords  = "streamgate/records"
	infoRefs     = "streamgate/stream-refs"
	infoSessions = "streamgate/sessions"
)

var (
	ErrDecryption = common.NewError(common.KindDecryption, "credential record cannot be decrypted", nil)
	ErrMalformed  = common.NewError(common.KindBadRequest, "malformed stream reference", nil)
)

type Vault struct {
	records cipher.AEAD
	refs    cipher.AEAD
	signing []byte
}

// New derives the sealing keys from a hex-encoded master key of at least 32 bytes.
func New(masterHex string) (*Vault, error) {
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("vault: master key is not hex: %w", err)
	}
	if len(master) < chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault: master key must be at least %d bytes", chacha20poly1305.KeySize)
	}

	recordKey, err := derive(master, infoRecords, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	refKey, err := derive(master, infoRefs, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	signing, err := derive(master, infoSessions, 32)
	if err != nil {
		return nil, err
	}

	records, err := chacha20poly1305.NewX(recordKey)
	if err != nil {
		return nil, err
	}
	refs, err := chacha20poly1305.NewX(refKey)
	if err != nil {
		return nil, err
	}
	return &Vault{records: records, refs: refs, signing: signing}, nil
}

func derive(master []byte, info string, n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("vault: derive %s: %w", info, err)
	}
	return key, nil
}

// SigningKey is the derived secret used for session tokens when no explicit
// secret is configured.
func (v *Vault) SigningKey() []byte {
	return v.signing
}

// Encrypt seals a location for storage. The returned iv is the per-record nonce.
func (v *Vault) Encrypt(location string) (ciphertext, iv string, err error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err = rand.Read(nonce); err != nil {
		return "", "", err
	}
	sealed := v.records.Seal(nil, nonce, []byte(location), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(nonce), nil
}

func (v *Vault) Decrypt(ciphertext, iv string) (string, error) {
	nonce, err := hex.DecodeString(iv)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", ErrDecryption
	}
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	plain, err := v.records.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// SealRef turns an absolute upstream URL into an opaque path segment that only
// opens for the same catalog.
func (v *Vault) SealRef(catalogID int64, target string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(target)+v.refs.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.refs.Seal(nonce, nonce, []byte(target), catalogAAD(catalogID))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (v *Vault) OpenRef(catalogID int64, ref string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX+v.refs.Overhead() {
		return "", ErrMalformed
	}
	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := v.refs.Open(nil, nonce, sealed, catalogAAD(catalogID))
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}

func catalogAAD(catalogID int64) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, uint64(catalogID))
	return aad
}

// GenerateKeyCode returns a random access key code of n characters.
func GenerateKeyCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("vault: key length must be positive")
	}
	max := big.NewInt(int64(len(KeyCodeAlphabet)))
	code := make([]byte, n)
	for i := range code {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = KeyCodeAlphabet[idx.Int64()]
	}
	return string(code), nil
}

// Redact renders a URL with its host only, for logs.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[unparseable]"
	}
	return u.Scheme + "://" + u.Hostname() + "/…"
}
