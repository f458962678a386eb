package masking

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/GrupoUS/neonpro-sub010/internal/platform/redis"
	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
)

// TokenVault maps opaque tokens to sealed original values. A value always
// maps to the same token within a vault, yet the token carries nothing
// derivable from the value; the vault is the only way back to the plaintext.
type TokenVault interface {
	Tokenize(ctx context.Context, value string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
}

const tokenPrefix = "tok_"

// sealer encrypts vault values with XChaCha20-Poly1305, nonce prepended.
type sealer struct {
	key []byte
}

func newSealer(key string) (*sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token vault key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &sealer{key: []byte(key)}, nil
}

func (s *sealer) seal(value string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("create vault cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate vault nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// digest is a keyed fingerprint of a plaintext value, used to index tokens
// so repeated tokenization of the same value reuses the same token. Keyed,
// so the index never leaks an unkeyed hash of the plaintext.
func (s *sealer) digest(value string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *sealer) open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode vault value: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("create vault cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("vault value too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open vault value: %w", err)
	}
	return string(plaintext), nil
}

func newToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(raw), nil
}

// MemoryVault keeps sealed values in process memory. For tests and
// single-node development.
type MemoryVault struct {
	mu     sync.RWMutex
	sealer *sealer
	values map[string]string
	// tokens indexes existing tokens by keyed value digest, so the same
	// value always tokenizes to the same token.
	tokens map[string]string
}

func NewMemoryVault(key string) (*MemoryVault, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &MemoryVault{
		sealer: s,
		values: make(map[string]string),
		tokens: make(map[string]string),
	}, nil
}

func (v *MemoryVault) Tokenize(_ context.Context, value string) (string, error) {
	digest := v.sealer.digest(value)

	v.mu.Lock()
	defer v.mu.Unlock()
	if token, ok := v.tokens[digest]; ok {
		return token, nil
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	sealed, err := v.sealer.seal(value)
	if err != nil {
		return "", err
	}
	v.values[token] = sealed
	v.tokens[digest] = token
	return token, nil
}

func (v *MemoryVault) Resolve(_ context.Context, token string) (string, error) {
	v.mu.RLock()
	sealed, ok := v.values[token]
	v.mu.RUnlock()
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return v.sealer.open(sealed)
}

// RedisVault keeps sealed values in Redis so tokens resolve across instances.
type RedisVault struct {
	client *redis.Client
	sealer *sealer
	ttl    time.Duration
}

func NewRedisVault(client *redis.Client, key string, ttl time.Duration) (*RedisVault, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &RedisVault{client: client, sealer: s, ttl: ttl}, nil
}

func vaultKey(token string) string {
	return "vault:" + token
}

func indexKey(digest string) string {
	return "vault:idx:" + digest
}

func (v *RedisVault) Tokenize(ctx context.Context, value string) (string, error) {
	digest := v.sealer.digest(value)
	if token, err := v.client.Get(ctx, indexKey(digest)).Result(); err == nil {
		return token, nil
	} else if !errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("load vault index: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}
	sealed, err := v.sealer.seal(value)
	if err != nil {
		return "", err
	}
	if err := v.client.Set(ctx, vaultKey(token), sealed, v.ttl).Err(); err != nil {
		return "", fmt.Errorf("store vault value: %w", err)
	}
	// SetNX keeps one token per value under concurrent writers; on a lost
	// race, reuse the winner's token.
	claimed, err := v.client.SetNX(ctx, indexKey(digest), token, v.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("store vault index: %w", err)
	}
	if !claimed {
		existing, err := v.client.Get(ctx, indexKey(digest)).Result()
		if err != nil {
			return "", fmt.Errorf("load vault index: %w", err)
		}
		return existing, nil
	}
	return token, nil
}

func (v *RedisVault) Resolve(ctx context.Context, token string) (string, error) {
	sealed, err := v.client.Get(ctx, vaultKey(token)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("load vault value: %w", err)
	}
	return v.sealer.open(sealed)
}
