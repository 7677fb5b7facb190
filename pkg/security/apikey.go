package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"golang.org/x/crypto/argon2"
)

const (
	apiKeyScheme    = "kd"
	apiKeyPrefixLen = 8
	apiKeySecretLen = 32
)

var apiKeyCharset = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

var (
	// ErrInvalidHash signals a malformed argon2id hash string.
	ErrInvalidHash = errors.New("invalid argon2id hash")
	// ErrMalformedAPIKey signals a key that is not kd_<prefix>_<secret>.
	ErrMalformedAPIKey = errors.New("malformed api key")
)

// ArgonParams captures the argon2id parameters embedded into each hash string.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// APIKey is a freshly minted reseller key. Plain is shown once and never stored.
type APIKey struct {
	Plain  string
	Prefix string
	Hash   string
}

// GenerateAPIKey mints a reseller API key of the form kd_<prefix>_<secret>.
// The prefix is stored in clear for lookup; only the hash of the secret is persisted.
func GenerateAPIKey(cfg config.PasswordConfig) (APIKey, error) {
	prefix, err := randomString(apiKeyPrefixLen)
	if err != nil {
		return APIKey{}, err
	}
	secret, err := randomString(apiKeySecretLen)
	if err != nil {
		return APIKey{}, err
	}
	hash, err := HashSecret(secret, cfg)
	if err != nil {
		return APIKey{}, err
	}
	return APIKey{
		Plain:  strings.Join([]string{apiKeyScheme, prefix, secret}, "_"),
		Prefix: prefix,
		Hash:   hash,
	}, nil
}

// SplitAPIKey returns the lookup prefix and secret of a presented key.
func SplitAPIKey(key string) (prefix, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(key), "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme || len(parts[1]) != apiKeyPrefixLen || parts[2] == "" {
		return "", "", ErrMalformedAPIKey
	}
	return parts[1], parts[2], nil
}

// HashSecret returns a formatted argon2id hash for the provided secret.
func HashSecret(secret string, cfg config.PasswordConfig) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	params := paramsFromConfig(cfg)
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)

	encSalt := base64.RawStdEncoding.EncodeToString(salt)
	encHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", params.Memory, params.Time, params.Parallelism, encSalt, encHash), nil
}

// VerifySecret reports whether secret matches the encoded hash.
func VerifySecret(secret, encoded string) (bool, error) {
	params, salt, hash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

func paramsFromConfig(cfg config.PasswordConfig) ArgonParams {
	return ArgonParams{
		Memory:      clampUint32(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clampUint32(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(clampInt(cfg.ArgonParallelism, 1, 255)),
		SaltLen:     clampUint32(cfg.ArgonSaltLen, 8, 64),
		KeyLen:      clampUint32(cfg.ArgonKeyLen, 16, 64),
	}
}

func decodeHash(encoded string) (ArgonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	var params ArgonParams
	for _, token := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
		bits := 32
		if key == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
		switch key {
		case "m":
			params.Memory = uint32(v)
		case "t":
			params.Time = uint32(v)
		case "p":
			params.Parallelism = uint8(v)
		}
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(hash))
	return params, salt, hash, nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampUint32(value, min, max int) uint32 {
	return uint32(clampInt(value, min, max))
}

func randomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = apiKeyCharset[int(b)%len(apiKeyCharset)]
	}
	return string(buf), nil
}
