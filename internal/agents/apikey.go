package agents

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyPrefix    = "tsm_"
	keyIDLength  = 8  // bytes, hex encoded in the key
	secretLength = 32 // bytes, base64url encoded in the key
	saltLength   = 16
	hashLength   = 32

	hashScheme = "pbkdf2_sha256"

	// DefaultIterations matches the cost the fleet was provisioned with; every
	// authenticated request pays it once.
	DefaultIterations = 29000
)

var errMalformedHash = errors.New("malformed api key hash")

// GenerateAPIKey returns a new plaintext key and its public lookup id. The key has the form
// tsm_<keyid>_<secret>.
func GenerateAPIKey() (key string, keyID string, err error) {
	idBytes := make([]byte, keyIDLength)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate key id: %w", err)
	}
	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate key secret: %w", err)
	}

	keyID = hex.EncodeToString(idBytes)
	key = keyPrefix + keyID + "_" + base64.RawURLEncoding.EncodeToString(secret)
	return key, keyID, nil
}

// ParseAPIKeyID extracts the lookup id from a key without validating the secret part.
func ParseAPIKeyID(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", false
	}
	keyID, secret, ok := strings.Cut(rest, "_")
	if !ok || len(keyID) != 2*keyIDLength || secret == "" {
		return "", false
	}
	if _, err := hex.DecodeString(keyID); err != nil {
		return "", false
	}
	return keyID, true
}

// HashAPIKey derives a salted PBKDF2-HMAC-SHA256 hash encoded as
// pbkdf2_sha256$<iterations>$<salt>$<hash>.
func HashAPIKey(key string, iterations int) (string, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := pbkdf2.Key([]byte(key), salt, iterations, hashLength, sha256.New)
	return strings.Join([]string{
		hashScheme,
		strconv.Itoa(iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$"), nil
}

// CheckAPIKey compares a plaintext key with an encoded hash in constant time.
func CheckAPIKey(key, encoded string) bool {
	iterations, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(key), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeHash(encoded string) (int, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return 0, nil, nil, errMalformedHash
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, errMalformedHash
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(sum) == 0 {
		return 0, nil, nil, errMalformedHash
	}
	return iterations, salt, sum, nil
}
