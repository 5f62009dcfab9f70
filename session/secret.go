package session

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var errMalformedHash = errors.New("malformed secret hash")

// Upper bounds on argon2id parameters read from a stored hash
const (
	maxArgonMemoryKiB   = 256 * 1024
	maxArgonIterations  = 16
	maxArgonParallelism = 16
)

// VerifySecret check a plaintext secret against its stored form.
//
// bcrypt hashes and argon2id PHC strings are recognized by their prefix; any other
// value is a legacy plaintext secret. Verification errors count as a mismatch.
func VerifySecret(stored, secret string) (match bool) {
	defer func() {
		if recover() != nil {
			match = false
		}
	}()
	switch {
	case isBcrypt(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	case strings.HasPrefix(stored, "$argon2id$"):
		ok, err := verifyArgon2id(stored, secret)
		return err == nil && ok
	default:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
	}
}

func isBcrypt(stored string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(stored, prefix) {
			return true
		}
	}
	return false
}

// verifyArgon2id check a secret against $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>
func verifyArgon2id(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false, errMalformedHash
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(
		parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism,
	); err != nil {
		return false, errMalformedHash
	}
	if memory == 0 || memory > maxArgonMemoryKiB ||
		iterations == 0 || iterations > maxArgonIterations ||
		parallelism == 0 || parallelism > maxArgonParallelism {
		return false, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errMalformedHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, errMalformedHash
	}
	key := argon2.IDKey(
		[]byte(secret), salt, iterations, memory, parallelism, uint32(len(expected)),
	)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
