package httpserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var errUnauthorized = errors.New("unauthorized")

// Argon2Params defines parameters for Argon2id password hashing
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params are used when a plaintext admin password is hashed at
// startup.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

const argon2Prefix = "argon2id$"

// HashPassword encodes password as
// argon2id$iterations$memory$parallelism$salt$hash with raw base64 parts.
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("op=httpserver.HashPassword: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return fmt.Sprintf("%s%d$%d$%d$%s$%s", argon2Prefix,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against an encoded argon2id hash. The key
// length is taken from the stored hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil || iters == 0 || par == 0 || par > math.MaxUint8 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	actual := argon2.IDKey([]byte(password), salt, iters, mem, uint8(par), uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// AdminCredentials is the single operator account allowed on admin routes.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// NewAdminCredentials accepts either an encoded argon2id hash or a plaintext
// password, which is hashed with params.
func NewAdminCredentials(username, password string, params Argon2Params) (AdminCredentials, error) {
	if username == "" || password == "" {
		return AdminCredentials{}, fmt.Errorf("op=httpserver.NewAdminCredentials: username and password are required")
	}
	if strings.HasPrefix(password, argon2Prefix) {
		return AdminCredentials{Username: username, PasswordHash: password}, nil
	}
	hash, err := HashPassword(password, params)
	if err != nil {
		return AdminCredentials{}, err
	}
	return AdminCredentials{Username: username, PasswordHash: hash}, nil
}

// BasicAuth rejects requests without valid credentials. A zero
// AdminCredentials rejects everything.
func BasicAuth(creds AdminCredentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || creds.Username == "" ||
				subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) != 1 ||
				!VerifyPassword(pass, creds.PasswordHash) {
				LoggerFrom(r).Warn("admin auth rejected", "path", r.URL.Path, "basic_auth_present", ok)
				w.Header().Set("WWW-Authenticate", `Basic realm="exam-assistant-admin", charset="UTF-8"`)
				writeError(w, r, errUnauthorized, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return uint32(x), nil
}
