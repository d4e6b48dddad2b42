// Package auth's built-in session source (spec §4.9 option b): a small
// in-process user store with scrypt-hashed passwords, an optional TOTP
// second factor (github.com/pquerna/otp), and a signed bootstrap admin
// secret compared with bcrypt — mirroring the teacher's tokenhash.go
// bcrypt-for-long-lived-credentials idiom, applied here to the one
// long-lived credential this gateway issues itself.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"

	"github.com/relaygate/gateway/internal/session"
)

// scrypt cost parameters, matching the teacher's "strong enough to resist
// brute force, cheap enough for interactive login" comment on its own
// password-hashing path.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// User is one built-in account.
type User struct {
	UserID       string
	Username     string
	PasswordHash string // base64(salt) + ":" + base64(scrypt key)
	Roles        []string
	TOTPSecret   string // base32 secret; empty means 2FA is not enrolled
	APITokenHash string // bcrypt hash of an issued long-lived API token, empty if none issued
}

// ErrInvalidCredentials is returned for any login failure, deliberately
// undifferentiated (unknown user vs wrong password vs missing/bad TOTP all
// look the same to the caller) so the login path does not leak which part
// of the check failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

// BuiltinUserStore is the in-process user store backing auth.login when no
// external validator is configured.
type BuiltinUserStore struct {
	adminSecretHash []byte // bcrypt hash of the bootstrap admin secret
	hasher          *TokenHasher

	mu     sync.RWMutex
	byName map[string]*User
}

// NewBuiltinUserStore constructs a store with a bcrypt-hashed bootstrap
// admin secret. An empty adminSecret disables the bootstrap path.
func NewBuiltinUserStore(adminSecret string) (*BuiltinUserStore, error) {
	s := &BuiltinUserStore{byName: make(map[string]*User), hasher: NewTokenHasher()}
	if adminSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		s.adminSecretHash = hash
	}
	return s, nil
}

// HashPassword scrypt-hashes a plaintext password with a fresh random salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(key), nil
}

func verifyPassword(hash, password string) bool {
	parts := splitHash(hash)
	if parts == nil {
		return false
	}
	salt, storedKey := parts[0], parts[1]
	derivedKey, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derivedKey, storedKey) == 1
}

func splitHash(hash string) [][]byte {
	i := indexByte(hash, ':')
	if i < 0 {
		return nil
	}
	salt, err1 := base64.StdEncoding.DecodeString(hash[:i])
	key, err2 := base64.StdEncoding.DecodeString(hash[i+1:])
	if err1 != nil || err2 != nil {
		return nil
	}
	return [][]byte{salt, key}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// CreateUser registers a built-in account. Used by the bootstrap admin
// endpoint and by tests; production deployments typically point auth.validate
// at an external identity provider instead (spec §6).
func (s *BuiltinUserStore) CreateUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[u.Username] = u
}

// BootstrapAdmin verifies the provided secret against the configured
// bootstrap admin secret (bcrypt-compared) and, on success, creates or
// promotes a user to the admin role. It also mints a long-lived API token
// for the new admin (bcrypt-hashed for storage, returned once in plain
// form) so the very first admin has a way in besides the password.
func (s *BuiltinUserStore) BootstrapAdmin(secret, username, passwordHash string) (*User, string, error) {
	if s.adminSecretHash == nil {
		return nil, "", errors.New("bootstrap admin secret is not configured")
	}
	if bcrypt.CompareHashAndPassword(s.adminSecretHash, []byte(secret)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	plainToken, hashedToken, err := s.hasher.GenerateAPIToken()
	if err != nil {
		return nil, "", err
	}
	u := &User{
		UserID:       username,
		Username:     username,
		PasswordHash: passwordHash,
		Roles:        []string{"admin"},
		APITokenHash: hashedToken,
	}
	s.CreateUser(u)
	return u, plainToken, nil
}

// LoginWithAPIToken authenticates a plain API token against every enrolled
// user's stored bcrypt hash. Linear in the user count, which is acceptable
// for the small built-in store this path exists for (bootstrap/automation,
// not interactive end-user login).
func (s *BuiltinUserStore) LoginWithAPIToken(apiToken string, ttl time.Duration) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byName {
		if u.APITokenHash == "" {
			continue
		}
		if s.hasher.VerifyToken(apiToken, u.APITokenHash) {
			expires := time.Now().Add(ttl)
			return &session.Session{
				UserID:    u.UserID,
				Roles:     append([]string{}, u.Roles...),
				ExpiresAt: &expires,
			}, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// Login validates username/password (and TOTP, when enrolled) and mints a
// Session. totp is ignored when the user has no TOTPSecret enrolled;
// otherwise it is required and validated against the current 30s step,
// accepting one step of clock skew on either side.
func (s *BuiltinUserStore) Login(username, password, totpCode string, ttl time.Duration) (*session.Session, error) {
	s.mu.RLock()
	u, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !verifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if u.TOTPSecret != "" {
		if totpCode == "" || !totp.Validate(totpCode, u.TOTPSecret) {
			return nil, ErrInvalidCredentials
		}
	}
	expires := time.Now().Add(ttl)
	return &session.Session{
		UserID:    u.UserID,
		Roles:     append([]string{}, u.Roles...),
		ExpiresAt: &expires,
	}, nil
}
