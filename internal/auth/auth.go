// internal/auth/auth.go
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Credential is a username/bcrypt-hash pair, the password-login path.
type Credential struct {
	UserID       uint32
	Username     string
	PasswordHash string
}

// PersonalAccessToken is a durable login alternative for headless clients.
// Only its SHA-256 hash is ever stored; the plaintext token is returned to
// the caller exactly once, at creation.
type PersonalAccessToken struct {
	TokenID   uint32
	UserID    uint32
	Name      string
	TokenHash string
	ExpiresAt *time.Time
}

// AccessClaims is the JWT payload minted at login and verified by a
// transport's auth middleware on every subsequent request.
type AccessClaims struct {
	UserID   uint32 `json:"user_id"`
	ClientID uint32 `json:"client_id"`
	jwt.RegisteredClaims
}

// Service issues and verifies the credentials the core's Session type is
// built from. The core never imports this package directly; transports do.
type Service struct {
	jwtSecret  []byte
	accessTTL  time.Duration
	mu         sync.RWMutex
	byUsername map[string]*Credential          // username -> credential
	pats       map[string]*PersonalAccessToken  // token hash -> PAT
	nextPATID  uint32
}

// NewService creates an auth service signing JWTs with jwtSecret and
// issuing access tokens valid for accessTTL.
func NewService(jwtSecret []byte, accessTTL time.Duration) *Service {
	return &Service{
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		byUsername: make(map[string]*Credential),
		pats:       make(map[string]*PersonalAccessToken),
	}
}

// RegisterCredential stores a bcrypt-hashed password for userID under
// username, replacing any existing credential for that username.
func (s *Service) RegisterCredential(userID uint32, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUsername[username] = &Credential{
		UserID:       userID,
		Username:     username,
		PasswordHash: string(hash),
	}
	return nil
}

// VerifyPassword checks a username/password pair, returning the matching
// user id on success.
func (s *Service) VerifyPassword(username, password string) (uint32, error) {
	s.mu.RLock()
	cred, ok := s.byUsername[strings.TrimSpace(username)]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return 0, fmt.Errorf("invalid credentials")
	}
	return cred.UserID, nil
}

// IssueAccessToken mints a short-lived bearer JWT for a user/client pair,
// handed to the caller as the AccessToken(JWT) the transport layer later
// verifies to construct a Session.
func (s *Service) IssueAccessToken(userID, clientID uint32) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID:   userID,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyAccessToken parses and validates a bearer JWT, returning its
// claims when the token is well-formed, correctly signed, and unexpired.
func (s *Service) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Method.Alg())
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token")
	}
	return claims, nil
}

// IssuePersonalAccessToken generates a random opaque token for userID,
// stores only its SHA-256 hash, and returns the plaintext token — the one
// and only time it is ever available.
func (s *Service) IssuePersonalAccessToken(userID uint32, name string, ttl *time.Duration) (plaintext string, pat *PersonalAccessToken, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	plaintext = "pat_" + hex.EncodeToString(raw)

	hash := sha256.Sum256([]byte(plaintext))
	hashHex := hex.EncodeToString(hash[:])

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}

	s.mu.Lock()
	s.nextPATID++
	pat = &PersonalAccessToken{
		TokenID:   s.nextPATID,
		UserID:    userID,
		Name:      name,
		TokenHash: hashHex,
		ExpiresAt: expiresAt,
	}
	s.pats[hashHex] = pat
	s.mu.Unlock()

	return plaintext, pat, nil
}

// VerifyPersonalAccessToken hashes the presented plaintext token and looks
// it up by hash — plaintext tokens are never compared or stored directly.
func (s *Service) VerifyPersonalAccessToken(plaintext string) (uint32, error) {
	hash := sha256.Sum256([]byte(plaintext))
	hashHex := hex.EncodeToString(hash[:])

	s.mu.RLock()
	pat, ok := s.pats[hashHex]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("invalid personal access token")
	}
	if pat.ExpiresAt != nil && time.Now().After(*pat.ExpiresAt) {
		return 0, fmt.Errorf("personal access token expired")
	}
	return pat.UserID, nil
}

// RevokePersonalAccessToken removes a PAT by id, looking it up by scanning
// the hash index — revocation never needs the plaintext token.
func (s *Service) RevokePersonalAccessToken(tokenID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, pat := range s.pats {
		if pat.TokenID == tokenID {
			delete(s.pats, hash)
			return nil
		}
	}
	return fmt.Errorf("personal access token %d not found", tokenID)
}
