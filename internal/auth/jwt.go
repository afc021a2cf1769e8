// Package auth issues and checks session and anti-forgery tokens and
// hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"
)

// Token audiences. A CSRF token can never pass as a session and vice versa.
const (
	AudienceSession = "session"
	AudienceCSRF    = "csrf"
)

// ErrCSRFMismatch is returned when an anti-forgery token belongs to a
// different session.
var ErrCSRFMismatch = errors.New("csrf token does not match session")

// JWTManager signs and validates the HS256 tokens used by the API. It
// holds every verification key by kid so tokens signed before a key
// rotation stay valid until they expire.
type JWTManager struct {
	keys      map[string][]byte // kid -> HMAC secret
	activeKid string            // kid used for new tokens ("" for a single unnamed key)
	duration  time.Duration     // how long sessions are valid (e.g. 24 hours)
}

// Claims is the session payload.
type Claims struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"`
	Role                 string `json:"role"`
	jwt.RegisteredClaims        // ID (jti) names the session; also ExpiresAt, IssuedAt
}

// NewJWTManager returns a manager with one unnamed key.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{"": secretKey}, "", duration)
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies with any key in keys.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{
		keys:      make(map[string][]byte, len(keys)),
		activeKid: activeKid,
		duration:  duration,
	}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	return m
}

// Duration is the session lifetime.
func (m *JWTManager) Duration() time.Duration { return m.duration }

// GenerateToken issues a session token for a user. The returned claims
// carry the session id (jti) that CSRF tokens are bound to.
func (m *JWTManager) GenerateToken(userID, email, role string) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  normalize.Email(email), // claims always carry the canonical address
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Audience:  jwt.ClaimStrings{AudienceSession},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// VerifyToken parses and validates a session token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims, AudienceSession); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GenerateCSRF issues an anti-forgery token bound to session (a session
// claims set from VerifyToken). It expires with the session.
func (m *JWTManager) GenerateCSRF(session *Claims) (string, error) {
	claims := &jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   session.ID, // binds the token to this one session
		Audience:  jwt.ClaimStrings{AudienceCSRF},
		ExpiresAt: session.ExpiresAt,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return m.sign(claims)
}

// VerifyCSRF checks tokenString is a live anti-forgery token for session.
func (m *JWTManager) VerifyCSRF(tokenString string, session *Claims) error {
	claims := &jwt.RegisteredClaims{}
	if err := m.parse(tokenString, claims, AudienceCSRF); err != nil {
		return err
	}
	if claims.Subject != session.ID {
		return ErrCSRFMismatch
	}
	return nil
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	key, ok := m.keys[m.activeKid]
	if !ok {
		return "", fmt.Errorf("no signing key for kid %q", m.activeKid)
	}
	// HS256 (HMAC with SHA-256); kid tells verifiers which secret to use
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}
	return token.SignedString(key)
}

func (m *JWTManager) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Security check: only HMAC, never an attacker-chosen algorithm
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		key, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return key, nil
	},
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	// Default cost balances security and speed
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	// Returns nil on match; the comparison is constant-time
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
