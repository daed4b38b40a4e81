package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/port"
)

const (
	bcryptCost   = 12
	tokenIssuer  = "lead-router"
	apiKeyPrefix = "lr_"
)

// AuthService validates operator tokens on /v1 and API keys on the lead
// webhook.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
	keyHashes []string
	verified  port.Cache[bool] // sha256(key) -> accepted
	logger    *zap.Logger
}

// NewAuthService creates the auth service. keyHashes are bcrypt hashes of the
// accepted ingest API keys; verified caches successful comparisons.
func NewAuthService(jwtSecret string, accessTTL time.Duration, keyHashes []string, verified port.Cache[bool], logger *zap.Logger) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		keyHashes: keyHashes,
		verified:  verified,
		logger:    logger,
	}
}

// JWTClaims represents the custom claims in operator tokens.
type JWTClaims struct {
	Sub         string `json:"sub"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Role        string `json:"role"`
	Type        string `json:"type"`
	jwt.RegisteredClaims
}

// IssueToken signs an access token for an operator.
func (s *AuthService) IssueToken(subject, workspaceID, role string) (string, error) {
	if subject == "" {
		return "", &domain.ErrValidation{Field: "sub", Message: "is required"}
	}
	now := time.Now()
	claims := JWTClaims{
		Sub:         subject,
		WorkspaceID: workspaceID,
		Role:        role,
		Type:        "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateAccessToken parses and verifies an operator token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

// ValidateAPIKey checks a webhook API key against the configured hashes.
func (s *AuthService) ValidateAPIKey(key string) error {
	if key == "" {
		return &domain.ErrUnauthorized{Message: "missing api key"}
	}
	fingerprint := hashToken(key)
	if s.verified != nil {
		if ok, hit := s.verified.Get(fingerprint); hit && ok {
			return nil
		}
	}
	for _, h := range s.keyHashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			if s.verified != nil {
				s.verified.Set(fingerprint, true)
			}
			return nil
		}
	}
	s.logger.Warn("rejected ingest api key", zap.String("fingerprint", fingerprint[:12]))
	return &domain.ErrUnauthorized{Message: "invalid api key"}
}

// GenerateAPIKey returns a new random key and its bcrypt hash for
// INGEST_API_KEY_HASHES.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	key = apiKeyPrefix + hex.EncodeToString(b)
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", "", err
	}
	return key, string(h), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
