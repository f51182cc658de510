package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	random "github.com/mazen160/go-random"
)

type Options struct {
	// Secret signs session tokens. When empty a random secret is
	// generated at boot, which invalidates tokens across restarts.
	Secret   string
	TokenTTL time.Duration
}

type Service struct {
	secret   []byte
	tokenTTL time.Duration
}

type Claims struct {
	jwt.RegisteredClaims
}

func NewService(options Options) Service {
	secret := []byte(options.Secret)
	if len(secret) == 0 {
		nonce := make([]byte, 32)
		_, err := rand.Read(nonce)
		if err != nil {
			panic(err)
		}
		secret = []byte(hex.EncodeToString(nonce))
		slog.Warn("no jwt secret configured, generated an ephemeral one; sessions will not survive restarts")
	}

	ttl := options.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour * 24
	}
	return Service{secret: secret, tokenTTL: ttl}
}

// NormalizeStudentId lowercases and trims a student id. Token
// subjects, session keys and cache rows all use the normalized form so
// lookups agree on casing.
func NormalizeStudentId(id string) string {
	return strings.Trim(strings.ToLower(id), " \t\n")
}

// IssueToken mints a session token for a student id that has already
// been verified against the portal.
func (s Service) IssueToken(studentId string) (string, error) {
	jti, err := random.String(8)
	if err != nil {
		return "", err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   NormalizeStudentId(studentId),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString(s.secret)
}

// VerifyToken validates a session token and returns the student id it
// was issued for.
func (s Service) VerifyToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}
