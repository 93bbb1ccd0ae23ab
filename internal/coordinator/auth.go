package coordinator

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims is the claim set expected on bearer tokens presented to
// admin-only coordinator endpoints (node registration, shard
// reassignment).
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenIssuer mints bearer tokens admin clients present back to
// VerifyAdminToken. Kept separate from verification so cmd/coordinator
// can issue tokens for its own admin CLI without exposing the signing
// key to request handlers.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

func (t *TokenIssuer) Issue(subject string) (string, error) {
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		},
		Role: "admin",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// VerifyAdminToken parses and validates tokenStr against secret,
// returning the claims on success. Shared by both the gin admin surface
// and the stdlib middleware guarding the coordinator's data-plane mux.
func VerifyAdminToken(secret []byte, tokenStr string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	return tokenStr, ok && tokenStr != ""
}

// RequireAdmin builds a gin middleware rejecting requests whose bearer
// token does not verify against secret and carry role "admin".
func RequireAdmin(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if _, err := VerifyAdminToken(secret, tokenStr); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// RequireAdminHTTP wraps a stdlib handler with the same bearer-token
// check, for the coordinator's existing net/http mux.
func RequireAdminHTTP(secret []byte, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := VerifyAdminToken(secret, tokenStr); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
