package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

const issuer = "broadcastsync"

var (
	// ErrTokenExpired indicates that the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken indicates that the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRequired indicates that a handshake token is required
	ErrTokenRequired = errors.New("token required")
)

// Claims represents handshake JWT claims. Role is the highest role the
// holder may be assigned.
type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and validates handshake tokens
type Verifier struct {
	config    config.AuthConfig
	jwtSecret []byte
}

// NewVerifier creates a verifier
func NewVerifier(cfg config.AuthConfig) *Verifier {
	if cfg.JWTExpiration <= 0 {
		cfg.JWTExpiration = 24 * time.Hour
	}
	return &Verifier{
		config:    cfg,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

// RequireToken reports whether handshakes without a token are refused
func (v *Verifier) RequireToken() bool {
	return v.config.RequireToken
}

// GenerateToken generates a new JWT token for a user
func (v *Verifier) GenerateToken(userID string, role model.Role) (string, error) {
	if !role.Valid() {
		return "", model.ErrInvalidRole
	}
	now := time.Now()

	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.config.JWTExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(v.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.jwtSecret, nil
	})

	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RoleCap resolves the role limit for a handshake. An empty token yields
// no cap unless tokens are required.
func (v *Verifier) RoleCap(tokenString string) (model.Role, error) {
	if tokenString == "" {
		if v.config.RequireToken {
			return "", ErrTokenRequired
		}
		return model.RoleSource, nil
	}
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}

// ExtractToken extracts a token from the Authorization header or the
// token query parameter.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
