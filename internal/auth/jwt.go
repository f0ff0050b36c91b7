package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the role claim.
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
	RoleServiceRole   = "service_role"
)

const issuer = "boardsync"

// Claims holds the JWT token payload. Subject is the user id for
// authenticated tokens and empty for role keys.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// Identity is the verified caller behind a token.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// IsUser reports whether the identity names a concrete user.
func (i Identity) IsUser() bool {
	return i.Role == RoleAuthenticated && i.UserID != uuid.Nil
}

var (
	// ErrInvalidToken is returned when a JWT cannot be parsed, fails its
	// signature check or has expired.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	// ErrUnknownRole is returned for tokens whose role claim is not recognised.
	ErrUnknownRole = errors.New("auth: unknown role")
)

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses token and returns the identity it carries. Authenticated
// tokens must name a user in sub.
func (v *Verifier) Verify(_ context.Context, token string) (Identity, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("auth.Verifier.Verify: %w", ErrInvalidToken)
	}

	switch claims.Role {
	case RoleAnon, RoleServiceRole:
		return Identity{Role: claims.Role}, nil
	case RoleAuthenticated:
		userID, err := uuid.Parse(claims.Subject)
		if err != nil || userID == uuid.Nil {
			return Identity{}, fmt.Errorf("auth.Verifier.Verify: subject: %w", ErrInvalidToken)
		}
		return Identity{UserID: userID, Role: claims.Role}, nil
	default:
		return Identity{}, fmt.Errorf("auth.Verifier.Verify: %q: %w", claims.Role, ErrUnknownRole)
	}
}

// IssueToken creates a signed token for role. subject may be empty for the
// anon and service_role keys.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// IssueUserToken creates an authenticated token for userID.
func IssueUserToken(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	return IssueToken(secret, userID.String(), RoleAuthenticated, ttl)
}
