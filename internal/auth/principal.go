package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the token payload the storefront backend signs at login.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the identity the server associates with the connection.
type Principal struct {
	UserID int64
	Role   string
}

// Known principal roles.
const (
	RoleCustomer = "customer"
	RoleMerchant = "merchant"
)

// PrincipalFromToken extracts the principal from a bearer token without
// verifying the signature. The client never holds the signing secret; the
// server is the authority and rejects forged tokens at handshake time. The
// decoded identity is only used locally, to pick the unread counter side.
func PrincipalFromToken(token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("empty token")
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}

	if claims.UserID == 0 {
		return Principal{}, fmt.Errorf("token carries no user id")
	}

	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}
