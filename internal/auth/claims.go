package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// CallingNumber is carried so the signaling layer can bind a websocket's
// presence announcement to the authenticated account without a DB read.
type Claims struct {
	jwt.RegisteredClaims

	UserID        string    `json:"user_id"`
	CallingNumber string    `json:"calling_number"`
	TokenType     TokenType `json:"token_type"`
}
