package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/piratar/members-sync/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ClientID   uuid.UUID
	ClientName string
	Role       enums.ClientRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to sync clients.
type AccessTokenClaims struct {
	ClientID   uuid.UUID        `json:"client_id"`
	ClientName string           `json:"client_name,omitempty"`
	Role       enums.ClientRole `json:"role"`
	jwt.RegisteredClaims
}
