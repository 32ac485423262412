package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   enums.MemberRole
	Plan   enums.PlanTier
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients. Plan is a
// snapshot taken at mint time; the authoritative tier always lives on the
// user row.
type AccessTokenClaims struct {
	UserID uuid.UUID        `json:"user_id"`
	Email  string           `json:"email"`
	Role   enums.MemberRole `json:"role"`
	Plan   enums.PlanTier   `json:"plan"`
	jwt.RegisteredClaims
}
