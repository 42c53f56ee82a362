package models

import "github.com/golang-jwt/jwt/v5"

// SupabaseClaims are the claims of a Supabase access token. Sub is the user
// id and doubles as the tenant id.
type SupabaseClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	Sub         string `json:"sub"`
	Role        string `json:"role"`
	AppMetadata struct {
		Provider string `json:"provider"`
	} `json:"app_metadata"`
}
