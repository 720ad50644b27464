package domain

import "time"

// TokenTypeBearer is the token type reported in every session bundle.
const TokenTypeBearer = "Bearer"

// AccessToken is a signed access token and its absolute expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// SessionBundle is returned by login, registration and refresh. Either both
// tokens are present or the operation failed.
type SessionBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
	Account      AccountSummary
}

// Identity is the set of claims embedded in an access token.
type Identity struct {
	AccountID string
	Username  string
	Email     string
	Role      string
}

// IdentityOf extracts the token claims for an account.
func IdentityOf(a *Account) Identity {
	return Identity{
		AccountID: a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		Role:      a.RoleName(),
	}
}
