package session

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var tokenSigAlgs = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.EdDSA,
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it. The backend is the authority on validity; the value is only used to
// schedule revalidation. Opaque tokens yield the zero time.
func tokenExpiry(accessToken string) time.Time {
	token, err := jwt.ParseSigned(accessToken, tokenSigAlgs)
	if err != nil {
		return time.Time{}
	}

	var claims jwt.Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}
	}

	if claims.Expiry == nil {
		return time.Time{}
	}

	return claims.Expiry.Time()
}

// expiryOf picks the best known expiry of freshly issued tokens.
func expiryOf(tokens Tokens, now time.Time) time.Time {
	switch {
	case tokens.ExpiresAt > 0:
		return time.Unix(tokens.ExpiresAt, 0)
	case tokens.ExpiresIn > 0:
		return now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	default:
		return tokenExpiry(tokens.AccessToken)
	}
}
