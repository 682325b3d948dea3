package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrUnauthenticated = errors.New("invalid or expired credential")

// Claims is what the identity subsystem signs into the credential the client
// presents on connect. Identity issuance itself lives outside this service;
// we only verify.
type Claims struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
	Operator bool   `json:"operator,omitempty"`
	jwt.StandardClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(credential string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// Sign mints a credential. Used by tests and local tooling; production
// credentials come from the identity subsystem with the shared secret.
func (v *Verifier) Sign(userID, platform string, operator bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Platform: platform,
		Operator: operator,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
