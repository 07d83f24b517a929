// Package auth validates the signed identity tokens issued by the external
// authentication service. The service itself is out of scope; this side only
// needs to corroborate the identity and role a connection claims.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
)

// Verifier validates an identity token and returns the embedded identity.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

type claims struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"exp"`
}

// HMACVerifier verifies tokens of the form base64url(claims).base64url(signature)
// signed with HMAC-SHA256 over the claims segment.
type HMACVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

func NewHMACVerifier(secret string, clock clockwork.Clock) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), clock: clock}
}

func (v *HMACVerifier) Verify(token string) (domain.Identity, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return domain.Identity{}, errors.AuthorizationError("malformed token")
	}

	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return domain.Identity{}, errors.AuthorizationError("malformed token signature")
	}
	if !hmac.Equal(sigBytes, v.sign(payload)) {
		return domain.Identity{}, errors.AuthorizationError("invalid token signature")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return domain.Identity{}, errors.AuthorizationError("malformed token payload")
	}

	var c claims
	if err := json.Unmarshal(payloadBytes, &c); err != nil {
		return domain.Identity{}, errors.AuthorizationError("malformed token payload")
	}

	if c.ExpiresAt > 0 && v.clock.Now().After(time.Unix(c.ExpiresAt, 0)) {
		return domain.Identity{}, errors.AuthorizationError("token expired")
	}
	if c.UserID == "" {
		return domain.Identity{}, errors.AuthorizationError("token missing user id")
	}

	return domain.Identity{
		UserID: c.UserID,
		Name:   c.Name,
		Role:   domain.ParseRole(c.Role),
	}, nil
}

// Issue creates a signed token. Used by tests and local tooling; production
// tokens come from the authentication service, which shares the secret.
func (v *HMACVerifier) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	c := claims{
		UserID: identity.UserID,
		Name:   identity.Name,
		Role:   string(identity.Role),
	}
	if ttl > 0 {
		c.ExpiresAt = v.clock.Now().Add(ttl).Unix()
	}

	payloadBytes, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	sig := base64.RawURLEncoding.EncodeToString(v.sign(payload))
	return payload + "." + sig, nil
}

func (v *HMACVerifier) sign(payload string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
