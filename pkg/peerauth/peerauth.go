// Package peerauth lets cluster members identify themselves to each
// other over the same public HTTP surface (C1) that ordinary clients
// use. A node presenting a valid peer token is exempt from the per-IP
// rate limiter (C1): sync traffic (C10) calls the same GET endpoints as
// any client, and without this it would compete for the same burst
// budget as the public the server is also exposed to.
package peerauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the signing peer and nothing else — there are no
// roles or scopes to carry, just cluster membership.
type Claims struct {
	jwt.RegisteredClaims
	PeerName string `json:"peer_name"`
}

// Signer mints short-lived peer tokens. Every node in a cluster shares
// one secret (CLUSTER_SHARED_SECRET); there is no per-peer key material.
type Signer struct {
	secret []byte
	issuer string
}

func NewSigner(secret, issuer string) *Signer {
	return &Signer{secret: []byte(secret), issuer: issuer}
}

// Token returns a signed JWT asserting peerName, valid for ttl.
func (s *Signer) Token(peerName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   peerName,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PeerName: peerName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verifier checks tokens minted by a Signer holding the same secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString, returning the asserted peer
// name on success.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("peerauth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	return claims.PeerName, nil
}
