package rp

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"

	"github.com/go-jose/go-jose/v4"
)

// GenerateJWKS creates a fresh RSA signing key pair for a relying party that
// has no key material yet. The kid is the JWK thumbprint of the public key,
// so the private and public sets match by construction.
func GenerateJWKS() (public jose.JSONWebKeySet, private jose.JSONWebKeySet, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return jose.JSONWebKeySet{}, jose.JSONWebKeySet{}, err
	}

	privateJWK := jose.JSONWebKey{
		Key:       key,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
	thumbprint, err := privateJWK.Thumbprint(crypto.SHA256)
	if err != nil {
		return jose.JSONWebKeySet{}, jose.JSONWebKeySet{}, err
	}
	privateJWK.KeyID = base64.RawURLEncoding.EncodeToString(thumbprint)

	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{privateJWK.Public()}},
		jose.JSONWebKeySet{Keys: []jose.JSONWebKey{privateJWK}},
		nil
}
