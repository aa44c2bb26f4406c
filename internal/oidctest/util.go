// Package oidctest contains shared fixtures and helpers for the relying
// party test suites.
package oidctest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/storage"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	ClientID      string = "https://relying-party.example.org/oidc/rp/"
	TrustAnchorID string = "https://trust-anchor.example.org/"
	ProviderID    string = "https://provider.example.org/"
)

func PrivateRS256JWK(_ *testing.T, keyID string) jose.JSONWebKey {
	privateKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	return jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

func PrivateES256JWK(_ *testing.T, keyID string) jose.JSONWebKey {
	privateKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	return jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     keyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
}

// Sign signs claims as a compact JWS with typ JWT.
func Sign(t *testing.T, claims map[string]any, jwk jose.JSONWebKey) string {
	return SignWithOptions(t, claims, jwk, (&jose.SignerOptions{}).WithType("JWT"))
}

func SignWithOptions(
	t *testing.T,
	claims map[string]any,
	jwk jose.JSONWebKey,
	opts *jose.SignerOptions,
) string {
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(jwk.Algorithm),
		Key:       jwk,
	}, opts.WithHeader("kid", jwk.KeyID))
	require.Nil(t, err)

	payload, err := json.Marshal(claims)
	require.Nil(t, err)

	jws, err := signer.Sign(payload)
	require.Nil(t, err)

	compact, err := jws.CompactSerialize()
	require.Nil(t, err)
	return compact
}

func SafeClaims(t *testing.T, jws string, privateJWK jose.JSONWebKey) map[string]any {
	parsedToken, err := jwt.ParseSigned(jws, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(privateJWK.Algorithm)})
	require.Nil(t, err, "invalid JWT")

	var claims map[string]any
	err = parsedToken.Claims(privateJWK.Public().Key, &claims)
	require.Nil(t, err, "could not read claims")

	return claims
}

// NewContext builds a relying party context whose outbound HTTP traffic is
// served from responses, keyed by full request URL.
func NewContext(
	t *testing.T,
	clientJWK jose.JSONWebKey,
	responses map[string]func() *http.Response,
) oidc.Context {
	config := rp.Configuration{
		ClientID:     ClientID,
		ClientName:   "Test Relying Party",
		TrustAnchors: []string{TrustAnchorID},
		IdentityProviders: map[rp.Profile][]string{
			rp.ProfileSPID: {ProviderID},
		},
		RedirectURIs:    []string{ClientID + "callback"},
		ResponseTypes:   []string{"code"},
		ApplicationType: "web",
		PublicJWKS:      jose.JSONWebKeySet{Keys: []jose.JSONWebKey{clientJWK.Public()}},
		PrivateJWKS:     jose.JSONWebKeySet{Keys: []jose.JSONWebKey{clientJWK}},
		Providers: map[rp.Profile]rp.ProviderProfile{
			rp.ProfileSPID: {ACRValues: rp.ACRSpidL2},
			rp.ProfileCIE:  {ACRValues: rp.ACRSpidL2},
		},
		FederationDefaultExpSecs: 48 * 60 * 60,
		Storage:                  storage.NewAuthnRequestManager(100),
		Logger:                   zap.NewNop(),
		HTTPClient: &http.Client{
			Transport: &RoundTripper{T: t, Responses: responses},
		},
	}
	return oidc.NewContext(context.Background(), config)
}

// RoundTripper serves canned responses keyed by request URL.
type RoundTripper struct {
	T         testing.TB
	Responses map[string]func() *http.Response
}

func (m *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if f := m.Responses[req.URL.String()]; f != nil {
		return f(), nil
	}
	return nil, errUnsupportedURL(req.URL.String())
}

type errUnsupportedURL string

func (e errUnsupportedURL) Error() string {
	return "no canned response for " + string(e)
}
