package authn

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/federation"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/oidctest"
	"github.com/italia/spid-cie-oidc-go/internal/storage"
	"github.com/italia/spid-cie-oidc-go/internal/timeutil"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setUp wires a context whose fake network serves a complete trust chain for
// the test provider.
func setUp(t *testing.T) oidc.Context {
	t.Helper()

	clientJWK := oidctest.PrivateRS256JWK(t, "client_key")
	providerJWK := oidctest.PrivateRS256JWK(t, "provider_key")
	anchorJWK := oidctest.PrivateRS256JWK(t, "anchor_key")

	statementResponse := func(claims map[string]any, jwk jose.JSONWebKey) func() *http.Response {
		return func() *http.Response {
			opts := (&jose.SignerOptions{}).WithType("entity-statement+jwt")
			signed := oidctest.SignWithOptions(t, claims, jwk, opts)
			return &http.Response{
				StatusCode: http.StatusOK,
				Header: http.Header{
					"Content-Type": []string{"application/entity-statement+jwt"},
				},
				Body: io.NopCloser(bytes.NewBufferString(signed)),
			}
		}
	}

	now := timeutil.TimestampNow()
	responses := map[string]func() *http.Response{
		oidctest.ClientID + ".well-known/openid-federation": statementResponse(map[string]any{
			"iss":  oidctest.ClientID,
			"sub":  oidctest.ClientID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{clientJWK.Public()}},
			"metadata": map[string]any{
				"openid_relying_party": map[string]any{"client_id": oidctest.ClientID},
			},
			"authority_hints": []string{oidctest.TrustAnchorID},
		}, clientJWK),
		oidctest.ProviderID + ".well-known/openid-federation": statementResponse(map[string]any{
			"iss":  oidctest.ProviderID,
			"sub":  oidctest.ProviderID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{providerJWK.Public()}},
			"metadata": map[string]any{
				"openid_provider": map[string]any{
					"authorization_endpoint": oidctest.ProviderID + "authorization",
					"token_endpoint":         oidctest.ProviderID + "token",
					"userinfo_endpoint":      oidctest.ProviderID + "userinfo",
					"revocation_endpoint":    oidctest.ProviderID + "revocation",
					"jwks":                   jose.JSONWebKeySet{Keys: []jose.JSONWebKey{providerJWK.Public()}},
				},
			},
			"authority_hints": []string{oidctest.TrustAnchorID},
		}, providerJWK),
		oidctest.TrustAnchorID + ".well-known/openid-federation": statementResponse(map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.TrustAnchorID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{anchorJWK.Public()}},
			"metadata": map[string]any{
				"federation_entity": map[string]any{
					"federation_fetch_endpoint": oidctest.TrustAnchorID + "fetch",
				},
			},
		}, anchorJWK),
		oidctest.TrustAnchorID + "fetch?sub=" + url.QueryEscape(oidctest.ClientID): statementResponse(map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.ClientID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{clientJWK.Public()}},
		}, anchorJWK),
		oidctest.TrustAnchorID + "fetch?sub=" + url.QueryEscape(oidctest.ProviderID): statementResponse(map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.ProviderID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{providerJWK.Public()}},
		}, anchorJWK),
	}

	return oidctest.NewContext(t, clientJWK, responses)
}

func TestAuthorizationURL(t *testing.T) {
	// Given.
	ctx := setUp(t)
	resolver := federation.NewResolver()

	// When.
	redirectURL, err := AuthorizationURL(ctx, resolver, oidctest.ProviderID)

	// Then.
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(redirectURL, oidctest.ProviderID+"authorization?"))

	parsed, err := url.Parse(redirectURL)
	require.Nil(t, err)
	params := parsed.Query()

	assert.Equal(t, "openid", params.Get("scope"))
	assert.Equal(t, "code", params.Get("response_type"))
	assert.Equal(t, oidctest.ClientID, params.Get("client_id"))
	assert.Equal(t, oidctest.ClientID+"callback", params.Get("redirect_uri"))
	assert.Equal(t, string(rp.ACRSpidL2), params.Get("acr_values"))
	assert.Equal(t, "consent login", params.Get("prompt"))
	assert.Equal(t, "S256", params.Get("code_challenge_method"))

	// State and nonce are 32 random bytes hex encoded.
	for _, param := range []string{"state", "nonce"} {
		value := params.Get(param)
		assert.Len(t, value, 64)
		_, err := hex.DecodeString(value)
		assert.Nil(t, err, "%s must be hex encoded", param)
	}

	// The signed request object verifies with the relying party keys and
	// repeats the plaintext parameters.
	claims := oidctest.SafeClaims(t, params.Get("request"), ctx.Config.PrivateJWKS.Keys[0])
	assert.Equal(t, params.Get("state"), claims["state"])
	assert.Equal(t, params.Get("nonce"), claims["nonce"])
	assert.Equal(t, params.Get("code_challenge"), claims["code_challenge"])
	assert.Equal(t, oidctest.ClientID, claims["iss"])
	assert.Equal(t, oidctest.ClientID, claims["sub"])
	assert.Contains(t, claims["aud"], oidctest.ProviderID)
}

func TestAuthorizationURL_PersistsPendingRequest(t *testing.T) {
	// Given.
	ctx := setUp(t)
	resolver := federation.NewResolver()

	// When.
	redirectURL, err := AuthorizationURL(ctx, resolver, oidctest.ProviderID)

	// Then the pending request holds the verifier matching the challenge and
	// the provider endpoints pinned for the callback.
	require.Nil(t, err)
	parsed, err := url.Parse(redirectURL)
	require.Nil(t, err)
	params := parsed.Query()

	manager := ctx.Config.Storage.(*storage.AuthnRequestManager)
	require.Len(t, manager.Requests, 1)
	pending := manager.Requests[params.Get("state")]

	digest := sha256.Sum256([]byte(pending.CodeVerifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(digest[:]), params.Get("code_challenge"))
	assert.Equal(t, oidctest.ProviderID+"token", pending.TokenEndpoint)
	assert.Equal(t, oidctest.ProviderID+"userinfo", pending.UserInfoEndpoint)
	assert.Equal(t, oidctest.ProviderID+"revocation", pending.RevocationEndpoint)
	assert.NotEmpty(t, pending.ProviderJWKS.Keys)
}

func TestAuthorizationURL_UnknownProvider(t *testing.T) {
	// Given.
	ctx := setUp(t)
	resolver := federation.NewResolver()

	// When.
	_, err := AuthorizationURL(ctx, resolver, "https://unknown.example.org/")

	// Then.
	require.NotNil(t, err)
	assert.Equal(t, rp.ErrorCodeInvalidProvider, rp.CodeOf(err))
}

func TestAuthorizationURL_NotAURL(t *testing.T) {
	// Given.
	ctx := setUp(t)
	resolver := federation.NewResolver()

	// When.
	_, err := AuthorizationURL(ctx, resolver, "not a url")

	// Then.
	require.NotNil(t, err)
	assert.Equal(t, rp.ErrorCodeInvalidProvider, rp.CodeOf(err))
}

func TestAuthorizationURL_UntrustedProvider(t *testing.T) {
	// Given a configured provider whose trust chain cannot be resolved.
	ctx := setUp(t)
	delete(ctx.Config.HTTPClient.Transport.(*oidctest.RoundTripper).Responses,
		oidctest.ProviderID+".well-known/openid-federation")
	resolver := federation.NewResolver()

	// When.
	_, err := AuthorizationURL(ctx, resolver, oidctest.ProviderID)

	// Then.
	require.NotNil(t, err)
	assert.Equal(t, rp.ErrorCodeProviderUntrusted, rp.CodeOf(err))
}
